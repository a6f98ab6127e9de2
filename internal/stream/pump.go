package stream

import (
	"context"
	"fmt"

	"chat-studio-core/internal/model"
	"chat-studio-core/pkg/logger"
)

// Pump 从传输层的通道读取分片并驱动 Assembler，直到流结束。
//
// 传输层结束时必须关闭 chunks。errs 只在 chunks 关闭后读取，
// 已缓冲的分片总是先于错误被应用。ctx 结束时取消 Assembler。
// 循环中的 panic 会被转换为 Fail，不会让流静默终止。
func Pump(ctx context.Context, chunks <-chan model.StreamChunk, errs <-chan error, a *Assembler) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("stream %s panicked: %v", a.Key(), r)
			a.Fail(fmt.Errorf("stream panic: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.Cancel()
			return

		case chunk, ok := <-chunks:
			if !ok {
				finish(ctx, errs, a)
				return
			}

			decoded := DecodeChunk(chunk)
			switch decoded.Kind {
			case KindDelta:
				a.Delta(decoded.Text)
			case KindDone:
				a.Done(decoded.Text)
				return
			case KindError:
				logger.Warnf("stream %s received error event: %v", a.Key(), decoded.Err)
				a.Fail(decoded.Err)
				return
			}
		}
	}
}

// finish 在分片通道关闭后检查是否还有未读的错误
func finish(ctx context.Context, errs <-chan error, a *Assembler) {
	if errs == nil {
		a.Done("")
		return
	}

	select {
	case err, ok := <-errs:
		if ok && err != nil {
			logger.Warnf("stream %s failed: %v", a.Key(), err)
			a.Fail(err)
			return
		}
		a.Done("")
	case <-ctx.Done():
		a.Cancel()
	}
}
