package stream

import (
	"context"
	"errors"
	"sync"

	"chat-studio-core/internal/convert"
	"chat-studio-core/internal/model"
)

// ErrStreamClosed 在已结束的流上继续操作
var ErrStreamClosed = errors.New("stream already finished")

// Sink 接收助手消息的更新，conversation.Store 实现了该接口。
// Sink 在 Assembler 持锁期间被调用，不能反过来调用同一个 Assembler。
type Sink interface {
	UpdateByID(key string, update func(model.Message) model.Message) bool
}

type action int

const (
	actionDelta action = iota
	actionDone
	actionFail
	actionCancel
)

type event struct {
	action action
	text   string
	err    error
}

// Assembler 把一次生成的增量拼装到会话中的一条助手消息上。
//
// 状态只通过 apply 迁移：pending -> streaming -> success | error | aborted，
// 终止状态不会再离开。对外可见的内容始终是完整累积值。
type Assembler struct {
	mu     sync.Mutex
	key    string
	sink   Sink
	status model.Status
	acc    string
	err    error
	active bool
	abort  context.CancelFunc
	done   chan struct{}
}

// Open 为 key 对应的消息创建处于 pending 状态的 Assembler
func Open(key string, sink Sink) *Assembler {
	return &Assembler{
		key:    key,
		sink:   sink,
		status: model.StatusPending,
		active: true,
		done:   make(chan struct{}),
	}
}

// Key 对应的消息 key
func (a *Assembler) Key() string {
	return a.key
}

// SetAbort 绑定取消底层传输的函数；若已被取消则立即调用
func (a *Assembler) SetAbort(cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		if cancel != nil {
			cancel()
		}
		return
	}
	a.abort = cancel
}

// Delta 追加一个增量
func (a *Assembler) Delta(text string) {
	a.apply(event{action: actionDelta, text: text})
}

// Done 正常结束。累积值为空时使用 finalText 作为最终内容
func (a *Assembler) Done(finalText string) {
	a.apply(event{action: actionDone, text: finalText})
}

// Fail 以错误结束，保留已累积的内容
func (a *Assembler) Fail(err error) {
	a.apply(event{action: actionFail, err: err})
}

// Cancel 中止流并冻结当前内容。返回后不会再有任何增量写入 Sink
func (a *Assembler) Cancel() {
	a.apply(event{action: actionCancel})
}

// Snapshot 当前完整累积值
func (a *Assembler) Snapshot() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acc
}

// Status 当前状态
func (a *Assembler) Status() model.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Err 以 error 状态结束时的错误
func (a *Assembler) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Finished 进入终止状态后关闭
func (a *Assembler) Finished() <-chan struct{} {
	return a.done
}

// Wait 等待流结束或 ctx 结束
func (a *Assembler) Wait(ctx context.Context) (model.Status, error) {
	select {
	case <-a.done:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.status, a.err
	case <-ctx.Done():
		return a.Status(), ctx.Err()
	}
}

func (a *Assembler) apply(ev event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return
	}

	switch ev.action {
	case actionDelta:
		if ev.text == "" && a.status == model.StatusStreaming {
			return
		}
		a.status = model.StatusStreaming
		a.acc += ev.text
	case actionDone:
		if a.acc == "" && ev.text != "" {
			a.acc = ev.text
		}
		a.finish(model.StatusSuccess)
	case actionFail:
		a.err = ev.err
		a.finish(model.StatusError)
	case actionCancel:
		if a.abort != nil {
			a.abort()
		}
		a.finish(model.StatusAborted)
	}

	a.publish()
}

// finish 进入终止状态，调用方持有锁
func (a *Assembler) finish(status model.Status) {
	a.status = status
	a.active = false
	close(a.done)
}

// publish 把当前累积值写入 Sink，调用方持有锁
func (a *Assembler) publish() {
	if a.sink == nil {
		return
	}
	acc, status := a.acc, a.status
	a.sink.UpdateByID(a.key, func(msg model.Message) model.Message {
		msg = convert.SplitStreamed(msg, acc)
		msg.Status = status
		return msg
	})
}
