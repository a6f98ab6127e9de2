package stream

import (
	"bufio"
	"io"
	"strings"

	"chat-studio-core/internal/model"
)

const maxLineSize = 1024 * 1024

// SSEReader 把 text/event-stream 拆分为 StreamChunk。
//
// 负载按行分隔：每个 data 行（或没有前缀的行）是一个独立的分片，
// event 行作用于其后的数据行，直到下一个空行或 event 行。
type SSEReader struct {
	scanner *bufio.Scanner
	event   string
	// event 行之后还没有出现数据行
	bare bool
	err  error
}

// NewSSEReader 创建 SSEReader
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &SSEReader{scanner: scanner}
}

// Next 返回下一个分片。流结束时返回 io.EOF。
//
// 只有 event 行没有数据的事件在事件结束时以空 Data 返回。
func (r *SSEReader) Next() (model.StreamChunk, error) {
	if r.err != nil {
		return model.StreamChunk{}, r.err
	}

	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")

		switch {
		case line == "":
			if chunk, ok := r.endEvent(); ok {
				return chunk, nil
			}
		case strings.HasPrefix(line, ":"):
			// 注释行
		case strings.HasPrefix(line, "event:"):
			prev, ok := r.endEvent()
			r.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			r.bare = true
			if ok {
				return prev, nil
			}
		case strings.HasPrefix(line, "data:"):
			return r.dataChunk(trimField(strings.TrimPrefix(line, "data:"))), nil
		case strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
		default:
			return r.dataChunk(line), nil
		}
	}

	r.err = r.scanner.Err()
	if r.err == nil {
		r.err = io.EOF
	}
	if chunk, ok := r.endEvent(); ok {
		return chunk, nil
	}
	return model.StreamChunk{}, r.err
}

func (r *SSEReader) dataChunk(data string) model.StreamChunk {
	r.bare = false
	return model.StreamChunk{Event: r.event, Data: data}
}

// endEvent 结束当前事件，没有数据行的事件作为空分片返回
func (r *SSEReader) endEvent() (model.StreamChunk, bool) {
	event, bare := r.event, r.bare
	r.event = ""
	r.bare = false
	if !bare {
		return model.StreamChunk{}, false
	}
	return model.StreamChunk{Event: event}, true
}

// trimField 去掉字段值开头的单个空格
func trimField(v string) string {
	return strings.TrimPrefix(v, " ")
}
