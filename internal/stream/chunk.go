package stream

import (
	"strings"

	"chat-studio-core/internal/model"

	"github.com/tidwall/gjson"
)

// DoneMarker 流结束标记
const DoneMarker = "[DONE]"

// Kind 解码后的分片类型
type Kind int

const (
	KindSkip Kind = iota
	KindDelta
	KindDone
	KindError
)

// Decoded 传输层分片解码结果，Kind 决定哪个字段有效
type Decoded struct {
	Kind Kind
	Text string
	Err  error
}

// ChunkError 服务端通过 error 事件下发的错误
type ChunkError struct {
	Msg string
}

func (e *ChunkError) Error() string {
	return "stream error: " + e.Msg
}

// DecodeChunk 把一个 SSE 事件归一化为增量、结束、错误或跳过。
//
// JSON 对象取 content 字段，其次 text 字段；没有这两个字段的合法 JSON 被跳过。
// 无法解析为 JSON 的负载按去掉首尾空白后的原文追加。
// 空负载和 [DONE] 不会追加任何内容。
func DecodeChunk(chunk model.StreamChunk) Decoded {
	payload := strings.TrimSpace(chunk.Data)

	switch chunk.Event {
	case "heartbeat", "ping", "status":
		return Decoded{Kind: KindSkip}
	case "error":
		return Decoded{Kind: KindError, Err: &ChunkError{Msg: errorMessage(payload)}}
	case "done", "end":
		if payload == DoneMarker {
			return Decoded{Kind: KindDone}
		}
		return Decoded{Kind: KindDone, Text: payloadText(payload)}
	}

	if payload == "" {
		return Decoded{Kind: KindSkip}
	}
	if payload == DoneMarker {
		return Decoded{Kind: KindDone}
	}

	if !gjson.Valid(payload) {
		return Decoded{Kind: KindDelta, Text: payload}
	}

	text := payloadText(payload)
	if text == "" {
		return Decoded{Kind: KindSkip}
	}
	return Decoded{Kind: KindDelta, Text: text}
}

func payloadText(payload string) string {
	if payload == "" {
		return ""
	}
	if !gjson.Valid(payload) {
		return payload
	}

	res := gjson.Parse(payload)
	if res.IsObject() {
		if v := res.Get("content"); v.Type == gjson.String {
			return v.Str
		}
		if v := res.Get("text"); v.Type == gjson.String {
			return v.Str
		}
	}
	// 数字、布尔、数组和字符串等合法 JSON 没有文本字段，不追加
	return ""
}

func errorMessage(payload string) string {
	if gjson.Valid(payload) {
		res := gjson.Parse(payload)
		for _, field := range []string{"msg", "message", "error"} {
			if v := res.Get(field); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
	}
	if payload == "" {
		return "unknown error"
	}
	return payload
}
