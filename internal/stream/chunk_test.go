package stream

import (
	"errors"
	"testing"

	"chat-studio-core/internal/model"
)

func TestDecodeChunk(t *testing.T) {
	tests := []struct {
		name     string
		chunk    model.StreamChunk
		wantKind Kind
		wantText string
	}{
		{"content field", model.StreamChunk{Data: `{"content":"Sure"}`}, KindDelta, "Sure"},
		{"leading space kept", model.StreamChunk{Data: `{"content":" world"}`}, KindDelta, " world"},
		{"text field", model.StreamChunk{Data: `{"text":"hi"}`}, KindDelta, "hi"},
		{"content wins over text", model.StreamChunk{Data: `{"content":"c","text":"t"}`}, KindDelta, "c"},
		{"plain text fallback", model.StreamChunk{Data: "  not json  "}, KindDelta, "not json"},
		{"truncated json as text", model.StreamChunk{Data: `{"content":"ha`}, KindDelta, `{"content":"ha`},
		{"done marker", model.StreamChunk{Data: "[DONE]"}, KindDone, ""},
		{"blank", model.StreamChunk{Data: "   "}, KindSkip, ""},
		{"json without text", model.StreamChunk{Data: `{"usage":12}`}, KindSkip, ""},
		{"json number", model.StreamChunk{Data: "123"}, KindSkip, ""},
		{"json bool", model.StreamChunk{Data: "true"}, KindSkip, ""},
		{"json array", model.StreamChunk{Data: `["x"]`}, KindSkip, ""},
		{"json string", model.StreamChunk{Data: `"x"`}, KindSkip, ""},
		{"non-string content", model.StreamChunk{Data: `{"content":5}`}, KindSkip, ""},
		{"heartbeat", model.StreamChunk{Event: "heartbeat", Data: "ping"}, KindSkip, ""},
		{"done event with final", model.StreamChunk{Event: "done", Data: `{"content":"full"}`}, KindDone, "full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeChunk(tt.chunk)
			if got.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", got.Text, tt.wantText)
			}
		})
	}
}

func TestDecodeChunkErrorEvent(t *testing.T) {
	got := DecodeChunk(model.StreamChunk{Event: "error", Data: `{"msg":"quota exceeded"}`})
	if got.Kind != KindError {
		t.Fatalf("Kind = %v, want KindError", got.Kind)
	}
	var chunkErr *ChunkError
	if !errors.As(got.Err, &chunkErr) || chunkErr.Msg != "quota exceeded" {
		t.Errorf("unexpected error: %v", got.Err)
	}
}
