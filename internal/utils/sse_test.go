package utils

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestSSEWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)

	if err := w.WriteJSON("", map[string]string{"content": "hi"}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := w.Write("heartbeat", "{}"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Write("", "a\nb"); err != nil {
		t.Fatalf("write multiline: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Write("", "late"); !errors.Is(err, ErrSSEClosed) {
		t.Errorf("write after close err = %v", err)
	}

	want := "data: {\"content\":\"hi\"}\n\n" +
		"event: heartbeat\ndata: {}\n\n" +
		"data: a\ndata: b\n\n" +
		"data: [DONE]\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}
