package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// DoneMarker 流结束时发送的数据
const DoneMarker = "[DONE]"

var ErrSSEClosed = errors.New("sse writer closed")

// SSEWriter 写 text/event-stream 响应，可被心跳和数据两个 goroutine 同时使用
type SSEWriter struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	closed bool
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &SSEWriter{w: w}
}

func (s *SSEWriter) Write(event, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSSEClosed
	}

	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}

	// 多行数据按协议拆成多个 data 字段
	for _, line := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(s.w, "\n"); err != nil {
		return err
	}

	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}

	return nil
}

// WriteJSON 序列化 v 后作为一个事件发送
func (s *SSEWriter) WriteJSON(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Write(event, string(data))
}

// Close 发送结束标记，之后的写入都会失败
func (s *SSEWriter) Close() error {
	err := s.Write("", DoneMarker)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}
