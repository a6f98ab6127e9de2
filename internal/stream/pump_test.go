package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"chat-studio-core/internal/model"
)

func feed(chunks ...model.StreamChunk) (<-chan model.StreamChunk, <-chan error) {
	ch := make(chan model.StreamChunk, len(chunks))
	errs := make(chan error, 1)
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	close(errs)
	return ch, errs
}

func TestPumpUntilDone(t *testing.T) {
	store, a := newPending(t)
	chunks, errs := feed(
		model.StreamChunk{Data: `{"content":"Sure"}`},
		model.StreamChunk{Event: "heartbeat"},
		model.StreamChunk{Data: `{"content":", here"}`},
		model.StreamChunk{Data: "[DONE]"},
		model.StreamChunk{Data: `{"content":" after done"}`},
	)

	Pump(context.Background(), chunks, errs, a)

	msg := stored(t, store, a.Key())
	if msg.Content != "Sure, here" || msg.Status != model.StatusSuccess {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestPumpMalformedChunkAppendsText(t *testing.T) {
	store, a := newPending(t)
	chunks, errs := feed(
		model.StreamChunk{Data: `{"content":"a"}`},
		model.StreamChunk{Data: "raw b"},
	)

	Pump(context.Background(), chunks, errs, a)

	msg := stored(t, store, a.Key())
	if msg.Content != "araw b" || msg.Status != model.StatusSuccess {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestPumpTransportError(t *testing.T) {
	store, a := newPending(t)
	chunks := make(chan model.StreamChunk, 1)
	errs := make(chan error, 1)
	chunks <- model.StreamChunk{Data: `{"content":"partial"}`}
	errs <- errors.New("timeout")
	close(errs)
	close(chunks)

	Pump(context.Background(), chunks, errs, a)

	msg := stored(t, store, a.Key())
	if msg.Status != model.StatusError {
		t.Fatalf("status = %q, want error", msg.Status)
	}
	if msg.Content != "partial" {
		t.Errorf("unexpected content %q", msg.Content)
	}
}

func TestPumpAppliesBufferedChunksBeforeError(t *testing.T) {
	for i := 0; i < 100; i++ {
		store, a := newPending(t)
		chunks := make(chan model.StreamChunk, 2)
		errs := make(chan error, 1)
		chunks <- model.StreamChunk{Data: `{"content":"a"}`}
		chunks <- model.StreamChunk{Data: `{"content":"b"}`}
		errs <- errors.New("connection reset")
		close(chunks)
		close(errs)

		Pump(context.Background(), chunks, errs, a)

		msg := stored(t, store, a.Key())
		if msg.Status != model.StatusError || msg.Content != "ab" {
			t.Fatalf("run %d: status = %q, content = %q, want error with \"ab\"", i, msg.Status, msg.Content)
		}
	}
}

func TestPumpWaitsForChunksToClose(t *testing.T) {
	store, a := newPending(t)
	chunks := make(chan model.StreamChunk)
	errs := make(chan error, 1)
	errs <- errors.New("late failure")

	done := make(chan struct{})
	go func() {
		Pump(context.Background(), chunks, errs, a)
		close(done)
	}()

	chunks <- model.StreamChunk{Data: `{"content":"kept"}`}
	close(chunks)
	close(errs)
	<-done

	msg := stored(t, store, a.Key())
	if msg.Status != model.StatusError || msg.Content != "kept" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestPumpErrorEvent(t *testing.T) {
	store, a := newPending(t)
	chunks, errs := feed(
		model.StreamChunk{Data: `{"content":"so far"}`},
		model.StreamChunk{Event: "error", Data: `{"msg":"upstream failed"}`},
	)

	Pump(context.Background(), chunks, errs, a)

	msg := stored(t, store, a.Key())
	if msg.Status != model.StatusError || msg.Content != "so far" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestPumpContextCancel(t *testing.T) {
	store, a := newPending(t)
	chunks := make(chan model.StreamChunk)
	errs := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Pump(ctx, chunks, errs, a)
		close(done)
	}()

	chunks <- model.StreamChunk{Data: `{"content":"one"}`}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pump did not return after cancel")
	}

	msg := stored(t, store, a.Key())
	if msg.Status != model.StatusAborted || msg.Content != "one" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

type panicOnceSink struct {
	calls int
}

func (s *panicOnceSink) UpdateByID(string, func(model.Message) model.Message) bool {
	s.calls++
	if s.calls == 1 {
		panic("render failed")
	}
	return true
}

func TestPumpRecoversPanic(t *testing.T) {
	a := Open("k", &panicOnceSink{})
	chunks, errs := feed(model.StreamChunk{Data: `{"content":"x"}`})

	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("panic escaped Pump: %v", r)
			}
		}()
		Pump(context.Background(), chunks, errs, a)
	}()

	if a.Status() != model.StatusError || a.Err() == nil {
		t.Errorf("expected panic converted to error, got %q", a.Status())
	}
}
