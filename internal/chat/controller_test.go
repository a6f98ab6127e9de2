package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-studio-core/internal/events"
	"chat-studio-core/internal/model"
)

type fakeSessions struct {
	mu       sync.Mutex
	sessions []model.SessionSummary
	history  map[string][]model.RawHistoryRecord
	fetchErr error
	block    map[string]chan struct{}
	renamed  map[string]string
	created  int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		history: make(map[string][]model.RawHistoryRecord),
		block:   make(map[string]chan struct{}),
		renamed: make(map[string]string),
	}
}

func (f *fakeSessions) ListSessions(context.Context) ([]model.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SessionSummary(nil), f.sessions...), nil
}

func (f *fakeSessions) CreateSession(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	id := "new-session"
	f.sessions = append(f.sessions, model.SessionSummary{SessionID: id})
	return id, nil
}

func (f *fakeSessions) FetchHistory(ctx context.Context, id string) ([]model.RawHistoryRecord, error) {
	f.mu.Lock()
	wait := f.block[id]
	err := f.fetchErr
	records := f.history[id]
	f.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return records, err
}

func (f *fakeSessions) RenameSession(_ context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renamed[id] = title
	return nil
}

func (f *fakeSessions) DeleteSessions(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.sessions[:0]
	for _, s := range f.sessions {
		deleted := false
		for _, id := range ids {
			if s.SessionID == id {
				deleted = true
			}
		}
		if !deleted {
			kept = append(kept, s)
		}
	}
	f.sessions = kept
	return nil
}

// fakeStreams 把测试写入 chunks 的分片转发给 Controller
type fakeStreams struct {
	mu       sync.Mutex
	requests []model.ChatRequest
	chunks   chan model.StreamChunk
	err      error
}

func newFakeStreams(chunks ...model.StreamChunk) *fakeStreams {
	ch := make(chan model.StreamChunk, 16)
	for _, c := range chunks {
		ch <- c
	}
	return &fakeStreams{chunks: ch}
}

func (f *fakeStreams) OpenStream(ctx context.Context, req model.ChatRequest) (<-chan model.StreamChunk, <-chan error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	failure := f.err
	f.mu.Unlock()

	out := make(chan model.StreamChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		if failure != nil {
			errs <- failure
			return
		}
		for {
			select {
			case c := <-f.chunks:
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errs
}

func (f *fakeStreams) lastRequest() model.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeModels struct{}

func (fakeModels) DefaultModel(context.Context) (*model.ModelRef, error) {
	return &model.ModelRef{ProviderID: "echo", ModelName: "echo-1"}, nil
}

func (fakeModels) ListModels(context.Context) ([]model.ModelProvider, error) {
	return []model.ModelProvider{{ProviderID: "echo", Models: []model.ModelInfo{{ModelName: "echo-1"}}}}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubmitWithAttachment(t *testing.T) {
	sessions := newFakeSessions()
	streams := newFakeStreams(
		model.StreamChunk{Data: `{"content":"Sure"}`},
		model.StreamChunk{Data: `{"content":", here"}`},
		model.StreamChunk{Data: "[DONE]"},
	)
	bus := events.NewBus()
	var created []string
	bus.Subscribe(func(ev events.Event) { created = append(created, ev.SessionID) }, events.SessionCreated)

	c := NewController(sessions, streams, fakeModels{}, bus)
	ctx := testContext(t)

	a, err := c.Submit(ctx, SubmitRequest{
		Prompt: "Summarize this doc",
		Upload: &model.Upload{ID: "u1", ContentType: model.ContentPDF},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	status, err := a.Wait(ctx)
	if err != nil || status != model.StatusSuccess {
		t.Fatalf("Wait() = %q, %v", status, err)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant, got %+v", msgs)
	}
	user := msgs[0]
	if user.Role != model.RoleUser || user.Content != "Summarize this doc" {
		t.Errorf("unexpected user message: %+v", user)
	}
	if user.Attachment == nil || user.Attachment.ContentType != model.ContentPDF || user.Attachment.URL != "u1" {
		t.Errorf("unexpected attachment: %+v", user.Attachment)
	}
	if msgs[1].Content != "Sure, here" || msgs[1].Status != model.StatusSuccess {
		t.Errorf("unexpected assistant message: %+v", msgs[1])
	}

	req := streams.lastRequest()
	if req.SessionID != "new-session" || req.UploadID != "u1" || req.ContentType != "PDF" {
		t.Errorf("unexpected chat request: %+v", req)
	}
	if req.ProviderID != "echo" || req.ModelName != "echo-1" {
		t.Errorf("default model not forwarded: %+v", req)
	}
	if len(created) != 1 || c.ActiveSession() != "new-session" {
		t.Errorf("expected one created session, got %v", created)
	}
	if len(c.Conversations()) != 1 {
		t.Errorf("conversation list not refreshed: %+v", c.Conversations())
	}
}

func TestSubmitEmptyPrompt(t *testing.T) {
	c := NewController(newFakeSessions(), newFakeStreams(), nil, nil)
	if _, err := c.Submit(testContext(t), SubmitRequest{Prompt: "  "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("expected ErrEmptyPrompt, got %v", err)
	}
}

func TestSelectSessionCancelsStream(t *testing.T) {
	sessions := newFakeSessions()
	sessions.sessions = []model.SessionSummary{{SessionID: "a"}, {SessionID: "b"}}
	sessions.history["b"] = []model.RawHistoryRecord{
		{MessageType: model.MessageTypeUser, Contents: []model.ContentItem{{ContentType: model.ContentText, Text: "from b"}}, ParentID: 1},
	}
	streams := newFakeStreams()
	c := NewController(sessions, streams, nil, nil)
	ctx := testContext(t)

	if err := c.SelectSession(ctx, "a"); err != nil {
		t.Fatalf("SelectSession(a): %v", err)
	}
	a, err := c.Submit(ctx, SubmitRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	streams.chunks <- model.StreamChunk{Data: `{"content":"A"}`}
	waitFor(t, func() bool { return a.Snapshot() == "A" })

	if err := c.SelectSession(ctx, "b"); err != nil {
		t.Fatalf("SelectSession(b): %v", err)
	}
	streams.chunks <- model.StreamChunk{Data: `{"content":" late"}`}
	time.Sleep(20 * time.Millisecond)

	if a.Status() != model.StatusAborted || a.Snapshot() != "A" {
		t.Errorf("expected aborted stream with frozen content, got %q %q", a.Status(), a.Snapshot())
	}
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Content != "from b" {
		t.Errorf("session b must only contain its history, got %+v", msgs)
	}
}

func TestSelectSessionSuperseded(t *testing.T) {
	sessions := newFakeSessions()
	sessions.block["slow"] = make(chan struct{})
	sessions.history["slow"] = []model.RawHistoryRecord{{MessageType: model.MessageTypeAI, Text: "slow"}}
	sessions.history["fast"] = []model.RawHistoryRecord{{MessageType: model.MessageTypeAI, Text: "fast"}}
	c := NewController(sessions, newFakeStreams(), nil, nil)
	ctx := testContext(t)

	done := make(chan error, 1)
	go func() { done <- c.SelectSession(ctx, "slow") }()
	waitFor(t, func() bool { return c.ActiveSession() == "slow" })

	if err := c.SelectSession(ctx, "fast"); err != nil {
		t.Fatalf("SelectSession(fast): %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("superseded selection should not report an error, got %v", err)
	}

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Content != "fast" {
		t.Errorf("expected fast history, got %+v", msgs)
	}
}

func TestSelectSessionFetchFailure(t *testing.T) {
	sessions := newFakeSessions()
	sessions.fetchErr = errors.New("502")
	bus := events.NewBus()
	var notices int
	bus.Subscribe(func(events.Event) { notices++ }, events.Notice)

	c := NewController(sessions, newFakeStreams(), nil, bus)
	c.Store().Append(model.Message{Role: model.RoleUser, Content: "stale"})

	if err := c.SelectSession(testContext(t), "x"); err == nil {
		t.Fatal("expected error")
	}
	if len(c.Messages()) != 0 {
		t.Errorf("expected empty list on failure, got %+v", c.Messages())
	}
	if notices != 1 {
		t.Errorf("expected one notice, got %d", notices)
	}
	if c.ActiveSession() != "x" {
		t.Errorf("navigation must not be blocked, active = %q", c.ActiveSession())
	}
}

func TestStreamFailureNotice(t *testing.T) {
	streams := newFakeStreams()
	streams.err = errors.New("dial tcp: refused")
	bus := events.NewBus()
	finished := make(chan events.Event, 1)
	bus.Subscribe(func(ev events.Event) { finished <- ev }, events.StreamFinished)

	c := NewController(newFakeSessions(), streams, nil, bus)
	ctx := testContext(t)
	a, err := c.Submit(ctx, SubmitRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case ev := <-finished:
		if ev.Status != model.StatusError || ev.Err == nil {
			t.Errorf("unexpected finish event: %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("stream never finished")
	}
	if a.Status() != model.StatusError {
		t.Errorf("status = %q", a.Status())
	}
}

func TestCancel(t *testing.T) {
	c := NewController(newFakeSessions(), newFakeStreams(), nil, nil)
	if err := c.Cancel(); !errors.Is(err, ErrNoStream) {
		t.Errorf("expected ErrNoStream, got %v", err)
	}

	a, err := c.Submit(testContext(t), SubmitRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := c.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if a.Status() != model.StatusAborted {
		t.Errorf("status = %q, want aborted", a.Status())
	}
	msgs := c.Messages()
	if msgs[1].Status != model.StatusAborted {
		t.Errorf("stored status = %q", msgs[1].Status)
	}
}

func TestDeleteActiveConversation(t *testing.T) {
	sessions := newFakeSessions()
	sessions.sessions = []model.SessionSummary{{SessionID: "a"}, {SessionID: "b"}}
	c := NewController(sessions, newFakeStreams(), nil, nil)
	ctx := testContext(t)

	if err := c.SelectSession(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	deletedActive, err := c.DeleteConversations(ctx, []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	if !deletedActive || c.ActiveSession() != "" {
		t.Errorf("expected active session cleared, deletedActive=%v active=%q", deletedActive, c.ActiveSession())
	}
	if list := c.Conversations(); len(list) != 1 || list[0].SessionID != "b" {
		t.Errorf("unexpected list: %+v", list)
	}

	deletedActive, err = c.DeleteConversations(ctx, []string{"b"})
	if err != nil || deletedActive {
		t.Errorf("deleting an inactive session: %v %v", deletedActive, err)
	}
}

func TestRenameConversation(t *testing.T) {
	sessions := newFakeSessions()
	c := NewController(sessions, newFakeStreams(), nil, nil)
	ctx := testContext(t)

	if err := c.RenameConversation(ctx, "a", "   "); err != nil {
		t.Fatal(err)
	}
	if len(sessions.renamed) != 0 {
		t.Error("blank title must be ignored")
	}
	if err := c.RenameConversation(ctx, "a", "  Trip plan "); err != nil {
		t.Fatal(err)
	}
	if sessions.renamed["a"] != "Trip plan" {
		t.Errorf("renamed = %q", sessions.renamed["a"])
	}
}

func TestRefreshDropsMissingActive(t *testing.T) {
	sessions := newFakeSessions()
	c := NewController(sessions, newFakeStreams(), nil, nil)
	ctx := testContext(t)

	if err := c.SelectSession(ctx, "gone"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RefreshConversations(ctx); err != nil {
		t.Fatal(err)
	}
	if c.ActiveSession() != "" {
		t.Errorf("active = %q, want empty", c.ActiveSession())
	}
}

func TestSelectModel(t *testing.T) {
	bus := events.NewBus()
	var changed *model.ModelRef
	bus.Subscribe(func(ev events.Event) { changed = ev.Model }, events.ModelChanged)

	c := NewController(newFakeSessions(), newFakeStreams(), fakeModels{}, bus)
	ctx := testContext(t)
	if ref := c.CurrentModel(ctx); ref == nil || ref.ModelName != "echo-1" {
		t.Errorf("expected default model, got %+v", ref)
	}

	c.SelectModel(model.ModelRef{ProviderID: "openai", ModelName: "gpt-4o-mini"})
	if changed == nil || changed.ModelName != "gpt-4o-mini" {
		t.Errorf("ModelChanged not published: %+v", changed)
	}
	if ref := c.CurrentModel(ctx); ref.ProviderID != "openai" {
		t.Errorf("selected model not used: %+v", ref)
	}
}

// blockingModels 在 release 关闭前阻塞 DefaultModel
type blockingModels struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingModels() *blockingModels {
	return &blockingModels{entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (b *blockingModels) DefaultModel(ctx context.Context) (*model.ModelRef, error) {
	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &model.ModelRef{ProviderID: "echo", ModelName: "echo-1"}, nil
}

func (b *blockingModels) ListModels(context.Context) ([]model.ModelProvider, error) {
	return nil, nil
}

func TestSubmitSupersededBySelectSession(t *testing.T) {
	sessions := newFakeSessions()
	sessions.sessions = []model.SessionSummary{{SessionID: "a"}, {SessionID: "b"}}
	sessions.history["b"] = []model.RawHistoryRecord{
		{MessageType: model.MessageTypeUser, Contents: []model.ContentItem{{ContentType: model.ContentText, Text: "from b"}}, ParentID: 1},
	}
	streams := newFakeStreams(model.StreamChunk{Data: `{"content":"reply for A"}`}, model.StreamChunk{Data: "[DONE]"})
	models := newBlockingModels()
	c := NewController(sessions, streams, models, nil)
	ctx := testContext(t)

	if err := c.SelectSession(ctx, "a"); err != nil {
		t.Fatalf("SelectSession(a): %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx, SubmitRequest{Prompt: "question in A"})
		done <- err
	}()
	<-models.entered

	if err := c.SelectSession(ctx, "b"); err != nil {
		t.Fatalf("SelectSession(b): %v", err)
	}
	close(models.release)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Submit err = %v, want ErrSuperseded", err)
	}
	time.Sleep(20 * time.Millisecond)

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Content != "from b" {
		t.Errorf("session b must only contain its history, got %+v", msgs)
	}
	streams.mu.Lock()
	opened := len(streams.requests)
	streams.mu.Unlock()
	if opened != 0 {
		t.Errorf("no stream should be opened, got %d", opened)
	}
}

func TestConcurrentSubmitKeepsOneStream(t *testing.T) {
	sessions := newFakeSessions()
	sessions.sessions = []model.SessionSummary{{SessionID: "a"}}
	streams := newFakeStreams()
	models := newBlockingModels()
	c := NewController(sessions, streams, models, nil)
	ctx := testContext(t)

	if err := c.SelectSession(ctx, "a"); err != nil {
		t.Fatalf("SelectSession(a): %v", err)
	}

	first := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx, SubmitRequest{Prompt: "first"})
		first <- err
	}()
	<-models.entered

	second, err := c.Submit(ctx, SubmitRequest{Prompt: "second", Model: &model.ModelRef{ProviderID: "echo", ModelName: "echo-1"}})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	close(models.release)
	if err := <-first; err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	if second.Status() != model.StatusAborted {
		t.Errorf("earlier registered stream must be cancelled, status = %q", second.Status())
	}
	active := 0
	for _, msg := range c.Messages() {
		if msg.Role == model.RoleAssistant && !msg.Status.Terminal() {
			active++
		}
	}
	if active != 1 {
		t.Errorf("expected exactly one active assistant message, got %d in %+v", active, c.Messages())
	}
}
