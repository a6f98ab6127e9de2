package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"chat-studio-core/internal/chat"
	"chat-studio-core/internal/config"
	"chat-studio-core/internal/events"
	"chat-studio-core/internal/handler"
	"chat-studio-core/internal/model"
	"chat-studio-core/internal/provider"
	"chat-studio-core/internal/service"
	"chat-studio-core/internal/storage"
	"chat-studio-core/internal/tools"

	"github.com/gin-gonic/gin"
)

const testToken = "secret"

func newTestServer(t *testing.T, echo *provider.EchoProvider) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStorage()
	if err := store.Init(); err != nil {
		t.Fatalf("init storage: %v", err)
	}
	providers := provider.NewRegistry()
	providers.Register(echo)
	toolRegistry := tools.NewRegistry()
	tools.RegisterBuiltin(toolRegistry)

	cfg := &config.Config{Auth: config.AuthConfig{Token: testToken}}
	svc := service.NewChatService(store, providers, toolRegistry, cfg)
	srv := httptest.NewServer(handler.SetupRouter(cfg, handler.NewChatHandler(svc, time.Second)))
	t.Cleanup(srv.Close)
	return srv
}

func newController(c *Client) *chat.Controller {
	return chat.NewController(c, c, c, events.NewBus())
}

func waitDone(t *testing.T, a interface {
	Wait(context.Context) (model.Status, error)
}) model.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := a.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return status
}

// sameTurn 比较实时消息和重新加载后的消息，忽略 key、状态和时间
func sameTurn(t *testing.T, live, reloaded model.Message) {
	t.Helper()
	if live.Role != reloaded.Role || live.Content != reloaded.Content || live.Thinking != reloaded.Thinking {
		t.Errorf("live = %+v\nreloaded = %+v", live, reloaded)
	}
	if len(live.ToolRequests) != len(reloaded.ToolRequests) || len(live.ToolResults) != len(reloaded.ToolResults) {
		t.Fatalf("tool mismatch: live = %+v\nreloaded = %+v", live, reloaded)
	}
	for i := range live.ToolRequests {
		if live.ToolRequests[i] != reloaded.ToolRequests[i] {
			t.Errorf("request %d: %+v != %+v", i, live.ToolRequests[i], reloaded.ToolRequests[i])
		}
	}
	for i := range live.ToolResults {
		if live.ToolResults[i] != reloaded.ToolResults[i] {
			t.Errorf("result %d: %+v != %+v", i, live.ToolResults[i], reloaded.ToolResults[i])
		}
	}
}

func TestRoundTripThroughController(t *testing.T) {
	srv := newTestServer(t, provider.NewEchoProvider(3, 0, true))
	c := New(srv.URL+"/api", testToken, 5*time.Second)
	ctrl := newController(c)
	ctx := context.Background()

	a, err := ctrl.Submit(ctx, chat.SubmitRequest{
		Prompt: `/calculator {"a":"6","op":"*","b":"7"}`,
		Upload: &model.Upload{ID: "up-1", ContentType: model.ContentImage},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if status := waitDone(t, a); status != model.StatusSuccess {
		t.Fatalf("status = %s, err = %v", status, a.Err())
	}

	live := ctrl.Messages()
	if len(live) != 2 {
		t.Fatalf("live messages = %+v", live)
	}
	if live[1].Content != "工具返回：42" || len(live[1].ToolResults) != 1 || live[1].ToolResults[0].Text != "42" {
		t.Errorf("assistant = %+v", live[1])
	}

	a, err = ctrl.Submit(ctx, chat.SubmitRequest{Prompt: "谢谢"})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	waitDone(t, a)
	live = ctrl.Messages()

	// 另一个客户端加载同一会话，得到相同的结构
	other := newController(c)
	if err := other.SelectSession(ctx, ctrl.ActiveSession()); err != nil {
		t.Fatalf("select: %v", err)
	}
	reloaded := other.Messages()
	if len(reloaded) != len(live) {
		t.Fatalf("reloaded %d messages, live %d", len(reloaded), len(live))
	}
	for i := range live {
		sameTurn(t, live[i], reloaded[i])
	}
	if reloaded[0].Attachment == nil || reloaded[0].Attachment.URL != "up-1" {
		t.Errorf("attachment = %+v", reloaded[0].Attachment)
	}

	list := ctrl.Conversations()
	if len(list) != 1 || list[0].SessionID != ctrl.ActiveSession() {
		t.Errorf("conversations = %+v", list)
	}
}

func TestCancelStream(t *testing.T) {
	srv := newTestServer(t, provider.NewEchoProvider(1, 20*time.Millisecond, false))
	c := New(srv.URL+"/api", testToken, 5*time.Second)
	ctrl := newController(c)

	a, err := ctrl.Submit(context.Background(), chat.SubmitRequest{Prompt: "a fairly long prompt to echo back slowly"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := ctrl.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if status := waitDone(t, a); status != model.StatusAborted {
		t.Errorf("status = %s", status)
	}

	frozen := a.Snapshot()
	time.Sleep(100 * time.Millisecond)
	if a.Snapshot() != frozen {
		t.Error("content changed after cancel")
	}
}

func TestSessionOperations(t *testing.T) {
	srv := newTestServer(t, provider.NewEchoProvider(0, 0, false))
	c := New(srv.URL+"/api", testToken, 5*time.Second)
	ctx := context.Background()

	id, err := c.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.RenameSession(ctx, id, "季度/总结"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	list, err := c.ListSessions(ctx)
	if err != nil || len(list) != 1 || list[0].SessionTitle != "季度/总结" {
		t.Fatalf("list = %+v, %v", list, err)
	}

	records, err := c.FetchHistory(ctx, id)
	if err != nil || len(records) != 0 {
		t.Errorf("empty history = %+v, %v", records, err)
	}

	if err := c.DeleteSessions(ctx, []string{id}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.FetchHistory(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("history after delete err = %v", err)
	}

	ref, err := c.DefaultModel(ctx)
	if err != nil || ref == nil || ref.ProviderID != provider.EchoProviderID {
		t.Errorf("default model = %+v, %v", ref, err)
	}
	models, err := c.ListModels(ctx)
	if err != nil || len(models) != 1 {
		t.Errorf("models = %+v, %v", models, err)
	}
}

func TestErrors(t *testing.T) {
	srv := newTestServer(t, provider.NewEchoProvider(0, 0, false))
	ctx := context.Background()

	bad := New(srv.URL+"/api", "wrong", time.Second)
	if _, err := bad.ListSessions(ctx); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}

	_, errs := bad.OpenStream(ctx, model.ChatRequest{SessionID: "x", Prompt: "hi"})
	if err := <-errs; !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stream err = %v, want ErrUnauthorized", err)
	}

	c := New(srv.URL+"/api", testToken, time.Second)
	err := c.RenameSession(ctx, "missing", " ")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != handler.CodeInvalidParam {
		t.Errorf("err = %v, want APIError with %s", err, handler.CodeInvalidParam)
	}
}
