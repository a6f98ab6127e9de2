package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"chat-studio-core/internal/conversation"
	"chat-studio-core/internal/convert"
	"chat-studio-core/internal/events"
	"chat-studio-core/internal/model"
	"chat-studio-core/internal/stream"
	"chat-studio-core/pkg/logger"
)

var (
	ErrEmptyPrompt = errors.New("prompt is empty")
	ErrNoStream    = errors.New("no stream in flight")
	ErrSuperseded  = errors.New("session changed before submit")
)

// SubmitRequest 一次用户提交
type SubmitRequest struct {
	Prompt string
	// Model 为空时使用当前选择的模型，其次是模型目录的默认模型
	Model  *model.ModelRef
	Upload *model.Upload
}

// Controller 持有当前会话，并把会话切换、提交和取消映射到消息存储和流上。
//
// 同一时刻最多只有一个流在写入存储：切换会话、新建会话和再次提交都会先取消在途的流。
type Controller struct {
	sessions SessionTransport
	streams  StreamTransport
	models   ModelDirectory
	store    *conversation.Store
	bus      *events.Bus

	mu            sync.Mutex
	activeID      string
	generation    uint64
	fetchCancel   context.CancelFunc
	current       *stream.Assembler
	model         *model.ModelRef
	conversations []model.SessionSummary
}

// NewController 创建 Controller；models 和 bus 可以为 nil
func NewController(sessions SessionTransport, streams StreamTransport, models ModelDirectory, bus *events.Bus) *Controller {
	return &Controller{
		sessions: sessions,
		streams:  streams,
		models:   models,
		store:    conversation.NewStore(),
		bus:      bus,
	}
}

// Store 当前会话的消息存储。Store 的订阅回调中不能调用 Controller 的方法
func (c *Controller) Store() *conversation.Store {
	return c.store
}

// Messages 当前会话的消息快照
func (c *Controller) Messages() []model.Message {
	return c.store.Snapshot()
}

// ActiveSession 当前会话 ID，未选择时为空
func (c *Controller) ActiveSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// SelectSession 切换到指定会话并加载历史。
//
// 在途的流会先被取消；历史加载失败时消息列表为空并发布 Notice。
// 被之后的切换取代的加载结果会被丢弃。
func (c *Controller) SelectSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if sessionID == c.activeID {
		c.mu.Unlock()
		return nil
	}
	c.cancelStreamLocked()
	if c.fetchCancel != nil {
		c.fetchCancel()
	}
	c.generation++
	gen := c.generation
	c.activeID = sessionID
	fetchCtx, cancel := context.WithCancel(ctx)
	c.fetchCancel = cancel
	c.store.Clear()
	c.mu.Unlock()
	defer cancel()

	records, err := c.sessions.FetchHistory(fetchCtx, sessionID)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		logger.Debugf("history of session %s superseded", sessionID)
		return nil
	}
	c.fetchCancel = nil
	if err != nil {
		c.store.ReplaceAll(nil)
	} else {
		c.store.ReplaceAll(convert.Reconstruct(records))
	}
	c.mu.Unlock()

	if err != nil {
		logger.Warnf("fetch history of session %s failed: %v", sessionID, err)
		c.notice("加载会话消息失败", err)
		return fmt.Errorf("fetch history: %w", err)
	}
	c.bus.Publish(events.Event{Type: events.SessionSelected, SessionID: sessionID})
	return nil
}

// Submit 发送一条用户消息并开始接收助手回复。
//
// 没有当前会话时先创建会话。返回的 Assembler 在后台被驱动，可用 Wait 等待结束。
// 提交过程中会话被切换或重置时返回 ErrSuperseded，不写入任何消息。
func (c *Controller) Submit(ctx context.Context, req SubmitRequest) (*stream.Assembler, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	c.mu.Lock()
	c.cancelStreamLocked()
	sessionID := c.activeID
	gen := c.generation
	c.mu.Unlock()

	if sessionID == "" {
		id, createdGen, err := c.createSession(ctx, gen)
		if err != nil {
			return nil, err
		}
		sessionID, gen = id, createdGen
	}

	ref := req.Model
	if ref == nil {
		ref = c.CurrentModel(ctx)
	}

	chatReq := model.ChatRequest{SessionID: sessionID, Prompt: prompt}
	if ref != nil {
		chatReq.ProviderID = ref.ProviderID
		chatReq.ModelName = ref.ModelName
	}
	attachment := req.Upload.Attachment()
	if attachment != nil {
		chatReq.UploadID = req.Upload.ID
		chatReq.ContentType = string(req.Upload.ContentType)
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	// 网络调用期间会话可能已切换，写入存储前重新确认
	c.mu.Lock()
	if gen != c.generation || sessionID != c.activeID {
		c.mu.Unlock()
		cancel()
		logger.Debugf("submit to session %s superseded", sessionID)
		return nil, ErrSuperseded
	}
	c.cancelStreamLocked()
	c.store.Append(model.Message{Role: model.RoleUser, Content: prompt, Attachment: attachment})
	key := c.store.Append(model.Message{Role: model.RoleAssistant, Status: model.StatusPending})
	a := stream.Open(key, c.store)
	a.SetAbort(cancel)
	c.current = a
	c.mu.Unlock()

	chunks, errs := c.streams.OpenStream(streamCtx, chatReq)
	go func() {
		stream.Pump(streamCtx, chunks, errs, a)
		cancel()
		c.finishStream(sessionID, a)
	}()

	return a, nil
}

// Cancel 取消在途的流，已生成的内容保留
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoStream
	}
	c.cancelStreamLocked()
	return nil
}

// Wait 等待当前流结束；没有在途的流时立即返回
func (c *Controller) Wait(ctx context.Context) (model.Status, error) {
	c.mu.Lock()
	a := c.current
	c.mu.Unlock()

	if a == nil {
		return "", nil
	}
	return a.Wait(ctx)
}

// NewConversation 离开当前会话，下一次提交会创建新会话
func (c *Controller) NewConversation() {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
}

// Conversations 最近一次刷新得到的会话列表
func (c *Controller) Conversations() []model.SessionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.conversations)
}

// RefreshConversations 重新拉取会话列表；当前会话已不存在时离开它
func (c *Controller) RefreshConversations(ctx context.Context) ([]model.SessionSummary, error) {
	list, err := c.sessions.ListSessions(ctx)
	if err != nil {
		c.notice("获取会话列表失败", err)
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations = list
	if c.activeID != "" && !slices.ContainsFunc(list, func(s model.SessionSummary) bool {
		return s.SessionID == c.activeID
	}) {
		logger.Infof("active session %s no longer listed", c.activeID)
		c.resetLocked()
	}
	return slices.Clone(list), nil
}

// RenameConversation 修改会话标题，空标题被忽略
func (c *Controller) RenameConversation(ctx context.Context, sessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}
	if err := c.sessions.RenameSession(ctx, sessionID, title); err != nil {
		c.notice("重命名会话失败", err)
		return fmt.Errorf("rename session: %w", err)
	}
	_, err := c.RefreshConversations(ctx)
	return err
}

// DeleteConversations 删除会话，返回当前会话是否在其中
func (c *Controller) DeleteConversations(ctx context.Context, sessionIDs []string) (bool, error) {
	if len(sessionIDs) == 0 {
		return false, nil
	}
	if err := c.sessions.DeleteSessions(ctx, sessionIDs); err != nil {
		c.notice("删除会话失败", err)
		return false, fmt.Errorf("delete sessions: %w", err)
	}

	c.mu.Lock()
	deletedActive := c.activeID != "" && slices.Contains(sessionIDs, c.activeID)
	if deletedActive {
		c.resetLocked()
	}
	c.mu.Unlock()

	_, err := c.RefreshConversations(ctx)
	return deletedActive, err
}

// SelectModel 设置之后提交使用的模型
func (c *Controller) SelectModel(ref model.ModelRef) {
	c.mu.Lock()
	c.model = &ref
	c.mu.Unlock()

	c.bus.Publish(events.Event{Type: events.ModelChanged, Model: &ref})
}

// CurrentModel 当前选择的模型，未选择时取模型目录的默认模型；都没有时返回 nil
func (c *Controller) CurrentModel(ctx context.Context) *model.ModelRef {
	c.mu.Lock()
	ref := c.model
	c.mu.Unlock()
	if ref != nil || c.models == nil {
		return ref
	}

	def, err := c.models.DefaultModel(ctx)
	if err != nil {
		logger.Warnf("get default model failed: %v", err)
		return nil
	}
	if def == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model == nil {
		c.model = def
	}
	return c.model
}

// Models 可用模型列表
func (c *Controller) Models(ctx context.Context) ([]model.ModelProvider, error) {
	if c.models == nil {
		return nil, nil
	}
	return c.models.ListModels(ctx)
}

// createSession 创建会话并设为当前会话；gen 已过期时不切换，返回 ErrSuperseded
func (c *Controller) createSession(ctx context.Context, gen uint64) (string, uint64, error) {
	id, err := c.sessions.CreateSession(ctx)
	if err != nil {
		c.notice("创建会话失败", err)
		return "", 0, fmt.Errorf("create session: %w", err)
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		logger.Debugf("created session %s but selection changed", id)
		return "", 0, ErrSuperseded
	}
	c.generation++
	c.activeID = id
	gen = c.generation
	c.mu.Unlock()

	logger.Infof("created session %s", id)
	c.bus.Publish(events.Event{Type: events.SessionCreated, SessionID: id})

	if _, err := c.RefreshConversations(ctx); err != nil {
		logger.Warnf("refresh sessions after create failed: %v", err)
	}
	return id, gen, nil
}

func (c *Controller) finishStream(sessionID string, a *stream.Assembler) {
	status := a.Status()

	c.mu.Lock()
	if c.current == a {
		c.current = nil
	}
	c.mu.Unlock()

	c.bus.Publish(events.Event{
		Type:      events.StreamFinished,
		SessionID: sessionID,
		Status:    status,
		Err:       a.Err(),
	})
	if status == model.StatusError {
		c.notice("回复生成失败", a.Err())
	}
}

// cancelStreamLocked 调用方持有 c.mu
func (c *Controller) cancelStreamLocked() {
	if c.current == nil {
		return
	}
	c.current.Cancel()
	c.current = nil
}

// resetLocked 调用方持有 c.mu
func (c *Controller) resetLocked() {
	c.cancelStreamLocked()
	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}
	c.generation++
	c.activeID = ""
	c.store.Clear()
}

func (c *Controller) notice(msg string, err error) {
	c.bus.Publish(events.Event{Type: events.Notice, Message: msg, Err: err})
}
