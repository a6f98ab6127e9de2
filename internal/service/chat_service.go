package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-studio-core/internal/config"
	"chat-studio-core/internal/convert"
	"chat-studio-core/internal/model"
	"chat-studio-core/internal/provider"
	"chat-studio-core/internal/storage"
	"chat-studio-core/internal/tools"
	"chat-studio-core/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrEmptyPrompt        = errors.New("prompt is required")
	ErrToolRoundsExceeded = errors.New("too many tool rounds")
)

type ChatService struct {
	storage   storage.Storage
	providers *provider.Registry
	tools     *tools.Registry
	chat      config.ChatConfig
	session   config.SessionConfig
}

func NewChatService(store storage.Storage, providers *provider.Registry, toolRegistry *tools.Registry, cfg *config.Config) *ChatService {
	if toolRegistry == nil {
		toolRegistry = tools.NewRegistry()
	}
	chat := cfg.Chat
	if chat.MaxToolRounds <= 0 {
		chat.MaxToolRounds = 5
	}

	return &ChatService{
		storage:   store,
		providers: providers,
		tools:     toolRegistry,
		chat:      chat,
		session:   cfg.Session,
	}
}

// Run 后台维护任务：过期会话清理和定时备份，ctx 结束时返回
func (s *ChatService) Run(ctx context.Context, backupInterval time.Duration) {
	var cleanup, backup <-chan time.Time
	if s.session.TTL > 0 && s.session.CleanupInterval > 0 {
		ticker := time.NewTicker(s.session.CleanupInterval)
		defer ticker.Stop()
		cleanup = ticker.C
	}
	if backupInterval > 0 {
		ticker := time.NewTicker(backupInterval)
		defer ticker.Stop()
		backup = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup:
			s.cleanupOldSessions()
		case <-backup:
			if err := s.storage.Backup(); err != nil {
				logger.Errorf("Failed to backup storage: %v", err)
			}
		}
	}
}

func (s *ChatService) cleanupOldSessions() {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		logger.Errorf("Failed to list sessions for cleanup: %v", err)
		return
	}

	cutoff := time.Now().Add(-s.session.TTL)
	for _, session := range sessions {
		if !session.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.storage.DeleteSession(session.ID); err != nil {
			logger.Errorf("Failed to delete expired session %s: %v", session.ID, err)
		} else {
			logger.Infof("Cleaned up expired session: %s", session.ID)
		}
	}
}

func (s *ChatService) CreateSession(title string) (*model.Session, error) {
	if strings.TrimSpace(title) == "" {
		title = model.DefaultSessionTitle
	}

	now := time.Now()
	session := &model.Session{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.storage.CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (s *ChatService) ListSessions() ([]model.SessionSummary, error) {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	summaries := make([]model.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, session.Summary())
	}
	return summaries, nil
}

// GetRecords 会话的原始历史记录，按 ParentID 排序由读取方完成
func (s *ChatService) GetRecords(sessionID string) ([]model.RawHistoryRecord, error) {
	records, err := s.storage.GetRecords(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	return records, nil
}

func (s *ChatService) RenameSession(sessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: empty title", storage.ErrInvalidData)
	}

	session, err := s.storage.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	session.Title = title
	session.UpdatedAt = time.Now()
	if err := s.storage.UpdateSession(session); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// DeleteSessions 删除多个会话，不存在的 id 被跳过，返回实际删除的数量
func (s *ChatService) DeleteSessions(ids []string) (int, error) {
	deleted := 0
	for _, id := range ids {
		err := s.storage.DeleteSession(id)
		if errors.Is(err, storage.ErrSessionNotFound) {
			logger.Warnf("Skip deleting missing session: %s", id)
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("failed to delete session %s: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}

func (s *ChatService) Models() []model.ModelProvider {
	return s.providers.List()
}

func (s *ChatService) DefaultModel() (*model.ModelRef, error) {
	return s.providers.Default()
}

// StreamChat 执行一轮对话并以内联标签的形式流式输出。
//
// 每个工具轮次先输出 think 和 tool_call 块，执行后输出 tool_result 块，并持久化为一条
// 不带文本的 AI 片段记录；最终回复的文本单独持久化。出错时已生成的内容仍会被保存。
func (s *ChatService) StreamChat(ctx context.Context, req model.ChatRequest) (<-chan model.StreamChunk, <-chan error) {
	respChan := make(chan model.StreamChunk, 100)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		defer close(errChan)

		if err := s.streamChat(ctx, req, respChan); err != nil {
			logger.Errorf("Stream chat failed for session %s: %v", req.SessionID, err)
			errChan <- err
		}
	}()

	return respChan, errChan
}

func (s *ChatService) streamChat(ctx context.Context, req model.ChatRequest, out chan<- model.StreamChunk) error {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}

	session, err := s.storage.GetSession(req.SessionID)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	p, modelName, err := s.providers.Resolve(req.ProviderID, req.ModelName)
	if err != nil {
		return err
	}

	if err := s.storage.AppendRecords(session.ID, userRecord(req, prompt)); err != nil {
		return fmt.Errorf("failed to save user message: %w", err)
	}

	records, err := s.storage.GetRecords(session.ID)
	if err != nil {
		return fmt.Errorf("failed to get records: %w", err)
	}
	if len(records) == 1 {
		s.maybeRetitle(session.ID, prompt)
	}

	turns := s.buildTurns(records)
	emit := func(text string) error {
		if text == "" {
			return nil
		}
		select {
		case out <- contentChunk(text):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	thinkingSent := false
	for round := 0; round < s.chat.MaxToolRounds; round++ {
		result, err := s.runRound(ctx, p, provider.Request{
			Model:    modelName,
			Messages: turns,
			Tools:    s.tools.List(),
		}, emit, !thinkingSent)
		if result.thinking != "" {
			thinkingSent = true
		}

		if err != nil {
			s.saveAIRecord(session.ID, model.RawHistoryRecord{
				Text:     result.text.String(),
				Thinking: result.thinking,
			})
			return err
		}

		if len(result.calls) == 0 {
			s.saveAIRecord(session.ID, model.RawHistoryRecord{
				Text:     result.text.String(),
				Thinking: result.thinking,
			})
			return nil
		}

		var responses []model.ToolResult
		for _, call := range result.calls {
			if err := emit(convert.FormatToolCall(call)); err != nil {
				return err
			}
			res := s.tools.Call(ctx, call)
			logger.Debugf("Tool %s (%s) finished, isError=%v", call.Name, call.ID, res.IsError)
			responses = append(responses, res)
			if err := emit(convert.FormatToolResult(res)); err != nil {
				return err
			}
		}

		s.saveAIRecord(session.ID, model.RawHistoryRecord{
			Text:          result.text.String(),
			Thinking:      result.thinking,
			ToolRequests:  result.calls,
			ToolResponses: responses,
		})

		turns = append(turns, provider.Turn{
			Role:      provider.RoleAssistant,
			Content:   result.text.String(),
			ToolCalls: result.calls,
		})
		for _, res := range responses {
			turns = append(turns, provider.Turn{
				Role:       provider.RoleTool,
				Content:    res.Text,
				ToolCallID: res.ID,
			})
		}
	}

	return ErrToolRoundsExceeded
}

type roundResult struct {
	text     strings.Builder
	thinking string
	calls    []model.ToolRequest
}

// runRound 消费一次模型流。思考内容先缓冲，在第一段正文或工具调用之前整块输出
func (s *ChatService) runRound(ctx context.Context, p provider.Provider, req provider.Request, emit func(string) error, sendThinking bool) (*roundResult, error) {
	result := &roundResult{}
	var thinking strings.Builder
	flushed := false

	flushThinking := func() error {
		if flushed {
			return nil
		}
		flushed = true
		result.thinking = strings.TrimSpace(thinking.String())
		if result.thinking == "" || !sendThinking {
			return nil
		}
		return emit(convert.FormatThinking(result.thinking))
	}

	deltas, errs := p.Stream(ctx, req)
	for delta := range deltas {
		if delta.Thinking != "" {
			thinking.WriteString(delta.Thinking)
		}
		if delta.Content != "" {
			if err := flushThinking(); err != nil {
				return result, err
			}
			result.text.WriteString(delta.Content)
			if err := emit(delta.Content); err != nil {
				return result, err
			}
		}
		if len(delta.ToolCalls) > 0 {
			result.calls = append(result.calls, delta.ToolCalls...)
		}
	}

	if err := flushThinking(); err != nil {
		return result, err
	}
	if err := <-errs; err != nil {
		return result, err
	}
	return result, nil
}

// buildTurns 把历史记录转换为模型上下文，只保留最近 MaxHistoryMessages 条记录
func (s *ChatService) buildTurns(records []model.RawHistoryRecord) []provider.Turn {
	if max := s.chat.MaxHistoryMessages; max > 0 && len(records) > max {
		records = records[len(records)-max:]
	}

	var turns []provider.Turn
	if s.chat.SystemPrompt != "" {
		turns = append(turns, provider.Turn{Role: provider.RoleSystem, Content: s.chat.SystemPrompt})
	}

	for _, msg := range convert.Reconstruct(records) {
		if msg.Role == model.RoleUser {
			turns = append(turns, provider.Turn{Role: provider.RoleUser, Content: msg.Content})
			continue
		}

		if len(msg.ToolRequests) > 0 {
			// 只回放有结果的调用，否则上游会拒绝不完整的工具调用序列
			answered := make([]model.ToolRequest, 0, len(msg.ToolRequests))
			for _, req := range msg.ToolRequests {
				if convert.ToolStatusOf(req, msg.ToolResults) != model.ToolPending {
					answered = append(answered, req)
				}
			}
			if len(answered) > 0 {
				turns = append(turns, provider.Turn{Role: provider.RoleAssistant, ToolCalls: answered})
				for _, res := range msg.ToolResults {
					turns = append(turns, provider.Turn{Role: provider.RoleTool, Content: res.Text, ToolCallID: res.ID})
				}
			}
		}
		if msg.Content != "" {
			turns = append(turns, provider.Turn{Role: provider.RoleAssistant, Content: msg.Content})
		}
	}
	return turns
}

// maybeRetitle 第一条用户消息作为默认标题会话的标题
func (s *ChatService) maybeRetitle(sessionID, prompt string) {
	session, err := s.storage.GetSession(sessionID)
	if err != nil {
		logger.Warnf("Failed to reload session %s: %v", sessionID, err)
		return
	}
	if session.Title != model.DefaultSessionTitle {
		return
	}

	session.Title = s.truncateString(prompt, 30)
	session.UpdatedAt = time.Now()
	if err := s.storage.UpdateSession(session); err != nil {
		logger.Warnf("Failed to update title of session %s: %v", sessionID, err)
	}
}

func (s *ChatService) saveAIRecord(sessionID string, rec model.RawHistoryRecord) {
	if rec.Text == "" && rec.Thinking == "" && len(rec.ToolRequests) == 0 {
		return
	}
	rec.MessageType = model.MessageTypeAI
	if err := s.storage.AppendRecords(sessionID, rec); err != nil {
		logger.Errorf("Failed to save assistant message for session %s: %v", sessionID, err)
	}
}

func (s *ChatService) truncateString(str string, maxLen int) string {
	runes := []rune(str)
	if len(runes) <= maxLen {
		return str
	}
	return string(runes[:maxLen]) + "..."
}

func userRecord(req model.ChatRequest, prompt string) model.RawHistoryRecord {
	contents := []model.ContentItem{{ContentType: model.ContentText, Text: prompt}}
	if req.UploadID != "" && req.ContentType != "" {
		contents = append(contents, model.ContentItem{
			ContentType: model.ContentType(req.ContentType),
			URL:         req.UploadID,
		})
	}
	return model.RawHistoryRecord{
		MessageType: model.MessageTypeUser,
		Contents:    contents,
	}
}

func contentChunk(text string) model.StreamChunk {
	data, _ := json.Marshal(map[string]string{"content": text})
	return model.StreamChunk{Data: string(data)}
}
