package chat

import (
	"context"

	"chat-studio-core/internal/model"
)

// SessionTransport 会话的持久化接口
type SessionTransport interface {
	ListSessions(ctx context.Context) ([]model.SessionSummary, error)
	CreateSession(ctx context.Context) (string, error)
	FetchHistory(ctx context.Context, sessionID string) ([]model.RawHistoryRecord, error)
	RenameSession(ctx context.Context, sessionID, title string) error
	DeleteSessions(ctx context.Context, sessionIDs []string) error
}

// StreamTransport 流式聊天接口。
//
// 两个通道都由实现方关闭；ctx 取消时实现方应尽快中止底层请求。
type StreamTransport interface {
	OpenStream(ctx context.Context, req model.ChatRequest) (<-chan model.StreamChunk, <-chan error)
}

// ModelDirectory 模型目录，对核心来说只提供转发用的 providerId/modelName
type ModelDirectory interface {
	DefaultModel(ctx context.Context) (*model.ModelRef, error)
	ListModels(ctx context.Context) ([]model.ModelProvider, error)
}
