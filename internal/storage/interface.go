package storage

import (
	"chat-studio-core/internal/model"
)

type Storage interface {
	// 会话管理
	CreateSession(session *model.Session) error
	GetSession(sessionID string) (*model.Session, error)
	// UpdateSession 只更新标题和更新时间，历史记录通过 AppendRecords 写入
	UpdateSession(session *model.Session) error
	DeleteSession(sessionID string) error
	// ListSessions 按 UpdatedAt 倒序返回，不包含历史记录
	ListSessions() ([]*model.Session, error)

	// 历史记录管理，AppendRecords 按追加顺序分配递增的 ParentID
	AppendRecords(sessionID string, records ...model.RawHistoryRecord) error
	GetRecords(sessionID string) ([]model.RawHistoryRecord, error)

	// 存储管理
	Init() error
	Close() error
	Backup() error
}

// New 按类型创建存储，未知类型使用内存存储
func New(kind, dataDir string, cacheSize int) Storage {
	switch kind {
	case "disk":
		return NewDiskStorage(dataDir, cacheSize)
	case "sqlite":
		return NewSQLiteStorage(dataDir)
	default:
		return NewMemoryStorage()
	}
}
