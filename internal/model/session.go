package model

import "time"

// DefaultSessionTitle 新建会话的默认标题
const DefaultSessionTitle = "新对话"

// Session 服务端持久化的会话
type Session struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Records   []RawHistoryRecord `json:"records,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Summary 转换为会话列表项
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		SessionID:    s.ID,
		SessionTitle: s.Title,
		UpdatedAt:    s.UpdatedAt.UnixMilli(),
	}
}

// NextParentID 下一条记录的排序键
func (s *Session) NextParentID() int64 {
	var max int64
	for _, rec := range s.Records {
		if rec.ParentID > max {
			max = rec.ParentID
		}
	}
	return max + 1
}
