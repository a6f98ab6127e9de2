package storage

import (
	"slices"
	"time"

	"chat-studio-core/internal/model"
)

// appendRecords 为新记录分配 ParentID 并追加到会话，调用方持有锁
func appendRecords(session *model.Session, records []model.RawHistoryRecord) {
	next := session.NextParentID()
	for _, rec := range records {
		rec.ParentID = next
		next++
		if rec.DateTime == "" {
			rec.DateTime = time.Now().Format(time.DateTime)
		}
		session.Records = append(session.Records, rec)
	}
	session.UpdatedAt = time.Now()
}

// cloneSession 深拷贝，避免调用方修改存储内部状态
func cloneSession(s *model.Session) *model.Session {
	out := *s
	out.Records = slices.Clone(s.Records)
	return &out
}
