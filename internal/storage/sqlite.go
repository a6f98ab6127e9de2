package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chat-studio-core/internal/model"
	"chat-studio-core/pkg/logger"

	_ "modernc.org/sqlite"
)

// SQLiteStorage 把会话和历史记录保存在 dataDir/chat.db 中。
// 历史记录整条以 JSON 存储，(session_id, parent_id) 为主键。
type SQLiteStorage struct {
	dataDir string
	db      *sql.DB
	mu      sync.Mutex
}

func NewSQLiteStorage(dataDir string) *SQLiteStorage {
	return &SQLiteStorage{dataDir: dataDir}
}

func (s *SQLiteStorage) dbPath() string {
	return filepath.Join(s.dataDir, "chat.db")
}

func (s *SQLiteStorage) Init() error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite", s.dbPath()+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	// 单连接，写入由 mu 串行化
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	s.db = db
	logger.Infof("SQLite storage initialized at %s", s.dbPath())
	return nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS records (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		parent_id INTEGER NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (session_id, parent_id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Backup 使用 VACUUM INTO 生成一致的数据库副本
func (s *SQLiteStorage) Backup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dataDir, "backup")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	target := filepath.Join(dir, fmt.Sprintf("chat_%d.db", time.Now().UnixNano()))
	if _, err := s.db.Exec(`VACUUM INTO ?`, target); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	logger.Infof("Backup completed: %s", target)
	return nil
}

func (s *SQLiteStorage) CreateSession(session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.Title, session.CreatedAt.UnixNano(), session.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if err := insertRecords(tx, session.ID, session.Records); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

func (s *SQLiteStorage) GetSession(sessionID string) (*model.Session, error) {
	session, err := s.getMeta(sessionID)
	if err != nil {
		return nil, err
	}

	records, err := s.GetRecords(sessionID)
	if err != nil {
		return nil, err
	}
	session.Records = records
	return session, nil
}

func (s *SQLiteStorage) getMeta(sessionID string) (*model.Session, error) {
	var (
		session          model.Session
		created, updated int64
	)
	err := s.db.QueryRow(
		`SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?`, sessionID,
	).Scan(&session.ID, &session.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	session.CreatedAt = time.Unix(0, created)
	session.UpdatedAt = time.Unix(0, updated)
	return &session, nil
}

// UpdateSession 只更新元数据，历史记录通过 AppendRecords 写入
func (s *SQLiteStorage) UpdateSession(session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		session.Title, session.UpdatedAt.UnixNano(), session.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return expectAffected(res)
}

func (s *SQLiteStorage) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM records WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

func (s *SQLiteStorage) ListSessions() ([]*model.Session, error) {
	rows, err := s.db.Query(`SELECT id, title, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer rows.Close()

	sessions := []*model.Session{}
	for rows.Next() {
		var (
			session          model.Session
			created, updated int64
		)
		if err := rows.Scan(&session.ID, &session.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		session.CreatedAt = time.Unix(0, created)
		session.UpdatedAt = time.Unix(0, updated)
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStorage) AppendRecords(sessionID string, records ...model.RawHistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.getMeta(sessionID)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer tx.Rollback()

	var maxParent int64
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(parent_id), 0) FROM records WHERE session_id = ?`, sessionID,
	).Scan(&maxParent); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	// 复用与其他实现相同的 ParentID 分配规则
	session.Records = []model.RawHistoryRecord{{ParentID: maxParent}}
	appendRecords(session, records)

	if err := insertRecords(tx, sessionID, session.Records[1:]); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, session.UpdatedAt.UnixNano(), sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

func (s *SQLiteStorage) GetRecords(sessionID string) ([]model.RawHistoryRecord, error) {
	if _, err := s.getMeta(sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT payload FROM records WHERE session_id = ? ORDER BY parent_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer rows.Close()

	records := []model.RawHistoryRecord{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		var rec model.RawHistoryRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func insertRecords(tx *sql.Tx, sessionID string, records []model.RawHistoryRecord) error {
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO records (session_id, parent_id, payload) VALUES (?, ?, ?)`,
			sessionID, rec.ParentID, string(payload),
		); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
	}
	return nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
