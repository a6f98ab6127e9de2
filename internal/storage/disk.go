package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-studio-core/internal/model"
	"chat-studio-core/pkg/logger"
)

// DiskStorage 以 JSON 文件保存会话：sessions/ 存元数据，records/ 存历史记录，
// sessions.json 是列表索引。最近使用的会话缓存在内存中。
type DiskStorage struct {
	dataDir   string
	mu        sync.RWMutex
	cache     map[string]*model.Session
	cacheSize int
}

type SessionIndex struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewDiskStorage(dataDir string, cacheSize int) *DiskStorage {
	if cacheSize <= 0 {
		cacheSize = 100
	}
	return &DiskStorage{
		dataDir:   dataDir,
		cache:     make(map[string]*model.Session),
		cacheSize: cacheSize,
	}
}

func (d *DiskStorage) Init() error {
	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := d.loadSessions(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Info("Disk storage initialized successfully")
	return nil
}

func (d *DiskStorage) createDirectories() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, "sessions"),
		filepath.Join(d.dataDir, "records"),
		filepath.Join(d.dataDir, "backup"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiskStorage) loadSessions() error {
	indexes, err := d.readIndex()
	if errors.Is(err, os.ErrNotExist) {
		return d.saveSessionIndex([]*SessionIndex{})
	}
	if err != nil {
		return err
	}

	for _, index := range indexes {
		if len(d.cache) >= d.cacheSize {
			break
		}

		session, err := d.loadSessionFromFile(index.ID)
		if err != nil {
			logger.Errorf("Failed to load session %s: %v", index.ID, err)
			continue
		}
		d.cache[index.ID] = session
	}
	return nil
}

func (d *DiskStorage) readIndex() ([]*SessionIndex, error) {
	data, err := os.ReadFile(filepath.Join(d.dataDir, "sessions.json"))
	if err != nil {
		return nil, err
	}

	var indexes []*SessionIndex
	if err := json.Unmarshal(data, &indexes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return indexes, nil
}

func (d *DiskStorage) sessionPath(sessionID string) string {
	return filepath.Join(d.dataDir, "sessions", sessionID+".json")
}

func (d *DiskStorage) recordsPath(sessionID string) string {
	return filepath.Join(d.dataDir, "records", sessionID+".json")
}

func (d *DiskStorage) loadSessionFromFile(sessionID string) (*model.Session, error) {
	data, err := os.ReadFile(d.sessionPath(sessionID))
	if err != nil {
		return nil, err
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}

	records, err := d.loadRecordsFromFile(sessionID)
	if err != nil {
		logger.Errorf("Failed to load records for session %s: %v", sessionID, err)
		records = []model.RawHistoryRecord{}
	}

	session.Records = records
	return &session, nil
}

func (d *DiskStorage) loadRecordsFromFile(sessionID string) ([]model.RawHistoryRecord, error) {
	data, err := os.ReadFile(d.recordsPath(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return []model.RawHistoryRecord{}, nil
	}
	if err != nil {
		return nil, err
	}

	var records []model.RawHistoryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// writeJSON 先写临时文件再重命名
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

func (d *DiskStorage) saveSessionIndex(indexes []*SessionIndex) error {
	return writeJSON(filepath.Join(d.dataDir, "sessions.json"), indexes)
}

func (d *DiskStorage) saveSessionToFile(session *model.Session) error {
	meta := *session
	meta.Records = nil
	return writeJSON(d.sessionPath(session.ID), meta)
}

func (d *DiskStorage) saveRecordsToFile(sessionID string, records []model.RawHistoryRecord) error {
	if records == nil {
		records = []model.RawHistoryRecord{}
	}
	return writeJSON(d.recordsPath(sessionID), records)
}

// persist 写入会话元数据、历史记录和索引，调用方持有写锁
func (d *DiskStorage) persist(session *model.Session) error {
	if err := d.saveSessionToFile(session); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := d.saveRecordsToFile(session.ID, session.Records); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := d.updateSessionIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.cache[session.ID] = session
	d.evictCache()
	return nil
}

// loadLocked 从缓存或文件读取会话，调用方持有写锁
func (d *DiskStorage) loadLocked(sessionID string) (*model.Session, error) {
	if session, exists := d.cache[sessionID]; exists {
		return session, nil
	}

	session, err := d.loadSessionFromFile(sessionID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	d.cache[sessionID] = session
	return session, nil
}

func (d *DiskStorage) CreateSession(session *model.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.persist(cloneSession(session))
}

func (d *DiskStorage) GetSession(sessionID string) (*model.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, err := d.loadLocked(sessionID)
	if err != nil {
		return nil, err
	}
	return cloneSession(session), nil
}

func (d *DiskStorage) UpdateSession(session *model.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.loadLocked(session.ID)
	if err != nil {
		return err
	}
	updated := cloneSession(existing)
	updated.Title = session.Title
	updated.UpdatedAt = session.UpdatedAt
	return d.persist(updated)
}

func (d *DiskStorage) DeleteSession(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sessionPath := d.sessionPath(sessionID)
	if _, err := os.Stat(sessionPath); errors.Is(err, os.ErrNotExist) {
		return ErrSessionNotFound
	}

	if err := os.Remove(sessionPath); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := os.Remove(d.recordsPath(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	delete(d.cache, sessionID)
	return d.updateSessionIndex()
}

func (d *DiskStorage) ListSessions() ([]*model.Session, error) {
	d.mu.RLock()
	indexes, err := d.readIndex()
	d.mu.RUnlock()
	if err != nil {
		if errors.Is(err, ErrInvalidData) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	sessions := make([]*model.Session, 0, len(indexes))
	for _, index := range indexes {
		sessions = append(sessions, &model.Session{
			ID:        index.ID,
			Title:     index.Title,
			CreatedAt: index.CreatedAt,
			UpdatedAt: index.UpdatedAt,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (d *DiskStorage) AppendRecords(sessionID string, records ...model.RawHistoryRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, err := d.loadLocked(sessionID)
	if err != nil {
		return err
	}

	appendRecords(session, records)
	return d.persist(session)
}

func (d *DiskStorage) GetRecords(sessionID string) ([]model.RawHistoryRecord, error) {
	session, err := d.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return session.Records, nil
}

func (d *DiskStorage) updateSessionIndex() error {
	files, err := os.ReadDir(filepath.Join(d.dataDir, "sessions"))
	if err != nil {
		return err
	}

	var indexes []*SessionIndex
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		sessionID := strings.TrimSuffix(file.Name(), ".json")
		data, err := os.ReadFile(d.sessionPath(sessionID))
		if err != nil {
			logger.Errorf("Failed to load session %s for index update: %v", sessionID, err)
			continue
		}
		var meta model.Session
		if err := json.Unmarshal(data, &meta); err != nil {
			logger.Errorf("Failed to decode session %s for index update: %v", sessionID, err)
			continue
		}

		indexes = append(indexes, &SessionIndex{
			ID:        meta.ID,
			Title:     meta.Title,
			CreatedAt: meta.CreatedAt,
			UpdatedAt: meta.UpdatedAt,
		})
	}

	return d.saveSessionIndex(indexes)
}

func (d *DiskStorage) evictCache() {
	if len(d.cache) <= d.cacheSize {
		return
	}

	type cacheEntry struct {
		id        string
		updatedAt time.Time
	}

	entries := make([]cacheEntry, 0, len(d.cache))
	for id, session := range d.cache {
		entries = append(entries, cacheEntry{id: id, updatedAt: session.UpdatedAt})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].updatedAt.Before(entries[j].updatedAt)
	})

	toEvict := len(d.cache) - d.cacheSize
	for i := 0; i < toEvict; i++ {
		delete(d.cache, entries[i].id)
	}
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[string]*model.Session)
	return nil
}

func (d *DiskStorage) Backup() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	backupDir := filepath.Join(d.dataDir, "backup", fmt.Sprintf("backup_%d", time.Now().UnixNano()))
	for _, dir := range []string{"sessions", "records"} {
		dstDir := filepath.Join(backupDir, dir)
		if err := os.MkdirAll(dstDir, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		if err := copyDir(filepath.Join(d.dataDir, dir), dstDir); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	if err := copyFile(filepath.Join(d.dataDir, "sessions.json"), filepath.Join(backupDir, "sessions.json")); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	logger.Infof("Backup completed: %s", backupDir)
	return nil
}

func copyDir(src, dst string) error {
	files, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, file.Name()), filepath.Join(dst, file.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
