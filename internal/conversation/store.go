package conversation

import (
	"fmt"
	"sync"

	"chat-studio-core/internal/model"
)

// Listener 接收每次变更后的消息快照
type Listener func(messages []*model.Message)

// Store 当前会话的有序消息列表。
//
// 每次变更都生成新的切片，未被修改的条目保持同一个指针，
// 因此按指针比较的订阅方可以只处理真正变化的消息。
type Store struct {
	mu        sync.RWMutex
	messages  []*model.Message
	keys      map[string]struct{}
	counter   int
	listeners []Listener
}

// NewStore 创建空的 Store
func NewStore() *Store {
	return &Store{keys: make(map[string]struct{})}
}

// Subscribe 注册变更监听，返回取消函数。监听在锁外调用
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, l)
	idx := len(s.listeners) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners[idx] = nil
	}
}

// Append 追加一条消息并返回它的 key
func (s *Store) Append(msg model.Message) string {
	s.mu.Lock()
	msg.Key = s.assignKey(msg, len(s.messages))
	next := make([]*model.Message, len(s.messages), len(s.messages)+1)
	copy(next, s.messages)
	s.messages = append(next, &msg)
	snapshot, listeners := s.messages, s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snapshot)
	return msg.Key
}

// ReplaceAll 用一次加载的结果替换全部消息
func (s *Store) ReplaceAll(msgs []model.Message) {
	s.mu.Lock()
	s.keys = make(map[string]struct{}, len(msgs))
	next := make([]*model.Message, 0, len(msgs))
	for i := range msgs {
		msg := msgs[i]
		msg.Key = s.assignKey(msg, i)
		next = append(next, &msg)
	}
	s.messages = next
	snapshot, listeners := s.messages, s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snapshot)
}

// UpdateByID 用 update 的返回值替换 key 对应的消息，位置和其他条目不变。
// key 不存在时返回 false
func (s *Store) UpdateByID(key string, update func(model.Message) model.Message) bool {
	s.mu.Lock()
	idx := -1
	for i, msg := range s.messages {
		if msg.Key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	updated := update(*s.messages[idx])
	updated.Key = key
	next := make([]*model.Message, len(s.messages))
	copy(next, s.messages)
	next[idx] = &updated
	s.messages = next
	snapshot, listeners := s.messages, s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snapshot)
	return true
}

// Clear 清空消息
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.keys = make(map[string]struct{})
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, nil)
}

// Snapshot 返回当前有序消息的副本
func (s *Store) Snapshot() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Message, len(s.messages))
	for i, msg := range s.messages {
		out[i] = *msg
	}
	return out
}

// Entries 返回当前的指针切片，调用方不得修改
func (s *Store) Entries() []*model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages
}

// Get 按 key 读取消息
func (s *Store) Get(key string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.messages {
		if msg.Key == key {
			return *msg, true
		}
	}
	return model.Message{}, false
}

// Len 消息数量
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// assignKey 按 调用方指定 > role-dateTime-index > live-n 的顺序生成 key，
// 同一次加载内重复的 key 追加 #n 后缀。调用方持有锁
func (s *Store) assignKey(msg model.Message, index int) string {
	key := msg.Key
	if key == "" {
		if msg.Timestamp != "" {
			key = fmt.Sprintf("%s-%s-%d", msg.Role, msg.Timestamp, index)
		} else {
			s.counter++
			key = fmt.Sprintf("live-%d", s.counter)
		}
	}

	unique := key
	for n := 1; ; n++ {
		if _, exists := s.keys[unique]; !exists {
			break
		}
		unique = fmt.Sprintf("%s#%d", key, n)
	}
	s.keys[unique] = struct{}{}
	return unique
}

func (s *Store) listenersLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func notify(listeners []Listener, snapshot []*model.Message) {
	for _, l := range listeners {
		l(snapshot)
	}
}
