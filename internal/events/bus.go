package events

import (
	"sync"

	"chat-studio-core/internal/model"
)

// Type 事件类型
type Type string

const (
	SessionCreated  Type = "session_created"
	SessionSelected Type = "session_selected"
	StreamFinished  Type = "stream_finished"
	Notice          Type = "notice"
	ModelChanged    Type = "model_changed"
)

// Event 发布给展示层的事件
type Event struct {
	Type      Type
	SessionID string
	Status    model.Status
	Model     *model.ModelRef
	Message   string
	Err       error
}

// Handler 事件处理函数
type Handler func(Event)

// Bus 进程内的发布订阅，由使用方显式创建并注入
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]*Handler
	all      []*Handler
}

// NewBus 创建 Bus
func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]*Handler)}
}

// Subscribe 订阅指定类型；不传类型时订阅全部。返回取消订阅函数
func (b *Bus) Subscribe(h Handler, types ...Type) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ref := &h
	if len(types) == 0 {
		b.all = append(b.all, ref)
	}
	for _, t := range types {
		b.handlers[t] = append(b.handlers[t], ref)
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, ref)
		for _, t := range types {
			b.handlers[t] = remove(b.handlers[t], ref)
		}
	}
}

// Publish 同步调用订阅方，nil Bus 上是空操作
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	targets := make([]*Handler, 0, len(b.handlers[ev.Type])+len(b.all))
	targets = append(targets, b.handlers[ev.Type]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, h := range targets {
		(*h)(ev)
	}
}

func remove(list []*Handler, ref *Handler) []*Handler {
	out := list[:0:0]
	for _, h := range list {
		if h != ref {
			out = append(out, h)
		}
	}
	return out
}
