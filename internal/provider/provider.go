package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"chat-studio-core/internal/model"

	"github.com/mark3labs/mcp-go/mcp"
)

var ErrUnknownModel = errors.New("unknown model")

// Turn 发给模型的一条上下文消息
type Turn struct {
	Role       string
	Content    string
	ToolCalls  []model.ToolRequest
	ToolCallID string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Request 一轮生成请求
type Request struct {
	Model    string
	Messages []Turn
	Tools    []mcp.Tool
}

// Delta 生成过程中的一个增量。ToolCalls 只在本轮结束时给出完整的调用
type Delta struct {
	Content   string
	Thinking  string
	ToolCalls []model.ToolRequest
}

// Provider 流式生成回复的模型提供商
type Provider interface {
	Info() model.ModelProvider
	Stream(ctx context.Context, req Request) (<-chan Delta, <-chan error)
}

// Registry 按 providerId 管理 Provider，第一个注册的是默认提供商
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.Info().ProviderID
	if _, exists := r.providers[id]; !exists {
		r.order = append(r.order, id)
	}
	r.providers[id] = p
}

// Default 默认提供商的第一个模型
func (r *Registry) Default() (*model.ModelRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		info := r.providers[id].Info()
		if len(info.Models) > 0 {
			return &model.ModelRef{ProviderID: id, ModelName: info.Models[0].ModelName}, nil
		}
	}
	return nil, ErrUnknownModel
}

// List 所有提供商及其模型，按注册顺序
func (r *Registry) List() []model.ModelProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ModelProvider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id].Info())
	}
	return out
}

// Resolve 找到请求的 Provider 和模型名；为空时使用默认模型
func (r *Registry) Resolve(providerID, modelName string) (Provider, string, error) {
	if providerID == "" && modelName == "" {
		def, err := r.Default()
		if err != nil {
			return nil, "", err
		}
		providerID, modelName = def.ProviderID, def.ModelName
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if providerID == "" {
		ids := append([]string(nil), r.order...)
		sort.Strings(ids)
		for _, id := range ids {
			if hasModel(r.providers[id].Info(), modelName) {
				return r.providers[id], modelName, nil
			}
		}
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}

	p, ok := r.providers[providerID]
	if !ok {
		return nil, "", fmt.Errorf("%w: provider %s", ErrUnknownModel, providerID)
	}
	info := p.Info()
	if modelName == "" && len(info.Models) > 0 {
		modelName = info.Models[0].ModelName
	}
	if !hasModel(info, modelName) {
		return nil, "", fmt.Errorf("%w: %s/%s", ErrUnknownModel, providerID, modelName)
	}
	return p, modelName, nil
}

func hasModel(info model.ModelProvider, name string) bool {
	for _, m := range info.Models {
		if m.ModelName == name {
			return true
		}
	}
	return false
}
