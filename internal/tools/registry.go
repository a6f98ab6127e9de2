package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"chat-studio-core/internal/model"
	"chat-studio-core/pkg/logger"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handler 执行一次工具调用
type Handler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

type entry struct {
	tool    mcp.Tool
	handler Handler
}

// Registry 可供模型调用的工具集合，工具用 mcp.Tool 描述
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register 注册工具，同名工具会被覆盖
func (r *Registry) Register(tool mcp.Tool, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		logger.Warnf("tool %s registered twice, replacing", tool.Name)
	}
	r.tools[tool.Name] = entry{tool: tool, handler: handler}
}

// List 按名称排序的工具描述
func (r *Registry) List() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]mcp.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has 是否注册了该工具
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Call 执行工具请求。未知工具、参数错误和执行错误都转换为 IsError 的结果，不返回 error
func (r *Registry) Call(ctx context.Context, req model.ToolRequest) model.ToolResult {
	result := model.ToolResult{ID: req.ID, ToolName: req.Name}

	r.mu.RLock()
	e, ok := r.tools[req.Name]
	r.mu.RUnlock()
	if !ok {
		result.IsError = true
		result.Text = fmt.Sprintf("unknown tool: %s", req.Name)
		return result
	}

	args := map[string]any{}
	if strings.TrimSpace(req.Argument) != "" {
		if err := json.Unmarshal([]byte(req.Argument), &args); err != nil {
			result.IsError = true
			result.Text = fmt.Sprintf("invalid arguments: %v", err)
			return result
		}
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = req.Name
	callReq.Params.Arguments = args

	res, err := safeCall(ctx, e.handler, callReq)
	if err != nil {
		logger.Warnf("tool %s failed: %v", req.Name, err)
		result.IsError = true
		result.Text = err.Error()
		return result
	}

	result.IsError = res.IsError
	result.Text = ResultText(res)
	return result
}

func safeCall(ctx context.Context, h Handler, req mcp.CallToolRequest) (res *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panic: %v", r)
		}
	}()

	res, err = h(ctx, req)
	if err == nil && res == nil {
		err = fmt.Errorf("tool returned no result")
	}
	return res, err
}

// ResultText 拼接结果中的文本内容
func ResultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}

	var parts []string
	for _, content := range res.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
