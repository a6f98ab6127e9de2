package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"chat-studio-core/internal/model"
	"chat-studio-core/internal/utils"
	"chat-studio-core/pkg/logger"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	EinoKindArk  = "ark"
	EinoKindQwen = "qwen"
)

// EinoConfig 通过 eino ChatModel 接入的模型服务（豆包 ark、通义 qwen）
type EinoConfig struct {
	Kind         string
	ProviderID   string
	ProviderName string
	APIKey       string
	BaseURL      string
	Models       []string
	MaxTokens    int
	Temperature  float32
	Timeout      time.Duration
}

type chatModelFactory func(ctx context.Context, modelName string) (einoModel.ChatModel, error)

// EinoProvider 每轮请求新建 ChatModel 并绑定本轮的工具
type EinoProvider struct {
	cfg      EinoConfig
	newModel chatModelFactory
}

func NewEinoProvider(cfg EinoConfig) (*EinoProvider, error) {
	if cfg.ProviderID == "" {
		cfg.ProviderID = cfg.Kind
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = cfg.ProviderID
	}

	p := &EinoProvider{cfg: cfg}
	switch cfg.Kind {
	case EinoKindArk:
		p.newModel = p.newArkModel
	case EinoKindQwen:
		p.newModel = p.newQwenModel
	default:
		return nil, fmt.Errorf("unsupported eino model kind: %s", cfg.Kind)
	}
	return p, nil
}

func (p *EinoProvider) newArkModel(ctx context.Context, modelName string) (einoModel.ChatModel, error) {
	cfg := &ark.ChatModelConfig{
		APIKey:  p.cfg.APIKey,
		BaseURL: p.cfg.BaseURL,
		Model:   modelName,
		CustomHeader: map[string]string{
			"X-Ark-Thinking-Mode": "disable",
		},
	}
	if p.cfg.MaxTokens > 0 {
		cfg.MaxTokens = &p.cfg.MaxTokens
	}
	if p.cfg.Temperature > 0 {
		cfg.Temperature = &p.cfg.Temperature
	}
	return ark.NewChatModel(ctx, cfg)
}

func (p *EinoProvider) newQwenModel(ctx context.Context, modelName string) (einoModel.ChatModel, error) {
	cfg := &qwen.ChatModelConfig{
		BaseURL:    p.cfg.BaseURL,
		APIKey:     p.cfg.APIKey,
		Model:      modelName,
		Timeout:    p.cfg.Timeout,
		HTTPClient: utils.NewHTTPClient(p.cfg.Timeout),
	}
	if p.cfg.MaxTokens > 0 {
		cfg.MaxTokens = &p.cfg.MaxTokens
	}
	if p.cfg.Temperature > 0 {
		cfg.Temperature = &p.cfg.Temperature
	}
	return qwen.NewChatModel(ctx, cfg)
}

func (p *EinoProvider) Info() model.ModelProvider {
	models := make([]model.ModelInfo, 0, len(p.cfg.Models))
	for _, name := range p.cfg.Models {
		models = append(models, model.ModelInfo{ModelName: name})
	}
	return model.ModelProvider{
		ProviderID:   p.cfg.ProviderID,
		ProviderName: p.cfg.ProviderName,
		Models:       models,
	}
}

func (p *EinoProvider) Stream(ctx context.Context, req Request) (<-chan Delta, <-chan error) {
	deltas := make(chan Delta, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		chatModel, err := p.newModel(ctx, req.Model)
		if err != nil {
			errs <- fmt.Errorf("create chat model: %w", err)
			return
		}
		// BindTools 会修改模型，每轮使用新建的实例
		if infos := toToolInfos(req.Tools); len(infos) > 0 {
			if err := chatModel.BindTools(infos); err != nil {
				errs <- fmt.Errorf("bind tools: %w", err)
				return
			}
		}

		reader, err := chatModel.Stream(ctx, toSchemaMessages(req.Messages))
		if err != nil {
			errs <- fmt.Errorf("create stream: %w", err)
			return
		}
		defer reader.Close()

		calls := newToolCallAccumulator()
		for {
			msg, err := reader.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errs <- fmt.Errorf("receive stream: %w", err)
				return
			}
			if msg == nil {
				continue
			}

			for i, call := range msg.ToolCalls {
				calls.addPart(i, call.Index, call.ID, call.Function.Name, call.Function.Arguments)
			}
			if msg.Content == "" {
				continue
			}
			select {
			case deltas <- Delta{Content: msg.Content}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}

		if requests := calls.requests(); len(requests) > 0 {
			logger.Debugf("model %s requested %d tool calls", req.Model, len(requests))
			select {
			case deltas <- Delta{ToolCalls: requests}:
			case <-ctx.Done():
				errs <- ctx.Err()
			}
		}
	}()

	return deltas, errs
}

func toSchemaMessages(turns []Turn) []*schema.Message {
	out := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleSystem:
			out = append(out, schema.SystemMessage(turn.Content))
		case RoleUser:
			out = append(out, schema.UserMessage(turn.Content))
		case RoleTool:
			out = append(out, schema.ToolMessage(turn.Content, turn.ToolCallID))
		case RoleAssistant:
			if turn.Content == "" && len(turn.ToolCalls) == 0 {
				continue
			}
			calls := make([]schema.ToolCall, 0, len(turn.ToolCalls))
			for _, call := range turn.ToolCalls {
				calls = append(calls, schema.ToolCall{
					ID:   call.ID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      call.Name,
						Arguments: call.Argument,
					},
				})
			}
			out = append(out, schema.AssistantMessage(turn.Content, calls))
		}
	}
	return out
}

func toToolInfos(tools []mcp.Tool) []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, tool := range tools {
		params := make(map[string]*schema.ParameterInfo, len(tool.InputSchema.Properties))
		for name, prop := range tool.InputSchema.Properties {
			params[name] = toParameterInfo(prop)
		}
		for _, name := range tool.InputSchema.Required {
			if info, ok := params[name]; ok {
				info.Required = true
			}
		}

		infos = append(infos, &schema.ToolInfo{
			Name:        tool.Name,
			Desc:        tool.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos
}

// toParameterInfo 把 JSON Schema 属性转换为 eino 参数描述，未知类型按字符串处理
func toParameterInfo(prop any) *schema.ParameterInfo {
	info := &schema.ParameterInfo{Type: schema.String}
	m, ok := prop.(map[string]any)
	if !ok {
		return info
	}

	if desc, ok := m["description"].(string); ok {
		info.Desc = desc
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, v := range enum {
			info.Enum = append(info.Enum, fmt.Sprint(v))
		}
	}

	switch m["type"] {
	case "number":
		info.Type = schema.Number
	case "integer":
		info.Type = schema.Integer
	case "boolean":
		info.Type = schema.Boolean
	case "array":
		info.Type = schema.Array
		info.ElemInfo = toParameterInfo(m["items"])
	case "object":
		info.Type = schema.Object
		if props, ok := m["properties"].(map[string]any); ok {
			info.SubParams = make(map[string]*schema.ParameterInfo, len(props))
			for name, sub := range props {
				info.SubParams[name] = toParameterInfo(sub)
			}
		}
	}
	return info
}
