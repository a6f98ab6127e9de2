package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"chat-studio-core/internal/model"
	"chat-studio-core/pkg/logger"

	"github.com/mark3labs/mcp-go/mcp"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig OpenAI 兼容接口的配置，豆包、通义等兼容服务通过 BaseURL 接入
type OpenAIConfig struct {
	ProviderID   string
	ProviderName string
	APIKey       string
	BaseURL      string
	Models       []string
	MaxTokens    int
	Temperature  float32
}

type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.ProviderID == "" {
		cfg.ProviderID = "openai"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "OpenAI"
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}
}

func (p *OpenAIProvider) Info() model.ModelProvider {
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

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan Delta, <-chan error) {
	deltas := make(chan Delta, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       req.Model,
			Messages:    convertTurns(req.Messages),
			Tools:       convertTools(req.Tools),
			MaxTokens:   p.cfg.MaxTokens,
			Temperature: p.cfg.Temperature,
			Stream:      true,
		})
		if err != nil {
			errs <- fmt.Errorf("create stream: %w", err)
			return
		}
		defer stream.Close()

		calls := newToolCallAccumulator()
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errs <- fmt.Errorf("receive stream: %w", err)
				return
			}
			if len(response.Choices) == 0 {
				continue
			}

			delta := response.Choices[0].Delta
			calls.add(delta.ToolCalls)
			if delta.Content == "" {
				continue
			}
			select {
			case deltas <- Delta{Content: delta.Content}:
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

func convertTurns(turns []Turn) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		msg := openai.ChatCompletionMessage{
			Role:       turn.Role,
			Content:    turn.Content,
			ToolCallID: turn.ToolCallID,
		}
		for _, call := range turn.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Argument,
				},
			})
		}
		// 空的 assistant 消息会被部分兼容服务拒绝
		if msg.Role == RoleAssistant && msg.Content == "" && len(msg.ToolCalls) == 0 {
			continue
		}
		result = append(result, msg)
	}
	return result
}

func convertTools(tools []mcp.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		params := map[string]any{
			"type":       tool.InputSchema.Type,
			"properties": tool.InputSchema.Properties,
		}
		if len(tool.InputSchema.Required) > 0 {
			params["required"] = tool.InputSchema.Required
		}

		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

// toolCallAccumulator 按 index 拼接流式下发的工具调用片段
type toolCallAccumulator struct {
	calls map[int]*model.ToolRequest
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*model.ToolRequest)}
}

func (a *toolCallAccumulator) add(parts []openai.ToolCall) {
	for i, part := range parts {
		a.addPart(i, part.Index, part.ID, part.Function.Name, part.Function.Arguments)
	}
}

// addPart 合并一个调用片段；没有 index 时使用片段在本次增量中的位置
func (a *toolCallAccumulator) addPart(pos int, index *int, id, name, arguments string) {
	idx := pos
	if index != nil {
		idx = *index
	}

	call, ok := a.calls[idx]
	if !ok {
		call = &model.ToolRequest{}
		a.calls[idx] = call
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Name = name
	}
	call.Argument += arguments
}

func (a *toolCallAccumulator) requests() []model.ToolRequest {
	indexes := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]model.ToolRequest, 0, len(indexes))
	for _, idx := range indexes {
		call := *a.calls[idx]
		if call.ID == "" {
			call.ID = fmt.Sprintf("call-%d", idx)
		}
		out = append(out, call)
	}
	return out
}
