package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chat-studio-core/internal/model"
)

const EchoProviderID = "echo"

// EchoProvider 不依赖外部服务的脚本化提供商，用于本地运行和测试。
//
// 以 "/工具名 {参数}" 开头的输入会触发一次工具调用，拿到工具结果后再回复。
type EchoProvider struct {
	ChunkSize int
	Delay     time.Duration
	Think     bool
}

func NewEchoProvider(chunkSize int, delay time.Duration, think bool) *EchoProvider {
	if chunkSize <= 0 {
		chunkSize = 4
	}
	return &EchoProvider{ChunkSize: chunkSize, Delay: delay, Think: think}
}

func (p *EchoProvider) Info() model.ModelProvider {
	return model.ModelProvider{
		ProviderID:   EchoProviderID,
		ProviderName: "Echo",
		Models:       []model.ModelInfo{{ModelName: "echo-1", DisplayName: "Echo"}},
	}
}

func (p *EchoProvider) Stream(ctx context.Context, req Request) (<-chan Delta, <-chan error) {
	deltas := make(chan Delta, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		if len(req.Messages) == 0 {
			errs <- fmt.Errorf("empty conversation")
			return
		}
		last := req.Messages[len(req.Messages)-1]

		send := func(d Delta) bool {
			if err := ctx.Err(); err != nil {
				errs <- err
				return false
			}
			select {
			case deltas <- d:
			case <-ctx.Done():
				errs <- ctx.Err()
				return false
			}
			if p.Delay > 0 {
				select {
				case <-time.After(p.Delay):
				case <-ctx.Done():
					errs <- ctx.Err()
					return false
				}
			}
			return true
		}

		if last.Role == RoleUser {
			if call, ok := parseToolCommand(last.Content, req); ok {
				if p.Think && !send(Delta{Thinking: "需要调用工具 " + call.Name}) {
					return
				}
				send(Delta{ToolCalls: []model.ToolRequest{call}})
				return
			}
		}

		var reply string
		if last.Role == RoleTool {
			reply = "工具返回：" + last.Content
		} else {
			if p.Think && !send(Delta{Thinking: "复述用户输入"}) {
				return
			}
			reply = "收到：" + last.Content
		}

		runes := []rune(reply)
		for i := 0; i < len(runes); i += p.ChunkSize {
			end := min(i+p.ChunkSize, len(runes))
			if !send(Delta{Content: string(runes[i:end])}) {
				return
			}
		}
	}()

	return deltas, errs
}

// parseToolCommand 解析 "/name {json}"，只接受请求中提供了的工具
func parseToolCommand(content string, req Request) (model.ToolRequest, bool) {
	if !strings.HasPrefix(content, "/") {
		return model.ToolRequest{}, false
	}

	name, args, _ := strings.Cut(strings.TrimPrefix(content, "/"), " ")
	for _, tool := range req.Tools {
		if tool.Name != name {
			continue
		}
		args = strings.TrimSpace(args)
		if args == "" {
			args = "{}"
		}
		calls := 0
		for _, turn := range req.Messages {
			calls += len(turn.ToolCalls)
		}
		return model.ToolRequest{ID: fmt.Sprintf("call-%d", calls+1), Name: name, Argument: args}, true
	}
	return model.ToolRequest{}, false
}
