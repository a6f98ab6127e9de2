package tools

import (
	"context"
	"fmt"
	"time"

	"chat-studio-core/pkg/logger"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// RemoteServer 外部 MCP 服务。Transport 为 stdio 时启动 Command 子进程，否则通过 URL 建立 SSE 连接
type RemoteServer struct {
	Name      string        `mapstructure:"name"`
	Transport string        `mapstructure:"transport"`
	URL       string        `mapstructure:"url"`
	Command   string        `mapstructure:"command"`
	Args      []string      `mapstructure:"args"`
	Env       []string      `mapstructure:"env"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func (s RemoteServer) newClient(ctx context.Context) (*client.Client, error) {
	if s.Transport == "stdio" {
		if s.Command == "" {
			return nil, fmt.Errorf("stdio server %s has no command", s.Name)
		}
		// stdio 客户端创建后自动启动子进程
		return client.NewStdioMCPClient(s.Command, s.Env, s.Args...)
	}

	cli, err := client.NewSSEMCPClient(s.URL)
	if err != nil {
		return nil, err
	}
	// SSE 连接的生命周期与 Start 的 ctx 绑定，不能使用带超时的 ctx
	if err := cli.Start(context.WithoutCancel(ctx)); err != nil {
		cli.Close()
		return nil, err
	}
	return cli, nil
}

// ConnectRemote 连接 MCP 服务并把它的工具注册为代理，返回的函数用于关闭连接
func ConnectRemote(ctx context.Context, r *Registry, server RemoteServer) (func() error, error) {
	timeout := server.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cli, err := server.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create mcp client %s: %w", server.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "chat-studio-core",
		Version: "1.0.0",
	}
	if _, err := cli.Initialize(ctx, initRequest); err != nil {
		cli.Close()
		return nil, fmt.Errorf("initialize mcp client %s: %w", server.Name, err)
	}

	listed, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("list tools of %s: %w", server.Name, err)
	}

	for _, tool := range listed.Tools {
		name := tool.Name
		r.Register(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			req.Params.Name = name
			return cli.CallTool(ctx, req)
		})
	}

	logger.Infof("MCP server %s loaded %d tools", server.Name, len(listed.Tools))
	return cli.Close, nil
}
