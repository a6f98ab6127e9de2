package tools

import (
	"context"
	"strings"
	"testing"

	"chat-studio-core/internal/model"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestRegistryCall(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltin(r)

	tests := []struct {
		name      string
		req       model.ToolRequest
		wantError bool
		wantText  string
	}{
		{"calculator", model.ToolRequest{ID: "1", Name: "calculator", Argument: `{"a":"6","op":"*","b":7}`}, false, "42"},
		{"division by zero", model.ToolRequest{ID: "2", Name: "calculator", Argument: `{"a":"1","op":"/","b":"0"}`}, true, "division by zero"},
		{"text stats", model.ToolRequest{ID: "3", Name: "text_stats", Argument: `{"text":"hello world\nbye"}`}, false, "chars=15 words=3 lines=2"},
		{"unknown tool", model.ToolRequest{ID: "4", Name: "nope"}, true, "unknown tool: nope"},
		{"bad json", model.ToolRequest{ID: "5", Name: "calculator", Argument: `{`}, true, "invalid arguments"},
		{"bad timezone", model.ToolRequest{ID: "6", Name: "current_time", Argument: `{"timezone":"Mars/Base"}`}, true, "unknown timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Call(context.Background(), tt.req)
			if got.ID != tt.req.ID || got.ToolName != tt.req.Name {
				t.Errorf("result not correlated: %+v", got)
			}
			if got.IsError != tt.wantError {
				t.Errorf("IsError = %v, want %v (%s)", got.IsError, tt.wantError, got.Text)
			}
			if !strings.Contains(got.Text, tt.wantText) {
				t.Errorf("Text = %q, want it to contain %q", got.Text, tt.wantText)
			}
		})
	}
}

func TestRegistryRecoversPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(mcp.NewTool("boom"), func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		panic("bad tool")
	})

	got := r.Call(context.Background(), model.ToolRequest{ID: "x", Name: "boom"})
	if !got.IsError || !strings.Contains(got.Text, "bad tool") {
		t.Errorf("expected panic converted to error result, got %+v", got)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltin(r)

	names := []string{}
	for _, tool := range r.List() {
		names = append(names, tool.Name)
	}
	if strings.Join(names, ",") != "calculator,current_time,text_stats" {
		t.Errorf("unexpected tools: %v", names)
	}
	if !r.Has("calculator") || r.Has("missing") {
		t.Error("Has reports wrong membership")
	}
}

func TestConnectRemoteStdioWithoutCommand(t *testing.T) {
	r := NewRegistry()
	_, err := ConnectRemote(context.Background(), r, RemoteServer{Name: "local", Transport: "stdio"})
	if err == nil || !strings.Contains(err.Error(), "no command") {
		t.Errorf("err = %v", err)
	}
	if len(r.List()) != 0 {
		t.Errorf("tools registered on failure: %+v", r.List())
	}
}
