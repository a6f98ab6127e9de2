package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
)

// RegisterBuiltin 注册内置工具
func RegisterBuiltin(r *Registry) {
	r.Register(currentTimeTool(), currentTime)
	r.Register(calculatorTool(), calculate)
	r.Register(textStatsTool(), textStats)
}

func currentTimeTool() mcp.Tool {
	return mcp.NewTool("current_time",
		mcp.WithDescription("获取指定时区的当前时间"),
		mcp.WithString("timezone",
			mcp.Description("IANA 时区名，例如 Asia/Shanghai，默认 UTC"),
		),
	)
}

func currentTime(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	zone := stringArg(req, "timezone")
	if zone == "" {
		zone = "UTC"
	}

	loc, err := time.LoadLocation(zone)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unknown timezone %q", zone)), nil
	}
	return mcp.NewToolResultText(time.Now().In(loc).Format(time.DateTime)), nil
}

func calculatorTool() mcp.Tool {
	return mcp.NewTool("calculator",
		mcp.WithDescription("对两个数做四则运算"),
		mcp.WithString("a", mcp.Required(), mcp.Description("第一个操作数")),
		mcp.WithString("op", mcp.Required(), mcp.Description("运算符：+ - * /")),
		mcp.WithString("b", mcp.Required(), mcp.Description("第二个操作数")),
	)
}

func calculate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, errA := strconv.ParseFloat(stringArg(req, "a"), 64)
	b, errB := strconv.ParseFloat(stringArg(req, "b"), 64)
	if errA != nil || errB != nil {
		return mcp.NewToolResultError("operands must be numbers"), nil
	}

	var v float64
	switch op := stringArg(req, "op"); op {
	case "+":
		v = a + b
	case "-":
		v = a - b
	case "*":
		v = a * b
	case "/":
		if b == 0 {
			return mcp.NewToolResultError("division by zero"), nil
		}
		v = a / b
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unsupported operator %q", op)), nil
	}
	return mcp.NewToolResultText(strconv.FormatFloat(v, 'f', -1, 64)), nil
}

func textStatsTool() mcp.Tool {
	return mcp.NewTool("text_stats",
		mcp.WithDescription("统计文本的字符数、词数和行数"),
		mcp.WithString("text", mcp.Required(), mcp.Description("要统计的文本")),
	)
}

func textStats(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := stringArg(req, "text")
	lines := 0
	if text != "" {
		lines = strings.Count(text, "\n") + 1
	}
	return mcp.NewToolResultText(fmt.Sprintf("chars=%d words=%d lines=%d",
		utf8.RuneCountInString(text), len(strings.Fields(text)), lines)), nil
}

// stringArg 读取参数并转换为字符串，数字参数也接受
func stringArg(req mcp.CallToolRequest, name string) string {
	v, ok := req.GetArguments()[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
