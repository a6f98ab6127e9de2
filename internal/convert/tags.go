package convert

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"chat-studio-core/internal/model"
)

// 内联伪标签，只在服务端尚未拆分字段的流式文本中出现
var (
	thinkRe      = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	toolCallRe   = regexp.MustCompile(`(?s)<tool_call((?:\s+[\w-]+="[^"]*")*)\s*>(.*?)</tool_call>`)
	toolResultRe = regexp.MustCompile(`(?s)<tool_result((?:\s+[\w-]+="[^"]*")*)\s*>(.*?)</tool_result>`)
	attrRe       = regexp.MustCompile(`([\w-]+)="([^"]*)"`)
)

// ExtractThinking 提取第一个完整的 think 块，返回思考内容和去掉该块后的文本。
// 未闭合的标签原样保留。
func ExtractThinking(text string) (thinking, remaining string) {
	loc := thinkRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", text
	}
	thinking = strings.TrimSpace(text[loc[2]:loc[3]])
	remaining = strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
	return thinking, remaining
}

type segment struct {
	start, end int
	result     bool
	attrs      map[string]string
	body       string
}

// ExtractToolSegments 提取工具调用块和结果块。
//
// 调用块缺少 id 时按出现顺序生成 tool-<n>；结果块缺少 id 时归属于最近的前一个调用块。
// 没有对应调用的结果被丢弃。
func ExtractToolSegments(text string) (requests []model.ToolRequest, results []model.ToolResult, remaining string) {
	segments := findSegments(text)
	if len(segments) == 0 {
		return nil, nil, text
	}

	known := make(map[string]bool)
	lastCallID := ""
	callIndex := 0
	for _, seg := range segments {
		if !seg.result {
			id := seg.attrs["id"]
			if id == "" {
				id = fmt.Sprintf("tool-%d", callIndex)
			}
			callIndex++
			requests = append(requests, model.ToolRequest{
				ID:       id,
				Name:     seg.attrs["name"],
				Argument: strings.TrimSpace(seg.body),
			})
			known[id] = true
			lastCallID = id
			continue
		}

		id := seg.attrs["id"]
		if id == "" {
			id = lastCallID
		}
		if id == "" || !known[id] {
			continue
		}
		results = append(results, model.ToolResult{
			ID:       id,
			ToolName: seg.attrs["name"],
			Text:     strings.TrimSpace(seg.body),
			IsError:  seg.attrs["error"] == "true",
		})
	}

	var sb strings.Builder
	prev := 0
	for _, seg := range segments {
		sb.WriteString(text[prev:seg.start])
		prev = seg.end
	}
	sb.WriteString(text[prev:])

	return requests, results, strings.TrimSpace(sb.String())
}

// RemoveAllTags 删除所有完整的 think/tool_call/tool_result 块，直到文本不再变化
func RemoveAllTags(text string) string {
	for {
		next := thinkRe.ReplaceAllLiteralString(text, "")
		next = toolCallRe.ReplaceAllLiteralString(next, "")
		next = toolResultRe.ReplaceAllLiteralString(next, "")
		if next == text {
			break
		}
		text = next
	}
	return strings.TrimSpace(text)
}

// HasTags 文本中是否存在任意完整的伪标签块
func HasTags(text string) bool {
	return thinkRe.MatchString(text) || toolCallRe.MatchString(text) || toolResultRe.MatchString(text)
}

// SplitStreamed 把流式累积文本拆分到消息字段上。
// 每次都从完整累积值重新推导，同一文本多次调用结果一致。
func SplitStreamed(msg model.Message, accumulated string) model.Message {
	if !HasTags(accumulated) {
		msg.Content = accumulated
		msg.Thinking = ""
		msg.ToolRequests = nil
		msg.ToolResults = nil
		return msg
	}

	thinking, rest := ExtractThinking(accumulated)
	requests, results, _ := ExtractToolSegments(rest)

	msg.Thinking = thinking
	msg.ToolRequests = requests
	msg.ToolResults = MatchResults(requests, results)
	msg.Content = RemoveAllTags(accumulated)
	return msg
}

func findSegments(text string) []segment {
	var segments []segment
	collect := func(re *regexp.Regexp, result bool) {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			segments = append(segments, segment{
				start:  loc[0],
				end:    loc[1],
				result: result,
				attrs:  parseAttrs(text[loc[2]:loc[3]]),
				body:   text[loc[4]:loc[5]],
			})
		}
	}
	collect(toolCallRe, false)
	collect(toolResultRe, true)

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].start < segments[j].start
	})

	// 嵌套在其他块内部的匹配不单独计算
	filtered := segments[:0]
	end := -1
	for _, seg := range segments {
		if seg.start < end {
			continue
		}
		filtered = append(filtered, seg)
		end = seg.end
	}
	return filtered
}

func parseAttrs(raw string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(raw, -1) {
		attrs[m[1]] = m[2]
	}
	return attrs
}

// FormatThinking 生成 think 块
func FormatThinking(thinking string) string {
	return "<think>" + thinking + "</think>"
}

// FormatToolCall 生成工具调用块，属性值中的引号会被去掉
func FormatToolCall(req model.ToolRequest) string {
	return fmt.Sprintf(`<tool_call id="%s" name="%s">%s</tool_call>`,
		attrValue(req.ID), attrValue(req.Name), req.Argument)
}

// FormatToolResult 生成工具结果块
func FormatToolResult(res model.ToolResult) string {
	errAttr := ""
	if res.IsError {
		errAttr = ` error="true"`
	}
	return fmt.Sprintf(`<tool_result id="%s" name="%s"%s>%s</tool_result>`,
		attrValue(res.ID), attrValue(res.ToolName), errAttr, res.Text)
}

func attrValue(v string) string {
	return strings.ReplaceAll(v, `"`, "")
}
