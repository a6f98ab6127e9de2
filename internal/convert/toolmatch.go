package convert

import "chat-studio-core/internal/model"

// MatchResults 按 id 为每个工具请求查找结果，输出顺序与请求一致。
//
// 没有结果的请求不出现在输出中（展示层视为执行中）；同一 id 的候选只取第一个。
// 错误结果只保留状态，文本被清空。
func MatchResults(requests []model.ToolRequest, candidates []model.ToolResult) []model.ToolResult {
	if len(requests) == 0 || len(candidates) == 0 {
		return nil
	}

	byID := make(map[string]model.ToolResult, len(candidates))
	for _, c := range candidates {
		if _, exists := byID[c.ID]; !exists {
			byID[c.ID] = c
		}
	}

	var matched []model.ToolResult
	emitted := make(map[string]bool, len(requests))
	for _, req := range requests {
		res, ok := byID[req.ID]
		if !ok || emitted[req.ID] {
			continue
		}
		emitted[req.ID] = true
		if res.ToolName == "" {
			res.ToolName = req.Name
		}
		if res.IsError {
			res.Text = ""
		}
		matched = append(matched, res)
	}
	return matched
}

// ToolStatusOf 工具请求在展示层的状态
func ToolStatusOf(req model.ToolRequest, results []model.ToolResult) model.ToolStatus {
	for _, res := range results {
		if res.ID != req.ID {
			continue
		}
		if res.IsError {
			return model.ToolError
		}
		return model.ToolSuccess
	}
	return model.ToolPending
}
