package convert

import (
	"slices"
	"sort"
	"strings"

	"chat-studio-core/internal/model"
)

// Reconstruct 把持久化的扁平历史记录还原为有序、合并后的会话消息。
//
// 旧版 TOOL_EXECUTION_RESULT 记录不进入主序列，只作为按请求 id 查找结果的旁路表。
// 其余记录按 ParentID 稳定排序；没有文本但带思考或工具请求的 AI 记录是待合并片段，
// 会并入之后第一条带文本的 AI 记录。单条损坏记录降级为空内容消息。
func Reconstruct(records []model.RawHistoryRecord) []model.Message {
	var legacy []model.ToolResult
	primary := make([]model.RawHistoryRecord, 0, len(records))
	for _, rec := range records {
		if rec.MessageType == model.MessageTypeToolResult && !rec.Malformed {
			legacy = append(legacy, model.ToolResult{
				ID:       rec.ID,
				ToolName: rec.ToolName,
				Text:     rec.Text,
				IsError:  rec.IsError,
			})
			continue
		}
		primary = append(primary, rec)
	}

	sort.SliceStable(primary, func(i, j int) bool {
		return primary[i].ParentID < primary[j].ParentID
	})

	merged := mergeFragments(primary)
	messages := make([]model.Message, 0, len(merged))
	for _, rec := range merged {
		messages = append(messages, toMessage(rec, legacy))
	}
	return messages
}

func mergeFragments(records []model.RawHistoryRecord) []model.RawHistoryRecord {
	out := make([]model.RawHistoryRecord, 0, len(records))
	var pending *model.RawHistoryRecord

	for _, rec := range records {
		// 用户记录直接输出，不消费待合并片段
		if rec.Malformed || rec.MessageType != model.MessageTypeAI {
			out = append(out, rec)
			continue
		}

		if isBlank(rec.Text) {
			if pending == nil {
				if !isFragment(rec) {
					out = append(out, rec)
					continue
				}
				held := cloneRecord(rec)
				pending = &held
				continue
			}
			pending.ToolRequests = append(pending.ToolRequests, rec.ToolRequests...)
			pending.ToolResponses = append(pending.ToolResponses, rec.ToolResponses...)
			if pending.Thinking == "" {
				pending.Thinking = rec.Thinking
			}
			continue
		}

		if pending != nil {
			out = append(out, promote(*pending, rec))
			pending = nil
			continue
		}
		out = append(out, rec)
	}

	// 未完成的片段保留在它自己的排序位置上
	if pending != nil {
		idx := sort.Search(len(out), func(i int) bool {
			return out[i].ParentID > pending.ParentID
		})
		out = slices.Insert(out, idx, *pending)
	}
	return out
}

func promote(held, rec model.RawHistoryRecord) model.RawHistoryRecord {
	merged := rec
	merged.Thinking = held.Thinking
	if merged.Thinking == "" {
		merged.Thinking = rec.Thinking
	}
	merged.ToolRequests = append(slices.Clone(held.ToolRequests), rec.ToolRequests...)
	merged.ToolResponses = append(slices.Clone(held.ToolResponses), rec.ToolResponses...)
	if merged.DateTime == "" {
		merged.DateTime = held.DateTime
	}
	return merged
}

func toMessage(rec model.RawHistoryRecord, legacy []model.ToolResult) model.Message {
	if rec.Malformed {
		return model.Message{
			Role:      roleOf(rec.MessageType),
			Timestamp: rec.DateTime,
		}
	}

	if rec.MessageType == model.MessageTypeUser {
		return model.Message{
			Role:       model.RoleUser,
			Content:    userText(rec),
			Attachment: firstAttachment(rec.Contents),
			Timestamp:  rec.DateTime,
		}
	}

	msg := model.Message{
		Role:         model.RoleAssistant,
		Content:      rec.Text,
		Thinking:     rec.Thinking,
		ToolRequests: slices.Clone(rec.ToolRequests),
		Timestamp:    rec.DateTime,
	}

	structured := rec.Thinking != "" || len(rec.ToolRequests) > 0 || len(rec.ToolResponses) > 0
	if !structured && HasTags(rec.Text) {
		return SplitStreamed(msg, rec.Text)
	}

	candidates := append(slices.Clone(rec.ToolResponses), legacy...)
	msg.ToolResults = MatchResults(msg.ToolRequests, candidates)
	return msg
}

func userText(rec model.RawHistoryRecord) string {
	for _, item := range rec.Contents {
		if item.ContentType == model.ContentText {
			return item.Text
		}
	}
	return rec.Text
}

// firstAttachment 第一个非 TEXT 的内容项，未标注类型的内容项也算附件
func firstAttachment(contents []model.ContentItem) *model.Attachment {
	for _, item := range contents {
		if item.ContentType != model.ContentText {
			return &model.Attachment{ContentType: item.ContentType, URL: item.URL}
		}
	}
	return nil
}

func roleOf(t model.MessageType) model.Role {
	if t == model.MessageTypeUser {
		return model.RoleUser
	}
	return model.RoleAssistant
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func isFragment(rec model.RawHistoryRecord) bool {
	return rec.Thinking != "" || len(rec.ToolRequests) > 0
}

func cloneRecord(rec model.RawHistoryRecord) model.RawHistoryRecord {
	rec.Contents = slices.Clone(rec.Contents)
	rec.ToolRequests = slices.Clone(rec.ToolRequests)
	rec.ToolResponses = slices.Clone(rec.ToolResponses)
	return rec
}
