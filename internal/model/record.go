package model

// MessageType 持久化历史记录的类型
type MessageType string

const (
	MessageTypeUser MessageType = "USER"
	MessageTypeAI   MessageType = "AI"
	// MessageTypeToolResult 只出现在旧版历史编码中
	MessageTypeToolResult MessageType = "TOOL_EXECUTION_RESULT"
)

// ContentItem 用户消息的内容项
type ContentItem struct {
	ContentType ContentType `json:"contentType"`
	Text        string      `json:"text,omitempty"`
	URL         string      `json:"url,omitempty"`
	DetailLevel string      `json:"detailLevel,omitempty"`
}

// RawHistoryRecord 服务端持久化的历史消息
//
// ParentID 是单调递增的排序键，不是树结构的父指针。
type RawHistoryRecord struct {
	MessageType   MessageType   `json:"messageType"`
	Contents      []ContentItem `json:"contents,omitempty"`
	Text          string        `json:"text,omitempty"`
	Thinking      string        `json:"thinking,omitempty"`
	ToolRequests  []ToolRequest `json:"toolRequests,omitempty"`
	ToolResponses []ToolResult  `json:"toolResponses,omitempty"`
	ParentID      int64         `json:"parentId,omitempty"`
	DateTime      string        `json:"dateTime,omitempty"`

	// 旧版 TOOL_EXECUTION_RESULT 记录的字段
	ID       string `json:"id,omitempty"`
	ToolName string `json:"toolName,omitempty"`
	IsError  bool   `json:"isError,omitempty"`

	// Malformed 由解码器设置，表示该条记录无法解析
	Malformed bool `json:"-"`
}

// StreamChunk 传输层收到的一个 SSE 事件
type StreamChunk struct {
	Event string `json:"event,omitempty"`
	Data  string `json:"data"`
}
