package model

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status 助手消息的生命周期状态，只对实时流产生的消息有意义
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusAborted   Status = "aborted"
)

// Terminal 是否为终止状态
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusAborted
}

// ContentType 内容项/附件类型
type ContentType string

const (
	ContentText  ContentType = "TEXT"
	ContentImage ContentType = "IMAGE"
	ContentVideo ContentType = "VIDEO"
	ContentAudio ContentType = "AUDIO"
	ContentPDF   ContentType = "PDF"
)

// ToolRequest 模型发起的工具调用，Argument 为不解析的序列化参数
type ToolRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Argument string `json:"argument"`
}

// ToolResult 工具调用结果，ID 与 ToolRequest.ID 对应
type ToolResult struct {
	ID       string `json:"id"`
	ToolName string `json:"toolName,omitempty"`
	Text     string `json:"text"`
	IsError  bool   `json:"isError"`
}

// ToolStatus 工具调用在展示层的状态
type ToolStatus string

const (
	ToolPending ToolStatus = "loading"
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
)

// Attachment 用户消息附带的文件
type Attachment struct {
	ContentType ContentType `json:"contentType"`
	URL         string      `json:"url"`
}

// Message 会话中的一个逻辑轮次
type Message struct {
	Key          string        `json:"key"`
	Role         Role          `json:"role"`
	Content      string        `json:"content"`
	Thinking     string        `json:"thinking,omitempty"`
	ToolRequests []ToolRequest `json:"toolRequests,omitempty"`
	ToolResults  []ToolResult  `json:"toolResults,omitempty"`
	Attachment   *Attachment   `json:"attachment,omitempty"`
	Timestamp    string        `json:"timestamp,omitempty"`
	Status       Status        `json:"status,omitempty"`
}
