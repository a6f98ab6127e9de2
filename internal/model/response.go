package model

// CodeSuccess 统一响应成功码
const CodeSuccess = "SUCCESS"

// APIResponse 统一响应格式
type APIResponse struct {
	Code    string `json:"code"`
	Msg     string `json:"msg,omitempty"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
}

// OK 构造成功响应
func OK(data any) APIResponse {
	return APIResponse{Code: CodeSuccess, Success: true, Data: data}
}

// Fail 构造失败响应
func Fail(code, msg string) APIResponse {
	return APIResponse{Code: code, Msg: msg, Success: false}
}

// SessionSummary 会话列表项
type SessionSummary struct {
	SessionID    string `json:"sessionId"`
	SessionTitle string `json:"sessionTitle"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// ModelInfo 单个模型
type ModelInfo struct {
	ModelName   string `json:"modelName"`
	DisplayName string `json:"displayName,omitempty"`
}

// ModelProvider 模型提供商及其模型列表
type ModelProvider struct {
	ProviderID   string      `json:"providerId"`
	ProviderName string      `json:"providerName"`
	Models       []ModelInfo `json:"models"`
}
