package model

// ChatRequest 流式聊天请求
type ChatRequest struct {
	SessionID   string `json:"sessionId" binding:"required"`
	Prompt      string `json:"prompt" binding:"required"`
	ProviderID  string `json:"providerId,omitempty"`
	ModelName   string `json:"modelName,omitempty"`
	UploadID    string `json:"uploadId,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// ModelRef 转发给流式请求的模型选择
type ModelRef struct {
	ProviderID string `json:"providerId,omitempty"`
	ModelName  string `json:"modelName,omitempty"`
}

// Upload 上传服务返回的文件引用，核心不负责上传
type Upload struct {
	ID          string      `json:"uploadId"`
	ContentType ContentType `json:"contentType"`
	URL         string      `json:"url,omitempty"`
}

// Attachment 转换为消息附件，没有 URL 时使用上传 ID
func (u *Upload) Attachment() *Attachment {
	if u == nil || u.ContentType == "" {
		return nil
	}
	url := u.URL
	if url == "" {
		url = u.ID
	}
	return &Attachment{ContentType: u.ContentType, URL: url}
}
