package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"chat-studio-core/internal/model"
	"chat-studio-core/internal/provider"
	"chat-studio-core/internal/service"
	"chat-studio-core/internal/storage"
	"chat-studio-core/internal/utils"
	"chat-studio-core/pkg/logger"

	"github.com/gin-gonic/gin"
)

// 错误码
const (
	CodeInvalidParam  = "INVALID_PARAM"
	CodeNotFound      = "NOT_FOUND"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeInternalError = "INTERNAL_ERROR"
)

type ChatHandler struct {
	chatService *service.ChatService
	heartbeat   time.Duration
}

func NewChatHandler(chatService *service.ChatService, heartbeat time.Duration) *ChatHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &ChatHandler{
		chatService: chatService,
		heartbeat:   heartbeat,
	}
}

// StreamChat POST /chat/v1/chat，以 SSE 返回 {"content": ...} 片段，最后发送 [DONE]
func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Fail(CodeInvalidParam, err.Error()))
		return
	}

	logger.WithFields(map[string]interface{}{
		"session":  req.SessionID,
		"provider": req.ProviderID,
		"model":    req.ModelName,
	}).Info("Stream chat started")

	sseWriter := utils.NewSSEWriter(c.Writer)
	ctx := c.Request.Context()
	respChan, errChan := h.chatService.StreamChat(ctx, req)

	heartbeatTicker := time.NewTicker(h.heartbeat)
	defer heartbeatTicker.Stop()

	for {
		select {
		case resp, ok := <-respChan:
			if !ok {
				// 生成结束后 errChan 最多还有一个错误
				if err := <-errChan; err != nil {
					h.writeStreamError(sseWriter, err)
					return
				}
				sseWriter.Close()
				return
			}
			if err := sseWriter.Write(resp.Event, resp.Data); err != nil {
				logger.Errorf("Failed to write SSE: %v", err)
				return
			}

		case <-heartbeatTicker.C:
			if err := sseWriter.WriteJSON("heartbeat", gin.H{"timestamp": time.Now().Unix()}); err != nil {
				logger.Warnf("心跳发送失败: %v", err)
				return
			}

		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				h.writeStreamError(sseWriter, ctx.Err())
			}
			return
		}
	}
}

func (h *ChatHandler) writeStreamError(w *utils.SSEWriter, err error) {
	if werr := w.WriteJSON("error", gin.H{"msg": err.Error()}); werr != nil {
		logger.Warnf("Failed to write SSE error: %v", werr)
		return
	}
	w.Close()
}

// CreateSession POST /session/create，请求体可选，返回会话 id
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	// 允许空的请求体，使用默认标题
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, model.Fail(CodeInvalidParam, err.Error()))
			return
		}
	}

	session, err := h.chatService.CreateSession(req.Title)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.OK(session.ID))
}

func (h *ChatHandler) GetSessionList(c *gin.Context) {
	sessions, err := h.chatService.ListSessions()
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.OK(sessions))
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	records, err := h.chatService.GetRecords(c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.OK(records))
}

// DeleteSessions DELETE /session/delete，请求体为 id 数组
func (h *ChatHandler) DeleteSessions(c *gin.Context) {
	var ids []string
	if err := c.ShouldBindJSON(&ids); err != nil {
		c.JSON(http.StatusBadRequest, model.Fail(CodeInvalidParam, err.Error()))
		return
	}

	deleted, err := h.chatService.DeleteSessions(ids)
	if err != nil {
		respondError(c, err)
		return
	}
	logger.Infof("Deleted %d of %d sessions", deleted, len(ids))

	c.JSON(http.StatusOK, model.OK(nil))
}

func (h *ChatHandler) UpdateSessionTitle(c *gin.Context) {
	err := h.chatService.RenameSession(c.Param("session_id"), c.Param("title"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.OK(nil))
}

func (h *ChatHandler) DefaultModel(c *gin.Context) {
	ref, err := h.chatService.DefaultModel()
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.OK(ref))
}

func (h *ChatHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, model.OK(h.chatService.Models()))
}

// respondError 按错误类型选择状态码和错误码
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, model.Fail(CodeNotFound, err.Error()))
	case errors.Is(err, storage.ErrInvalidData),
		errors.Is(err, service.ErrEmptyPrompt),
		errors.Is(err, provider.ErrUnknownModel):
		c.JSON(http.StatusBadRequest, model.Fail(CodeInvalidParam, err.Error()))
	default:
		logger.Errorf("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, model.Fail(CodeInternalError, err.Error()))
	}
}

// AuthRequired 校验 Auth-Token 请求头，token 为空时不校验
func AuthRequired(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.GetHeader("Auth-Token") == token {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, model.Fail(CodeUnauthorized, "未登录或登录已过期"))
	}
}

// RequestLogger 用 logrus 记录访问日志
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if strings.HasSuffix(path, "/health") {
			return
		}
		logger.WithFields(map[string]interface{}{
			"method":  c.Request.Method,
			"path":    path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("request")
	}
}
