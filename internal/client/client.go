package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chat-studio-core/internal/convert"
	"chat-studio-core/internal/model"
	"chat-studio-core/internal/stream"
	"chat-studio-core/internal/utils"
	"chat-studio-core/pkg/logger"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// APIError 服务端返回的失败响应
type APIError struct {
	Status int
	Code   string
	Msg    string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("api error: status %d, code %s", e.Status, e.Code)
	}
	return fmt.Sprintf("api error: %s (%s)", e.Msg, e.Code)
}

// Client 通过 HTTP 访问会话、流式聊天和模型接口，同时实现 chat 包的三个传输接口
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	// 流式请求只受 ctx 控制，不设置整体超时
	stream *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    utils.NewHTTPClient(timeout),
		stream:  utils.NewHTTPClient(0),
	}
}

type envelope struct {
	Code    string          `json:"code"`
	Msg     string          `json:"msg"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Auth-Token", c.token)
	}
	return req, nil
}

// do 发送请求并解开统一响应格式，返回 data 字段的原始 JSON
func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}

func decodeResponse(resp *http.Response) (json.RawMessage, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, env.Msg)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, env.Msg)
	case decodeErr != nil:
		return nil, &APIError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(raw))}
	case !env.Success || (env.Code != "" && env.Code != model.CodeSuccess) || resp.StatusCode >= 300:
		return nil, &APIError{Status: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	return env.Data, nil
}

func decodeData(data json.RawMessage, out any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func (c *Client) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	data, err := c.do(ctx, http.MethodGet, "/session/list", nil)
	if err != nil {
		return nil, err
	}
	var sessions []model.SessionSummary
	if err := decodeData(data, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) CreateSession(ctx context.Context) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/session/create", nil)
	if err != nil {
		return "", err
	}
	var id string
	if err := decodeData(data, &id); err != nil {
		return "", err
	}
	if id == "" {
		return "", &APIError{Status: http.StatusOK, Code: model.CodeSuccess, Msg: "empty session id"}
	}
	return id, nil
}

// FetchHistory 逐条解码历史记录，单条损坏不影响其他记录
func (c *Client) FetchHistory(ctx context.Context, sessionID string) ([]model.RawHistoryRecord, error) {
	data, err := c.do(ctx, http.MethodGet, "/session/messages/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	return convert.DecodeHistory(data)
}

func (c *Client) RenameSession(ctx context.Context, sessionID, title string) error {
	path := "/session/modify/title/" + url.PathEscape(sessionID) + "/" + url.PathEscape(title)
	_, err := c.do(ctx, http.MethodPut, path, nil)
	return err
}

func (c *Client) DeleteSessions(ctx context.Context, sessionIDs []string) error {
	_, err := c.do(ctx, http.MethodDelete, "/session/delete", sessionIDs)
	return err
}

func (c *Client) DefaultModel(ctx context.Context) (*model.ModelRef, error) {
	data, err := c.do(ctx, http.MethodGet, "/model/default", nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var ref model.ModelRef
	if err := decodeData(data, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (c *Client) ListModels(ctx context.Context) ([]model.ModelProvider, error) {
	data, err := c.do(ctx, http.MethodGet, "/model/list", nil)
	if err != nil {
		return nil, err
	}
	var providers []model.ModelProvider
	if err := decodeData(data, &providers); err != nil {
		return nil, err
	}
	return providers, nil
}

// OpenStream 发起流式聊天，把每个 SSE 事件原样转发。
// 响应结束或 ctx 取消时关闭两个通道；非 2xx 响应作为错误返回。
func (c *Client) OpenStream(ctx context.Context, chatReq model.ChatRequest) (<-chan model.StreamChunk, <-chan error) {
	chunks := make(chan model.StreamChunk, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		req, err := c.newRequest(ctx, http.MethodPost, "/chat/v1/chat", chatReq)
		if err != nil {
			errs <- err
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.stream.Do(req)
		if err != nil {
			errs <- fmt.Errorf("open stream: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_, err := decodeResponse(resp)
			if err == nil {
				err = &APIError{Status: resp.StatusCode}
			}
			errs <- err
			return
		}

		reader := stream.NewSSEReader(resp.Body)
		for {
			chunk, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("read stream: %w", err)
				}
				return
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				logger.Debugf("stream for session %s cancelled", chatReq.SessionID)
				return
			}
		}
	}()

	return chunks, errs
}
