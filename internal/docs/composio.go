package docs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fachebot/csv-report-bot/internal/config"
	"github.com/fachebot/csv-report-bot/internal/logger"
)

// ComposioClient 通过 Composio 托管的工具执行 Google Docs 动作
type ComposioClient struct {
	config     *config.Composio
	httpClient *http.Client
}

func NewComposioClient(cfg *config.Composio, transport *http.Transport) *ComposioClient {
	httpClient := &http.Client{Timeout: 2 * time.Minute}
	if transport != nil {
		httpClient.Transport = transport
	}
	return &ComposioClient{config: cfg, httpClient: httpClient}
}

type executeRequest struct {
	Arguments          map[string]any `json:"arguments"`
	UserID             string         `json:"user_id,omitempty"`
	ConnectedAccountID string         `json:"connected_account_id,omitempty"`
}

type executeResponse struct {
	Data       json.RawMessage `json:"data"`
	Successful bool            `json:"successful"`
	Error      *string         `json:"error"`
	LogID      string          `json:"log_id"`
}

// ExecuteTool 执行一个 Composio 工具，返回其 data 字段
func (c *ComposioClient) ExecuteTool(ctx context.Context, slug string, arguments map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(executeRequest{
		Arguments:          arguments,
		UserID:             c.config.UserID,
		ConnectedAccountID: c.config.ConnectedAccountID,
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/tools/execute/" + slug
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 Composio 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("Composio 返回状态码 %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var data executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("解析 Composio 响应失败: %w", err)
	}
	if !data.Successful {
		reason := "unknown error"
		if data.Error != nil && *data.Error != "" {
			reason = *data.Error
		}
		return nil, fmt.Errorf("Composio 工具 %s 执行失败: %s", slug, reason)
	}

	logger.Debugf("[ComposioClient] 执行工具 %s 成功, logID: %s", slug, data.LogID)
	return data.Data, nil
}

func (c *ComposioClient) CreateDocument(ctx context.Context, title, markdown string) (json.RawMessage, error) {
	return c.ExecuteTool(ctx, ActionCreateDocumentMarkdown, map[string]any{
		"title":         title,
		"markdown_text": markdown,
	})
}

func (c *ComposioClient) GetDocument(ctx context.Context, id string) (json.RawMessage, error) {
	return c.ExecuteTool(ctx, ActionGetDocumentByID, map[string]any{"id": id})
}
