package llm

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/fachebot/csv-report-bot/internal/config"
	"github.com/fachebot/csv-report-bot/internal/logger"
	"github.com/sashabaranov/go-openai"
)

// openAIClientInterface 定义 OpenAI 客户端接口，便于测试
type openAIClientInterface interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Client struct {
	config       *config.LLM
	openaiClient openAIClientInterface
	timeout      time.Duration
}

// NewClient 创建兼容 OpenAI 接口的客户端；transport 为 nil 时使用默认传输
func NewClient(cfg *config.LLM, transport *http.Transport) *Client {
	openaiConfig := openai.DefaultConfig(cfg.APIKey)
	openaiConfig.BaseURL = cfg.BaseURL
	if transport != nil {
		openaiConfig.HTTPClient = &http.Client{Transport: transport}
	}

	return &Client{
		config:       cfg,
		openaiClient: openai.NewClientWithConfig(openaiConfig),
		timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

// Model 返回当前使用的模型名
func (c *Client) Model() string {
	return c.config.Model
}

// Chat 执行一次对话补全，支持原生工具调用
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	timeout := c.timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// temperature 字段带 omitempty，0 需用最小正数表示
	temperature := c.config.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    toOpenAIMessages(req.System, req.Messages),
		Temperature: temperature,
		MaxTokens:   c.config.MaxTokens,
	}
	if len(req.Tools) > 0 {
		apiReq.Tools = toOpenAITools(req.Tools)
		apiReq.ToolChoice = "auto"
	}

	logger.Debugf("[LLM] 请求模型 %s，消息 %d 条，工具 %d 个", c.config.Model, len(apiReq.Messages), len(apiReq.Tools))

	resp, err := c.openaiClient.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("调用 LLM API 失败: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM API 返回空结果")
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:      strings.TrimSpace(choice.Message.Content),
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// SanitizeName 将参与者名称转换为接口允许的 name 字段（^[a-zA-Z0-9_-]+$）
func SanitizeName(name string) string {
	s := invalidNameChars.ReplaceAllString(strings.TrimSpace(name), "_")
	return strings.Trim(s, "_")
}

func toOpenAIMessages(system string, msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.Name != "" && (m.Role == RoleUser || m.Role == RoleAssistant) {
			msg.Name = SanitizeName(m.Name)
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(specs []ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		params := s.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}
