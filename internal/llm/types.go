package llm

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolSpec 暴露给模型的工具定义，Parameters 为 JSON Schema
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall 模型发起的一次工具调用，Arguments 为原始 JSON 字符串
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message 发送给模型的单条消息
type Message struct {
	Role       string
	Name       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ChatRequest 一次对话补全请求
type ChatRequest struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
}

// ChatResponse 模型回复：文本内容或工具调用（二者可能同时存在）
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}
