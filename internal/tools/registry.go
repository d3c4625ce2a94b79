package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fachebot/csv-report-bot/internal/llm"
)

// ErrToolInput 表示调用方（模型）传入的参数有误，结果以错误文本回传给模型而不中断对话
var ErrToolInput = errors.New("tool input error")

// Handler 工具实现，返回值会被序列化为 JSON 回传给模型
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool 单个工具
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Toolkit 一组能力，如 FILETOOL、GOOGLEDOCS
type Toolkit struct {
	App   string
	Tools []Tool
}

// Result 一次工具调用的结果
type Result struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

type binding struct {
	tool     Tool
	app      string
	caller   string
	executor string
}

// Bindings 单次工作流执行内的工具绑定表：谁可以发起调用（caller）、谁负责执行（executor）。
// 每次执行新建一份，不在请求之间共享。
type Bindings struct {
	byName map[string]binding
	order  []string
}

func NewBindings() *Bindings {
	return &Bindings{byName: make(map[string]binding)}
}

// Register 将工具集绑定到 (caller, executor)
func (b *Bindings) Register(kit Toolkit, caller, executor string) error {
	if caller == "" || executor == "" {
		return fmt.Errorf("注册工具集 %s 失败: caller 和 executor 不能为空", kit.App)
	}
	for _, t := range kit.Tools {
		if t.Handler == nil {
			return fmt.Errorf("注册工具集 %s 失败: 工具 %s 缺少实现", kit.App, t.Name)
		}
		if existing, ok := b.byName[t.Name]; ok {
			return fmt.Errorf("注册工具集 %s 失败: 工具 %s 已绑定到 %s", kit.App, t.Name, existing.caller)
		}
	}
	for _, t := range kit.Tools {
		b.byName[t.Name] = binding{tool: t, app: kit.App, caller: caller, executor: executor}
		b.order = append(b.order, t.Name)
	}
	return nil
}

// SpecsFor 返回 caller 可以调用的工具定义
func (b *Bindings) SpecsFor(caller string) []llm.ToolSpec {
	var specs []llm.ToolSpec
	for _, name := range b.order {
		bd := b.byName[name]
		if bd.caller != caller {
			continue
		}
		specs = append(specs, llm.ToolSpec{
			Name:        bd.tool.Name,
			Description: bd.tool.Description,
			Parameters:  bd.tool.Parameters,
		})
	}
	return specs
}

// ExecutorFor 返回负责执行该工具的参与者
func (b *Bindings) ExecutorFor(toolName string) (string, bool) {
	bd, ok := b.byName[toolName]
	if !ok {
		return "", false
	}
	return bd.executor, true
}

// Execute 由 executor 执行一次工具调用。
// 参数错误、未绑定的工具以错误结果返回；工具自身的其他错误直接向上传递。
func (b *Bindings) Execute(ctx context.Context, executor string, call llm.ToolCall) (Result, error) {
	result := Result{CallID: call.ID, Name: call.Name}

	bd, ok := b.byName[call.Name]
	if !ok || bd.executor != executor {
		result.IsError = true
		result.Content = fmt.Sprintf("Error: tool %s is not available to %s", call.Name, executor)
		return result, nil
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			result.IsError = true
			result.Content = fmt.Sprintf("Error: invalid arguments for %s: %v", call.Name, err)
			return result, nil
		}
	}

	out, err := bd.tool.Handler(ctx, args)
	if err != nil {
		if errors.Is(err, ErrToolInput) {
			result.IsError = true
			result.Content = "Error: " + err.Error()
			return result, nil
		}
		return result, fmt.Errorf("执行工具 %s 失败: %w", call.Name, err)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return result, fmt.Errorf("序列化工具 %s 结果失败: %w", call.Name, err)
	}
	result.Content = string(data)
	return result, nil
}

func inputErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrToolInput, fmt.Sprintf(format, args...))
}

// stringArg 读取字符串参数
func stringArg(args map[string]any, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", inputErrorf("missing required argument %q", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", inputErrorf("argument %q must be a string", key)
	}
	if required && s == "" {
		return "", inputErrorf("argument %q must not be empty", key)
	}
	return s, nil
}
