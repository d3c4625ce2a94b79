package agent

import (
	"fmt"
	"strings"
)

// Kind 参与者类型
type Kind int

const (
	// KindAssistant 由模型生成回复
	KindAssistant Kind = iota + 1
	// KindProxy 代理参与者：执行绑定给它的工具，否则回复默认内容
	KindProxy
)

func (k Kind) String() string {
	switch k {
	case KindAssistant:
		return "assistant"
	case KindProxy:
		return "proxy"
	default:
		return "unknown"
	}
}

// HumanInputMode 人工介入模式
type HumanInputMode string

// HumanInputNever 从不等待人工输入，服务端只支持这一种
const HumanInputNever HumanInputMode = "NEVER"

// Role 对话参与者，创建后不再修改
type Role struct {
	Name           string
	Description    string
	SystemPrompt   string
	MaxAutoReplies int
	HumanInputMode HumanInputMode

	// CodeExecutionAllowed 只记录配置，服务端不执行模型生成的代码
	CodeExecutionAllowed bool

	// DefaultAutoReply 代理参与者无事可做时的回复
	DefaultAutoReply string

	kind Kind
}

// NewAssistant 创建由模型驱动的参与者
func NewAssistant(name, description, systemPrompt string, maxAutoReplies int) Role {
	return Role{
		Name:           name,
		Description:    description,
		SystemPrompt:   systemPrompt,
		MaxAutoReplies: maxAutoReplies,
		HumanInputMode: HumanInputNever,
		kind:           KindAssistant,
	}
}

// NewProxy 创建代理参与者
func NewProxy(name, description string, maxAutoReplies int) Role {
	return Role{
		Name:           name,
		Description:    description,
		MaxAutoReplies: maxAutoReplies,
		HumanInputMode: HumanInputNever,
		kind:           KindProxy,
	}
}

// Kind 返回参与者类型
func (r Role) Kind() Kind {
	return r.kind
}

// WithCodeExecution 返回允许代码执行的副本
func (r Role) WithCodeExecution(allowed bool) Role {
	r.CodeExecutionAllowed = allowed
	return r
}

func (r Role) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("参与者名称不能为空")
	}
	if r.kind != KindAssistant && r.kind != KindProxy {
		return fmt.Errorf("参与者 %s 类型无效", r.Name)
	}
	if r.MaxAutoReplies < 0 {
		return fmt.Errorf("参与者 %s 的 MaxAutoReplies 必须 >= 0", r.Name)
	}
	if r.HumanInputMode != HumanInputNever {
		return fmt.Errorf("参与者 %s 不支持人工输入模式 %q", r.Name, r.HumanInputMode)
	}
	return nil
}
