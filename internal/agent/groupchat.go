package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fachebot/csv-report-bot/internal/llm"
	"github.com/fachebot/csv-report-bot/internal/logger"
	"github.com/fachebot/csv-report-bot/internal/tools"
)

// DefaultTerminationMarker 参与者以该标记结尾即结束对话
const DefaultTerminationMarker = "TERMINATE"

const managerName = "chat_manager"

const selectSpeakerPrefix = "You are in a role play game."

// ChatModel 对话补全接口（便于测试注入）
type ChatModel interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// GroupChat 群聊的静态定义
type GroupChat struct {
	Participants      []Role
	MaxRounds         int // 包含发起消息在内的最大消息数
	SendIntroductions bool
	TerminationMarker string
}

// State 对话状态
type State int

const (
	StateInitiated State = iota
	StateIntroductions
	StateRound
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateIntroductions:
		return "introductions"
	case StateRound:
		return "round"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Manager 驱动一次有界的多参与者对话：选择发言者、生成回复、判断终止
type Manager struct {
	chat     GroupChat
	model    ChatModel
	bindings *tools.Bindings
	index    map[string]int
	patterns [][]*regexp.Regexp // 与 Participants 一一对应，用于识别选择结果中的角色名
}

func NewManager(chat GroupChat, model ChatModel, bindings *tools.Bindings) (*Manager, error) {
	if model == nil {
		return nil, fmt.Errorf("创建群聊失败: 模型不能为空")
	}
	if len(chat.Participants) == 0 {
		return nil, fmt.Errorf("创建群聊失败: 至少需要一个参与者")
	}
	if chat.MaxRounds < 1 {
		return nil, fmt.Errorf("创建群聊失败: MaxRounds 必须 >= 1")
	}
	if chat.TerminationMarker == "" {
		chat.TerminationMarker = DefaultTerminationMarker
	}
	if bindings == nil {
		bindings = tools.NewBindings()
	}

	index := make(map[string]int, len(chat.Participants))
	patterns := make([][]*regexp.Regexp, len(chat.Participants))
	for i, role := range chat.Participants {
		if err := role.validate(); err != nil {
			return nil, fmt.Errorf("创建群聊失败: %w", err)
		}
		if _, ok := index[role.Name]; ok {
			return nil, fmt.Errorf("创建群聊失败: 参与者 %s 重复", role.Name)
		}
		index[role.Name] = i
		patterns[i] = namePatterns(role.Name)
	}

	return &Manager{chat: chat, model: model, bindings: bindings, index: index, patterns: patterns}, nil
}

type conversation struct {
	intro    string
	messages []Message
	replies  map[string]int
	state    State
}

func (c *conversation) last() Message {
	return c.messages[len(c.messages)-1]
}

func (c *conversation) transition(s State) {
	logger.Debugf("[GroupChat] 状态 %s -> %s", c.state, s)
	c.state = s
}

// Run 由 initiator 发出 message 并驱动对话直到终止。
// 模型或工具出错时立即中止并返回错误，不重试。
func (m *Manager) Run(ctx context.Context, initiator, message string) (*ChatResult, error) {
	if _, ok := m.index[initiator]; !ok {
		return nil, fmt.Errorf("发起者 %s 不在对话中", initiator)
	}

	conv := &conversation{replies: make(map[string]int), state: StateInitiated}
	if m.chat.SendIntroductions {
		conv.intro = m.introductions()
		conv.transition(StateIntroductions)
	}

	conv.messages = append(conv.messages, Message{Speaker: initiator, Content: message})
	conv.transition(StateRound)
	lastSpeaker := initiator

	for {
		if m.isTermination(conv) {
			return m.finish(conv, TerminatedByMarker), nil
		}
		if len(conv.messages) >= m.chat.MaxRounds {
			return m.finish(conv, TerminatedByMaxRounds), nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		speaker, err := m.selectSpeaker(ctx, conv, lastSpeaker)
		if err != nil {
			return nil, err
		}
		if conv.replies[speaker.Name] >= speaker.MaxAutoReplies {
			logger.Infof("[GroupChat] %s 自动回复次数已用完 (%d)", speaker.Name, speaker.MaxAutoReplies)
			return m.finish(conv, TerminatedByReplyBudget), nil
		}

		reply, err := m.generateReply(ctx, conv, speaker)
		if err != nil {
			return nil, fmt.Errorf("%s 生成回复失败: %w", speaker.Name, err)
		}
		conv.replies[speaker.Name]++
		conv.messages = append(conv.messages, reply)
		lastSpeaker = speaker.Name

		logger.Debugf("[GroupChat] 第 %d 轮, 发言者: %s, 工具调用: %d", len(conv.messages), speaker.Name, len(reply.ToolCalls))
	}
}

func (m *Manager) finish(conv *conversation, reason TerminationReason) *ChatResult {
	conv.transition(StateTerminated)
	logger.Infof("[GroupChat] 对话结束, 原因: %s, 轮数: %d", reason, len(conv.messages))

	return &ChatResult{
		ChatHistory:  conv.messages,
		Summary:      StripMarker(conv.last().Content, m.chat.TerminationMarker),
		TerminatedBy: reason,
		Rounds:       len(conv.messages),
	}
}

// isTermination 判断对话是否因终止标记结束。
// 发起消息不参与判断；工具结果来自外部数据，只看发起调用的那条消息；
// 带待执行工具调用的消息先执行工具再判断。
func (m *Manager) isTermination(conv *conversation) bool {
	msgs := conv.messages
	if len(msgs) < 2 {
		return false
	}

	last := msgs[len(msgs)-1]
	switch {
	case len(last.ToolResults) > 0:
		prev := msgs[len(msgs)-2]
		return prev.HasToolCalls() && HasMarker(prev.Content, m.chat.TerminationMarker)
	case last.HasToolCalls() && m.hasExecutor(last.ToolCalls):
		return false
	}
	return HasMarker(last.Content, m.chat.TerminationMarker)
}

// hasExecutor 工具调用是否有参与者负责执行
func (m *Manager) hasExecutor(calls []llm.ToolCall) bool {
	for _, call := range calls {
		if executor, ok := m.bindings.ExecutorFor(call.Name); ok {
			if _, ok := m.index[executor]; ok {
				return true
			}
		}
	}
	return false
}

func (m *Manager) role(name string) (Role, bool) {
	i, ok := m.index[name]
	if !ok {
		return Role{}, false
	}
	return m.chat.Participants[i], true
}

func (m *Manager) introductions() string {
	var sb strings.Builder
	sb.WriteString("Hello everyone. We have assembled a great team today to answer questions and solve tasks. In attendance are:\n\n")
	for _, r := range m.chat.Participants {
		sb.WriteString(fmt.Sprintf("%s: %s\n", r.Name, strings.TrimSpace(r.Description)))
	}
	return sb.String()
}

func (m *Manager) roleNames() string {
	names := make([]string, 0, len(m.chat.Participants))
	for _, r := range m.chat.Participants {
		names = append(names, r.Name)
	}
	return "[" + strings.Join(names, ", ") + "]"
}

func (m *Manager) selectSpeaker(ctx context.Context, conv *conversation, lastSpeaker string) (Role, error) {
	last := conv.last()
	if last.HasToolCalls() {
		if executor, ok := m.bindings.ExecutorFor(last.ToolCalls[0].Name); ok {
			if role, ok := m.role(executor); ok {
				return role, nil
			}
		}
	}

	if len(m.chat.Participants) == 1 {
		return m.chat.Participants[0], nil
	}

	var roles strings.Builder
	for _, r := range m.chat.Participants {
		roles.WriteString(fmt.Sprintf("%s: %s\n", r.Name, strings.TrimSpace(r.Description)))
	}
	system := fmt.Sprintf("%s The following roles are available:\n%s\nRead the following conversation.\nThen select the next role from %s to play. Only return the role.",
		selectSpeakerPrefix, roles.String(), m.roleNames())

	history := make([]llm.Message, 0, len(conv.messages)+1)
	for _, msg := range conv.messages {
		content := renderPlain(msg)
		if content == "" {
			continue
		}
		history = append(history, llm.Message{Role: llm.RoleUser, Name: msg.Speaker, Content: content})
	}
	history = append(history, llm.Message{
		Role:    llm.RoleUser,
		Name:    managerName,
		Content: fmt.Sprintf("Read the above conversation. Then select the next role from %s to play. Only return the role.", m.roleNames()),
	})

	resp, err := m.model.Chat(ctx, llm.ChatRequest{System: system, Messages: history})
	if err != nil {
		return Role{}, fmt.Errorf("选择发言者失败: %w", err)
	}

	if role, ok := m.matchRole(resp.Content); ok {
		return role, nil
	}

	next := m.nextAfter(lastSpeaker)
	logger.Warnf("[GroupChat] 无法从回复 %q 中确定发言者, 轮询选择 %s", resp.Content, next.Name)
	return next, nil
}

// matchRole 回复中恰好提到一个参与者时返回该参与者
func (m *Manager) matchRole(reply string) (Role, bool) {
	var matched []Role
	for i, r := range m.chat.Participants {
		for _, re := range m.patterns[i] {
			if re.MatchString(reply) {
				matched = append(matched, r)
				break
			}
		}
	}
	if len(matched) != 1 {
		return Role{}, false
	}
	return matched[0], true
}

// namePatterns 匹配独立出现的角色名，以及空格替换为下划线的写法
func namePatterns(name string) []*regexp.Regexp {
	variants := []string{name}
	if underscored := strings.ReplaceAll(name, " ", "_"); underscored != name {
		variants = append(variants, underscored)
	}

	patterns := make([]*regexp.Regexp, 0, len(variants))
	for _, v := range variants {
		patterns = append(patterns, regexp.MustCompile(`(^|\W)`+regexp.QuoteMeta(v)+`(\W|$)`))
	}
	return patterns
}

func (m *Manager) nextAfter(name string) Role {
	i, ok := m.index[name]
	if !ok {
		return m.chat.Participants[0]
	}
	return m.chat.Participants[(i+1)%len(m.chat.Participants)]
}

func (m *Manager) generateReply(ctx context.Context, conv *conversation, speaker Role) (Message, error) {
	last := conv.last()
	if last.HasToolCalls() && m.executes(speaker.Name, last.ToolCalls) {
		return m.executeTools(ctx, speaker, last.ToolCalls)
	}

	if speaker.Kind() == KindAssistant {
		return m.modelReply(ctx, conv, speaker)
	}

	if speaker.CodeExecutionAllowed && strings.Contains(last.Content, "```") {
		logger.Debugf("[GroupChat] %s 跳过代码执行", speaker.Name)
	}
	return Message{Speaker: speaker.Name, Content: speaker.DefaultAutoReply}, nil
}

func (m *Manager) executes(name string, calls []llm.ToolCall) bool {
	for _, call := range calls {
		if executor, ok := m.bindings.ExecutorFor(call.Name); ok && executor == name {
			return true
		}
	}
	return false
}

func (m *Manager) executeTools(ctx context.Context, speaker Role, calls []llm.ToolCall) (Message, error) {
	results := make([]tools.Result, 0, len(calls))
	contents := make([]string, 0, len(calls))
	for _, call := range calls {
		result, err := m.bindings.Execute(ctx, speaker.Name, call)
		if err != nil {
			return Message{}, err
		}
		logger.Debugf("[GroupChat] %s 执行工具 %s, 出错: %v", speaker.Name, call.Name, result.IsError)
		results = append(results, result)
		contents = append(contents, result.Content)
	}
	return Message{
		Speaker:     speaker.Name,
		Content:     strings.Join(contents, "\n\n"),
		ToolResults: results,
	}, nil
}

func (m *Manager) modelReply(ctx context.Context, conv *conversation, speaker Role) (Message, error) {
	resp, err := m.model.Chat(ctx, llm.ChatRequest{
		System:   speaker.SystemPrompt,
		Messages: m.history(conv, speaker),
		Tools:    m.bindings.SpecsFor(speaker.Name),
	})
	if err != nil {
		return Message{}, err
	}

	calls := make([]llm.ToolCall, 0, len(resp.ToolCalls))
	for i, call := range resp.ToolCalls {
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d_%d", len(conv.messages), i)
		}
		calls = append(calls, call)
	}
	if len(calls) == 0 {
		calls = nil
	}
	return Message{Speaker: speaker.Name, Content: resp.Content, ToolCalls: calls}, nil
}

// history 以 speaker 的视角构建上下文：自己的消息为 assistant，其他人的为 user。
// 已被执行的工具调用保持原生格式，未被执行的降级为文本。
func (m *Manager) history(conv *conversation, speaker Role) []llm.Message {
	out := make([]llm.Message, 0, len(conv.messages)+1)
	if conv.intro != "" {
		out = append(out, llm.Message{Role: llm.RoleUser, Name: managerName, Content: conv.intro})
	}

	msgs := conv.messages
	for i, msg := range msgs {
		role := llm.RoleUser
		if msg.Speaker == speaker.Name {
			role = llm.RoleAssistant
		}

		switch {
		case msg.HasToolCalls():
			answered := i+1 < len(msgs) && len(msgs[i+1].ToolResults) > 0
			if answered {
				out = append(out, llm.Message{
					Role:      llm.RoleAssistant,
					Name:      msg.Speaker,
					Content:   msg.Content,
					ToolCalls: msg.ToolCalls,
				})
			} else {
				out = append(out, llm.Message{Role: role, Name: msg.Speaker, Content: renderPlain(msg)})
			}
		case len(msg.ToolResults) > 0:
			if i > 0 && msgs[i-1].HasToolCalls() {
				for _, r := range msg.ToolResults {
					out = append(out, llm.Message{Role: llm.RoleTool, ToolCallID: r.CallID, Content: r.Content})
				}
			} else {
				out = append(out, llm.Message{Role: role, Name: msg.Speaker, Content: renderPlain(msg)})
			}
		default:
			if msg.Content == "" {
				continue
			}
			out = append(out, llm.Message{Role: role, Name: msg.Speaker, Content: msg.Content})
		}
	}
	return out
}

// renderPlain 把消息渲染为纯文本（含工具调用与结果）
func renderPlain(msg Message) string {
	var parts []string
	if msg.Content != "" && len(msg.ToolResults) == 0 {
		parts = append(parts, msg.Content)
	}
	for _, call := range msg.ToolCalls {
		parts = append(parts, fmt.Sprintf("***** Suggested tool call: %s(%s) *****", call.Name, call.Arguments))
	}
	for _, r := range msg.ToolResults {
		parts = append(parts, fmt.Sprintf("***** Response from calling tool %s *****\n%s", r.Name, r.Content))
	}
	return strings.Join(parts, "\n")
}
