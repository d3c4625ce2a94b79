package agent

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fachebot/csv-report-bot/internal/llm"
	"github.com/fachebot/csv-report-bot/internal/tools"
)

// Message 对话中的一条消息
type Message struct {
	Speaker     string         `json:"name"`
	Content     string         `json:"content"`
	ToolCalls   []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolResults []tools.Result `json:"tool_responses,omitempty"`
}

// HasToolCalls 消息是否包含工具调用
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// TerminationReason 对话结束原因
type TerminationReason string

const (
	TerminatedByMarker      TerminationReason = "termination_marker"
	TerminatedByMaxRounds   TerminationReason = "max_rounds"
	TerminatedByReplyBudget TerminationReason = "reply_budget_exhausted"
)

// ChatResult 一次群聊的完整结果
type ChatResult struct {
	ChatHistory  []Message         `json:"chat_history"`
	Summary      string            `json:"summary"`
	TerminatedBy TerminationReason `json:"terminated_by"`
	Rounds       int               `json:"rounds"`
}

// LastMessage 返回最后一条消息
func (r *ChatResult) LastMessage() (Message, bool) {
	if len(r.ChatHistory) == 0 {
		return Message{}, false
	}
	return r.ChatHistory[len(r.ChatHistory)-1], true
}

// MessagesFrom 返回指定参与者的全部消息，按时间顺序
func (r *ChatResult) MessagesFrom(speaker string) []Message {
	var out []Message
	for _, m := range r.ChatHistory {
		if m.Speaker == speaker {
			out = append(out, m)
		}
	}
	return out
}

// HasMarker 判断 content 是否以独立的终止标记结尾（允许其后跟标点）。
// 如 "status TERMINATED" 或 "TERMINATE_list.csv" 不算。
func HasMarker(content, marker string) bool {
	_, ok := cutMarker(content, marker)
	return ok
}

// StripMarker 去掉结尾的终止标记并修剪空白，正文中的同名文本保持不变
func StripMarker(content, marker string) string {
	if rest, ok := cutMarker(content, marker); ok {
		content = rest
	}
	return strings.TrimSpace(content)
}

func cutMarker(content, marker string) (string, bool) {
	if marker == "" {
		return content, false
	}
	s := strings.TrimRight(content, " \t\r\n.!*`\"'")
	if !strings.HasSuffix(s, marker) {
		return content, false
	}
	rest := s[:len(s)-len(marker)]
	if r, _ := utf8.DecodeLastRuneInString(rest); rest != "" && isWordRune(r) {
		return content, false
	}
	return rest, true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
