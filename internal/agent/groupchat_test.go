package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/fachebot/csv-report-bot/internal/llm"
	"github.com/fachebot/csv-report-bot/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel 按脚本返回回复：发言者选择请求与参与者回复分别排队
type scriptedModel struct {
	mu         sync.Mutex
	selections []string
	replies    map[string][]llm.ChatResponse // 以系统提示词区分参与者
	requests   []llm.ChatRequest
	err        error
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{replies: make(map[string][]llm.ChatResponse)}
}

func (s *scriptedModel) reply(system string, responses ...llm.ChatResponse) *scriptedModel {
	s.replies[system] = append(s.replies[system], responses...)
	return s
}

func (s *scriptedModel) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}

	if strings.HasPrefix(req.System, selectSpeakerPrefix) {
		if len(s.selections) == 0 {
			return nil, errors.New("unexpected speaker selection")
		}
		next := s.selections[0]
		s.selections = s.selections[1:]
		return &llm.ChatResponse{Content: next}, nil
	}

	queue := s.replies[req.System]
	if len(queue) == 0 {
		return nil, fmt.Errorf("unexpected reply request for %q", req.System)
	}
	s.replies[req.System] = queue[1:]
	resp := queue[0]
	return &resp, nil
}

func (s *scriptedModel) replyRequests(system string) []llm.ChatRequest {
	var out []llm.ChatRequest
	for _, r := range s.requests {
		if r.System == system {
			out = append(out, r)
		}
	}
	return out
}

const (
	analystPrompt = "You are the analyst."
	parserPrompt  = "You are the parser."
)

func testParticipants(analystBudget, parserBudget int) []Role {
	return []Role{
		NewAssistant("Analyst", "Summarizes data.", analystPrompt, analystBudget),
		NewAssistant("Parser", "Reads files.", parserPrompt, parserBudget),
		NewProxy("User", "Collects the final answer.", 5),
	}
}

func text(content string) llm.ChatResponse {
	return llm.ChatResponse{Content: content}
}

func TestRun_RoundLimit(t *testing.T) {
	model := newScriptedModel()
	model.selections = []string{"Analyst", "Parser", "Analyst", "Parser", "Analyst"}
	model.reply(analystPrompt, text("a1"), text("a2"), text("a3"))
	model.reply(parserPrompt, text("p1"), text("p2"))

	m, err := NewManager(GroupChat{Participants: testParticipants(10, 10), MaxRounds: 5}, model, nil)
	require.NoError(t, err)

	result, err := m.Run(context.Background(), "User", "go")
	require.NoError(t, err)
	assert.Equal(t, TerminatedByMaxRounds, result.TerminatedBy)
	assert.Equal(t, 5, result.Rounds)
	require.Len(t, result.ChatHistory, 5)

	var speakers []string
	for _, msg := range result.ChatHistory {
		speakers = append(speakers, msg.Speaker)
	}
	assert.Equal(t, []string{"User", "Analyst", "Parser", "Analyst", "Parser"}, speakers)
	assert.Equal(t, "p2", result.Summary)
}

func TestRun_TerminationMarker(t *testing.T) {
	t.Run("回复中包含终止标记", func(t *testing.T) {
		model := newScriptedModel()
		model.selections = []string{"Analyst"}
		model.reply(analystPrompt, text("The report is ready. TERMINATE"))

		m, err := NewManager(GroupChat{Participants: testParticipants(2, 5), MaxRounds: 5}, model, nil)
		require.NoError(t, err)

		result, err := m.Run(context.Background(), "User", "go")
		require.NoError(t, err)
		assert.Equal(t, TerminatedByMarker, result.TerminatedBy)
		assert.Equal(t, 2, result.Rounds)
		assert.Equal(t, "The report is ready.", result.Summary)
	})

	t.Run("发起消息包含终止标记不结束对话", func(t *testing.T) {
		model := newScriptedModel()
		model.selections = []string{"Analyst"}
		model.reply(analystPrompt, text("ok. TERMINATE"))

		m, err := NewManager(GroupChat{Participants: testParticipants(2, 5), MaxRounds: 5}, model, nil)
		require.NoError(t, err)

		result, err := m.Run(context.Background(), "User", "Summarize TERMINATE_list.csv. TERMINATE")
		require.NoError(t, err)
		assert.Equal(t, TerminatedByMarker, result.TerminatedBy)
		assert.Equal(t, 2, result.Rounds)
		assert.Equal(t, "ok.", result.Summary)
	})

	t.Run("正文中的相似单词不结束对话", func(t *testing.T) {
		model := newScriptedModel()
		model.selections = []string{"Analyst", "Parser", "Analyst"}
		model.reply(analystPrompt, text("2 of 5 have status TERMINATED."), text("Report done. TERMINATE"))
		model.reply(parserPrompt, text("TERMINATE is a value in the status column, see TERMINATE_x"))

		m, err := NewManager(GroupChat{Participants: testParticipants(2, 5), MaxRounds: 5}, model, nil)
		require.NoError(t, err)

		result, err := m.Run(context.Background(), "User", "go")
		require.NoError(t, err)
		assert.Equal(t, TerminatedByMarker, result.TerminatedBy)
		assert.Equal(t, 4, result.Rounds)
		assert.Equal(t, "Report done.", result.Summary)
	})
}

func TestRun_MarkerWithPendingToolCall(t *testing.T) {
	executed := 0
	bindings := tools.NewBindings()
	require.NoError(t, bindings.Register(lookupToolkit(&executed), "Analyst", "Parser"))

	model := newScriptedModel()
	model.selections = []string{"Analyst"}
	model.reply(analystPrompt, llm.ChatResponse{
		Content:   "Looking it up. TERMINATE",
		ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "LOOKUP_GET", Arguments: "{}"}},
	})

	m, err := NewManager(GroupChat{Participants: testParticipants(2, 5), MaxRounds: 5}, model, bindings)
	require.NoError(t, err)

	// 先执行工具，再因调用方消息中的标记结束
	result, err := m.Run(context.Background(), "User", "go")
	require.NoError(t, err)
	assert.Equal(t, 1, executed)
	assert.Equal(t, TerminatedByMarker, result.TerminatedBy)
	require.Len(t, result.ChatHistory, 3)
	assert.Len(t, result.ChatHistory[2].ToolResults, 1)
}

func TestMarker(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantMatch bool
		wantStrip string
	}{
		{"只有标记", "TERMINATE", true, ""},
		{"结尾带标点", "All done. TERMINATE.", true, "All done."},
		{"加粗标记", "All done. **TERMINATE**", true, "All done. **"},
		{"结尾换行", "report\nTERMINATE\n", true, "report"},
		{"相似单词", "status TERMINATED.", false, "status TERMINATED."},
		{"文件名前缀", "read TERMINATE_list.csv", false, "read TERMINATE_list.csv"},
		{"标记在中间", "TERMINATE is a status value", false, "TERMINATE is a status value"},
		{"空内容", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMatch, HasMarker(tt.content, DefaultTerminationMarker))
			assert.Equal(t, tt.wantStrip, StripMarker(tt.content, DefaultTerminationMarker))
		})
	}
}

func TestRun_ReplyBudgetExhausted(t *testing.T) {
	model := newScriptedModel()
	model.selections = []string{"Analyst", "Analyst"}
	model.reply(analystPrompt, text("first"))

	m, err := NewManager(GroupChat{Participants: testParticipants(1, 5), MaxRounds: 5}, model, nil)
	require.NoError(t, err)

	result, err := m.Run(context.Background(), "User", "go")
	require.NoError(t, err)
	assert.Equal(t, TerminatedByReplyBudget, result.TerminatedBy)
	assert.Equal(t, 2, result.Rounds)
	assert.Equal(t, "first", result.Summary)
}

func lookupToolkit(calls *int) tools.Toolkit {
	return tools.Toolkit{
		App: "LOOKUP",
		Tools: []tools.Tool{{
			Name: "LOOKUP_GET",
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				*calls++
				return map[string]any{"rows": 2}, nil
			},
		}},
	}
}

func TestRun_ToolCallRoutesToExecutor(t *testing.T) {
	executed := 0
	bindings := tools.NewBindings()
	require.NoError(t, bindings.Register(lookupToolkit(&executed), "Analyst", "Parser"))

	model := newScriptedModel()
	// 工具调用之后不经过选择，直接由执行者发言
	model.selections = []string{"Analyst", "Analyst"}
	model.reply(analystPrompt,
		llm.ChatResponse{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "LOOKUP_GET", Arguments: "{}"}}},
		text("There are 2 rows. TERMINATE"),
	)

	m, err := NewManager(GroupChat{Participants: testParticipants(2, 5), MaxRounds: 5}, model, bindings)
	require.NoError(t, err)

	result, err := m.Run(context.Background(), "User", "go")
	require.NoError(t, err)
	assert.Equal(t, 1, executed)
	assert.Equal(t, TerminatedByMarker, result.TerminatedBy)
	require.Len(t, result.ChatHistory, 4)

	toolMsg := result.ChatHistory[2]
	assert.Equal(t, "Parser", toolMsg.Speaker)
	require.Len(t, toolMsg.ToolResults, 1)
	assert.Equal(t, "call_1", toolMsg.ToolResults[0].CallID)
	assert.JSONEq(t, `{"rows":2}`, toolMsg.ToolResults[0].Content)

	// 执行者没有被调用模型
	assert.Empty(t, model.replyRequests(parserPrompt))

	// 第一次请求带工具定义，第二次请求的历史中包含原生工具调用与结果
	reqs := model.replyRequests(analystPrompt)
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "LOOKUP_GET", reqs[0].Tools[0].Name)

	history := reqs[1].Messages
	require.Len(t, history, 3)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
	require.Len(t, history[1].ToolCalls, 1)
	assert.Equal(t, llm.RoleTool, history[2].Role)
	assert.Equal(t, "call_1", history[2].ToolCallID)
}

func TestRun_RoundRobinFallback(t *testing.T) {
	tests := []struct {
		name      string
		selection string
	}{
		{"没有提到任何参与者", "I am not sure."},
		{"提到多个参与者", "Analyst or Parser"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := newScriptedModel()
			model.selections = []string{tt.selection}
			model.reply(analystPrompt, text("done TERMINATE"))

			m, err := NewManager(GroupChat{Participants: testParticipants(2, 5), MaxRounds: 5}, model, nil)
			require.NoError(t, err)

			// User 之后轮询到列表第一个参与者
			result, err := m.Run(context.Background(), "User", "go")
			require.NoError(t, err)
			require.Len(t, result.ChatHistory, 2)
			assert.Equal(t, "Analyst", result.ChatHistory[1].Speaker)
		})
	}
}

func TestRun_SelectionAcceptsUnderscoredName(t *testing.T) {
	model := newScriptedModel()
	model.selections = []string{"File_Parser"}
	model.reply(parserPrompt, text("parsed TERMINATE"))

	participants := []Role{
		NewAssistant("Analyst", "Summarizes data.", analystPrompt, 2),
		NewAssistant("File Parser", "Reads files.", parserPrompt, 5),
		NewProxy("User", "Collects the final answer.", 5),
	}
	m, err := NewManager(GroupChat{Participants: participants, MaxRounds: 5}, model, nil)
	require.NoError(t, err)

	result, err := m.Run(context.Background(), "User", "go")
	require.NoError(t, err)
	assert.Equal(t, "File Parser", result.ChatHistory[1].Speaker)
}

func TestRun_ProxyDefaultReply(t *testing.T) {
	model := newScriptedModel()
	model.selections = []string{"User", "Analyst"}
	model.reply(analystPrompt, text("ok TERMINATE"))

	m, err := NewManager(GroupChat{Participants: testParticipants(2, 5), MaxRounds: 5}, model, nil)
	require.NoError(t, err)

	result, err := m.Run(context.Background(), "Parser", "go")
	require.NoError(t, err)
	require.Len(t, result.ChatHistory, 3)
	assert.Equal(t, "User", result.ChatHistory[1].Speaker)
	assert.Equal(t, "", result.ChatHistory[1].Content)

	// 空消息不进入模型上下文
	reqs := model.replyRequests(analystPrompt)
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].Messages, 1)
}

func TestRun_Introductions(t *testing.T) {
	model := newScriptedModel()
	model.selections = []string{"Analyst"}
	model.reply(analystPrompt, text("hi TERMINATE"))

	m, err := NewManager(GroupChat{Participants: testParticipants(2, 5), MaxRounds: 5, SendIntroductions: true}, model, nil)
	require.NoError(t, err)

	result, err := m.Run(context.Background(), "User", "go")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rounds)

	reqs := model.replyRequests(analystPrompt)
	require.Len(t, reqs, 1)
	intro := reqs[0].Messages[0]
	assert.Contains(t, intro.Content, "In attendance are")
	assert.Contains(t, intro.Content, "Parser: Reads files.")
	assert.Equal(t, "go", reqs[0].Messages[1].Content)
}

func TestRun_ModelErrorAborts(t *testing.T) {
	model := newScriptedModel()
	model.err = errors.New("rate limited")

	m, err := NewManager(GroupChat{Participants: testParticipants(2, 5), MaxRounds: 5}, model, nil)
	require.NoError(t, err)

	_, err = m.Run(context.Background(), "User", "go")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRun_ContextCanceled(t *testing.T) {
	model := newScriptedModel()
	m, err := NewManager(GroupChat{Participants: testParticipants(2, 5), MaxRounds: 5}, model, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Run(ctx, "User", "go")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewManager_Validation(t *testing.T) {
	model := newScriptedModel()
	human := NewProxy("Human", "asks", 1)
	human.HumanInputMode = "ALWAYS"

	tests := []struct {
		name    string
		chat    GroupChat
		wantErr string
	}{
		{"没有参与者", GroupChat{MaxRounds: 5}, "至少需要一个参与者"},
		{"轮数无效", GroupChat{Participants: testParticipants(1, 1), MaxRounds: 0}, "MaxRounds"},
		{"名称重复", GroupChat{Participants: append(testParticipants(1, 1), NewProxy("User", "dup", 1)), MaxRounds: 5}, "重复"},
		{"人工输入模式", GroupChat{Participants: []Role{human}, MaxRounds: 5}, "不支持人工输入模式"},
		{"未初始化的参与者", GroupChat{Participants: []Role{{Name: "X"}}, MaxRounds: 5}, "类型无效"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.chat, model, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("发起者不在对话中", func(t *testing.T) {
		m, err := NewManager(GroupChat{Participants: testParticipants(1, 1), MaxRounds: 5}, model, nil)
		require.NoError(t, err)
		_, err = m.Run(context.Background(), "Nobody", "go")
		require.Error(t, err)
	})
}
