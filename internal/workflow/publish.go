package workflow

import (
	"context"
	"fmt"

	"github.com/fachebot/csv-report-bot/internal/agent"
	"github.com/fachebot/csv-report-bot/internal/config"
	"github.com/fachebot/csv-report-bot/internal/docs"
	"github.com/fachebot/csv-report-bot/internal/logger"
	"github.com/fachebot/csv-report-bot/internal/tools"
)

// Publisher 把摘要写入 Google 文档
type Publisher struct {
	model       agent.ChatModel
	config      config.Publish
	docsToolkit tools.Toolkit
	roles       []agent.Role
}

func NewPublisher(model agent.ChatModel, c config.Publish, writer docs.Writer) *Publisher {
	return &Publisher{
		model:       model,
		config:      c,
		docsToolkit: tools.NewDocsToolkit(writer),
		roles:       publishRoles(),
	}
}

// PublishMessage 发布阶段的发起消息
func PublishMessage(summary, title string) string {
	return fmt.Sprintf("Write the summary report '%s' to a Google Document named '%s'.", summary, title)
}

// Publish 运行发布群聊，返回完整对话结果（原样作为 doc_status）
func (p *Publisher) Publish(ctx context.Context, report SummaryReport) (*agent.ChatResult, error) {
	bindings := tools.NewBindings()
	if err := bindings.Register(p.docsToolkit, DocumentWriterName, ContentWriterName); err != nil {
		return nil, err
	}

	manager, err := agent.NewManager(agent.GroupChat{
		Participants:      p.roles,
		MaxRounds:         p.config.MaxRounds,
		SendIntroductions: p.config.SendIntroductions,
	}, p.model, bindings)
	if err != nil {
		return nil, err
	}

	logger.Infof("[Publisher] 开始写入文档 %q", p.config.DocumentTitle)
	chat, err := manager.Run(ctx, UserName, PublishMessage(report.Text, p.config.DocumentTitle))
	if err != nil {
		return nil, fmt.Errorf("发布对话失败: %w", err)
	}

	logger.Infof("[Publisher] 发布完成, 轮数: %d, 结束原因: %s", chat.Rounds, chat.TerminatedBy)
	return chat, nil
}
