package workflow

import (
	"context"
	"fmt"

	"github.com/fachebot/csv-report-bot/internal/agent"
	"github.com/fachebot/csv-report-bot/internal/config"
	"github.com/fachebot/csv-report-bot/internal/logger"
	"github.com/fachebot/csv-report-bot/internal/tools"
)

// AnalysisResult 分析阶段结果
type AnalysisResult struct {
	Report SummaryReport
	Chat   *agent.ChatResult
}

// Analyzer 对上传的 CSV 文件运行分析群聊
type Analyzer struct {
	model       agent.ChatModel
	config      config.Analysis
	fileToolkit tools.Toolkit
	roles       []agent.Role
}

func NewAnalyzer(model agent.ChatModel, c config.Analysis, uploadDir string) *Analyzer {
	return &Analyzer{
		model:       model,
		config:      c,
		fileToolkit: tools.NewFileToolkit(uploadDir, c.MaxFileBytes),
		roles:       analysisRoles(c.SummaryMethod),
	}
}

// AnalysisTask 分析阶段的发起消息
func AnalysisTask(storagePath string) string {
	return fmt.Sprintf("Generate a Detailed Summary report on the csv file %s in my current directory ", storagePath)
}

// Analyze 生成 storagePath 对应文件的摘要报告
func (a *Analyzer) Analyze(ctx context.Context, storagePath string) (*AnalysisResult, error) {
	bindings := tools.NewBindings()
	if err := bindings.Register(a.fileToolkit, DataInsightsName, FileParserName); err != nil {
		return nil, err
	}

	manager, err := agent.NewManager(agent.GroupChat{
		Participants:      a.roles,
		MaxRounds:         a.config.MaxRounds,
		SendIntroductions: a.config.SendIntroductions,
	}, a.model, bindings)
	if err != nil {
		return nil, err
	}

	logger.Infof("[Analyzer] 开始分析文件 %s", storagePath)
	chat, err := manager.Run(ctx, UserName, AnalysisTask(storagePath))
	if err != nil {
		return nil, fmt.Errorf("分析对话失败: %w", err)
	}

	report := ExtractSummary(chat, a.config.SummaryMethod, DataInsightsName)
	logger.Infof("[Analyzer] 分析完成, 轮数: %d, 摘要长度: %d, 标签: %v", chat.Rounds, len(report.Text), report.Tagged)

	return &AnalysisResult{Report: report, Chat: chat}, nil
}
