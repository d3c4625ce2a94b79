package workflow

import (
	"regexp"
	"strings"

	"github.com/fachebot/csv-report-bot/internal/agent"
	"github.com/fachebot/csv-report-bot/internal/logger"
)

// SummaryReport 分析阶段的产出，发布阶段唯一的输入
type SummaryReport struct {
	Text   string
	Tagged bool // 是否来自 <summary_report> 标签
}

var summaryPattern = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(summaryOpenTag) + `(.*?)` + regexp.QuoteMeta(summaryCloseTag))

// ExtractSummary 从对话结果中提取摘要。
// last_msg 取最后一条消息；tagged 取 producer 最后一次输出的标签内容，找不到时退回 last_msg。
func ExtractSummary(result *agent.ChatResult, method, producer string) SummaryReport {
	fallback := SummaryReport{Text: result.Summary}
	if method != SummaryMethodTagged {
		return fallback
	}

	msgs := result.MessagesFrom(producer)
	for i := len(msgs) - 1; i >= 0; i-- {
		matches := summaryPattern.FindAllStringSubmatch(msgs[i].Content, -1)
		if len(matches) == 0 {
			continue
		}
		text := strings.TrimSpace(matches[len(matches)-1][1])
		if text == "" {
			continue
		}
		return SummaryReport{Text: text, Tagged: true}
	}

	logger.Warnf("[Workflow] 未找到 %s 输出的摘要标签, 使用最后一条消息作为摘要", producer)
	return fallback
}
