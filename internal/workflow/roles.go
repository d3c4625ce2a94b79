package workflow

import (
	"github.com/fachebot/csv-report-bot/internal/agent"
)

// 参与者名称
const (
	DataInsightsName   = "Data Insights Specialist"
	FileParserName     = "File Parser and Extractor"
	UserName           = "User"
	DocumentWriterName = "Document Writer"
	ContentWriterName  = "Content Writer"
)

// 摘要提取方式
const (
	SummaryMethodTagged  = "tagged"
	SummaryMethodLastMsg = "last_msg"
)

const (
	summaryOpenTag  = "<summary_report>"
	summaryCloseTag = "</summary_report>"
)

const dataInsightsPrompt = `You are a data insights specialist who analyzes data from the File Parser agent and provides a detailed summary of key metrics and trends.
Return the summary report as context to the user agent.`

const taggedInstruction = `
When the report is complete, put the full summary report between ` + summaryOpenTag + ` and ` + summaryCloseTag + ` tags.`

const fileParserPrompt = `You are a file parser that reads CSV files and returns a formatted output based on the columns in the first row.
Stop the process with the message "TERMINATE".`

const documentWriterPrompt = `You are a document writer agent that writes a summary report to a Google Document using the available tools provided.`

// analysisRoles 分析阶段的参与者
func analysisRoles(summaryMethod string) []agent.Role {
	prompt := dataInsightsPrompt
	if summaryMethod == SummaryMethodTagged {
		prompt += taggedInstruction
	}

	return []agent.Role{
		agent.NewAssistant(
			DataInsightsName,
			"Provides Summary Report of key metrics and trends gotten from data provided by the File Parser agent.",
			prompt,
			2,
		),
		agent.NewAssistant(
			FileParserName,
			"Reads, Parses CSV files and Returns a formatted output using the column names in the first row of the CSV file.",
			fileParserPrompt,
			5,
		).WithCodeExecution(true),
		agent.NewProxy(
			UserName,
			"Collects and returns the final response from the Data Insights Specialist.",
			5,
		).WithCodeExecution(true),
	}
}

// publishRoles 发布阶段的参与者
func publishRoles() []agent.Role {
	return []agent.Role{
		agent.NewAssistant(
			DocumentWriterName,
			"Starts the write operation to a Google Document using the available tools provided.",
			documentWriterPrompt,
			2,
		),
		agent.NewProxy(
			ContentWriterName,
			"Writes content to a Google Document",
			5,
		).WithCodeExecution(true),
		agent.NewProxy(
			UserName,
			"Ensures the summary report is written to a Google Document.",
			5,
		).WithCodeExecution(true),
	}
}
