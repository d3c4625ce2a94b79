package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fachebot/csv-report-bot/internal/agent"
	"github.com/fachebot/csv-report-bot/internal/logger"
	"github.com/fachebot/csv-report-bot/internal/model"
	"github.com/fachebot/csv-report-bot/internal/upload"
	"github.com/fachebot/csv-report-bot/internal/workflow"
)

// fileStore 保存上传内容（便于测试注入）
type fileStore interface {
	Save(filename string, r io.Reader) (*upload.File, error)
}

type analyzer interface {
	Analyze(ctx context.Context, storagePath string) (*workflow.AnalysisResult, error)
}

type publisher interface {
	Publish(ctx context.Context, report workflow.SummaryReport) (*agent.ChatResult, error)
}

// runLedger 记录处理进度
type runLedger interface {
	Create(ctx context.Context, filename string) (*model.Run, error)
	SetUpload(ctx context.Context, id, uploadID, storagePath string) error
	UpdateStatus(ctx context.Context, id string, status model.RunStatus) error
	MarkPublishing(ctx context.Context, id, summary string) error
	MarkCompleted(ctx context.Context, id, docStatus string) error
	MarkFailed(ctx context.Context, id, errorMsg string) error
}

// Input 一次上传请求
type Input struct {
	Filename string
	Body     io.Reader
}

// Output 返回给客户端的结果
type Output struct {
	RunID     string
	Filename  string
	Summary   string
	DocStatus json.RawMessage
}

// Pipeline 保存上传文件，依次运行分析与发布
type Pipeline struct {
	store     fileStore
	analyzer  analyzer
	publisher publisher
	runs      runLedger
}

func NewPipeline(store *upload.Store, analyzer *workflow.Analyzer, publisher *workflow.Publisher, runs *model.RunModel) *Pipeline {
	return &Pipeline{store: store, analyzer: analyzer, publisher: publisher, runs: runs}
}

// Process 处理一次上传。分析产出的摘要只交给发布阶段一次，任一阶段失败即停止
func (p *Pipeline) Process(ctx context.Context, in Input) (*Output, error) {
	run, err := p.runs.Create(ctx, in.Filename)
	if err != nil {
		return nil, fmt.Errorf("创建运行记录失败: %w", err)
	}
	out := &Output{RunID: run.ID, Filename: in.Filename}

	file, err := p.store.Save(in.Filename, in.Body)
	if err != nil {
		return out, p.fail(ctx, run.ID, &UploadError{Filename: in.Filename, Err: err})
	}
	logger.Infof("[Pipeline] 文件已保存, run: %s, path: %s, size: %d", run.ID, file.StoragePath, file.Size)
	p.record(run.ID, p.runs.SetUpload(ctx, run.ID, file.ID, file.StoragePath))

	// 分析
	p.record(run.ID, p.runs.UpdateStatus(ctx, run.ID, model.RunStatusAnalyzing))
	analysis, err := p.analyzer.Analyze(ctx, file.StoragePath)
	if err != nil {
		return out, p.fail(ctx, run.ID, &WorkflowError{Stage: StageAnalysis, Err: err})
	}
	out.Summary = analysis.Report.Text

	// 发布
	p.record(run.ID, p.runs.MarkPublishing(ctx, run.ID, analysis.Report.Text))
	chat, err := p.publisher.Publish(ctx, analysis.Report)
	if err != nil {
		return out, p.fail(ctx, run.ID, &WorkflowError{Stage: StagePublish, Err: err})
	}

	docStatus, err := json.Marshal(chat)
	if err != nil {
		return out, p.fail(ctx, run.ID, &WorkflowError{Stage: StagePublish, Err: err})
	}
	out.DocStatus = docStatus

	p.record(run.ID, p.runs.MarkCompleted(ctx, run.ID, string(docStatus)))
	logger.Infof("[Pipeline] 处理完成, run: %s", run.ID)
	return out, nil
}

func (p *Pipeline) fail(ctx context.Context, runID string, err error) error {
	logger.Errorf("[Pipeline] 处理失败, run: %s, %v", runID, err)
	// 请求上下文可能已取消，记录失败不受其影响
	if markErr := p.runs.MarkFailed(context.WithoutCancel(ctx), runID, err.Error()); markErr != nil {
		logger.Errorf("[Pipeline] 更新运行记录失败, run: %s, %v", runID, markErr)
	}
	return err
}

func (p *Pipeline) record(runID string, err error) {
	if err != nil {
		logger.Warnf("[Pipeline] 更新运行记录失败, run: %s, %v", runID, err)
	}
}
