package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fachebot/csv-report-bot/internal/agent"
	"github.com/fachebot/csv-report-bot/internal/model"
	"github.com/fachebot/csv-report-bot/internal/upload"
	"github.com/fachebot/csv-report-bot/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, storagePath string) (*workflow.AnalysisResult, error) {
	args := m.Called(ctx, storagePath)
	result, _ := args.Get(0).(*workflow.AnalysisResult)
	return result, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, report workflow.SummaryReport) (*agent.ChatResult, error) {
	args := m.Called(ctx, report)
	result, _ := args.Get(0).(*agent.ChatResult)
	return result, args.Error(1)
}

// memoryLedger 内存版运行记录
type memoryLedger struct {
	mu       sync.Mutex
	runs     map[string]*model.Run
	statuses []model.RunStatus
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{runs: make(map[string]*model.Run)}
}

func (l *memoryLedger) Create(ctx context.Context, filename string) (*model.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	run := &model.Run{ID: "run-1", Filename: filename, Status: model.RunStatusPending}
	l.runs[run.ID] = run
	l.statuses = append(l.statuses, run.Status)
	return run, nil
}

func (l *memoryLedger) set(id string, fn func(r *model.Run)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	run, ok := l.runs[id]
	if !ok {
		return model.ErrNotFound
	}
	before := run.Status
	fn(run)
	if run.Status != before {
		l.statuses = append(l.statuses, run.Status)
	}
	return nil
}

func (l *memoryLedger) SetUpload(ctx context.Context, id, uploadID, storagePath string) error {
	return l.set(id, func(r *model.Run) { r.UploadID, r.StoragePath = uploadID, storagePath })
}

func (l *memoryLedger) UpdateStatus(ctx context.Context, id string, status model.RunStatus) error {
	return l.set(id, func(r *model.Run) { r.Status = status })
}

func (l *memoryLedger) MarkPublishing(ctx context.Context, id, summary string) error {
	return l.set(id, func(r *model.Run) { r.Status, r.Summary = model.RunStatusPublishing, summary })
}

func (l *memoryLedger) MarkCompleted(ctx context.Context, id, docStatus string) error {
	return l.set(id, func(r *model.Run) { r.Status, r.DocStatus = model.RunStatusCompleted, docStatus })
}

func (l *memoryLedger) MarkFailed(ctx context.Context, id, errorMsg string) error {
	return l.set(id, func(r *model.Run) { r.Status, r.ErrorMessage = model.RunStatusFailed, errorMsg })
}

func newTestPipeline(dir string) (*Pipeline, *mockAnalyzer, *mockPublisher, *memoryLedger) {
	a := new(mockAnalyzer)
	p := new(mockPublisher)
	ledger := newMemoryLedger()
	return &Pipeline{
		store:     upload.NewStore(dir, upload.NamingOriginal),
		analyzer:  a,
		publisher: p,
		runs:      ledger,
	}, a, p, ledger
}

const csvBody = "name,amount\na,10\nb,20\n"

func TestProcess_Success(t *testing.T) {
	dir := t.TempDir()
	pipe, a, p, ledger := newTestPipeline(dir)
	path := filepath.Join(dir, "data.csv")

	report := workflow.SummaryReport{Text: "Two rows, total 30.", Tagged: true}
	a.On("Analyze", mock.Anything, path).Return(&workflow.AnalysisResult{Report: report}, nil).Once()
	p.On("Publish", mock.Anything, report).Return(&agent.ChatResult{Summary: "done", Rounds: 4}, nil).Once()

	out, err := pipe.Process(context.Background(), Input{Filename: "data.csv", Body: strings.NewReader(csvBody)})
	require.NoError(t, err)
	a.AssertExpectations(t)
	p.AssertExpectations(t)

	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, "data.csv", out.Filename)
	assert.Equal(t, report.Text, out.Summary)

	var docStatus map[string]any
	require.NoError(t, json.Unmarshal(out.DocStatus, &docStatus))
	assert.Equal(t, "done", docStatus["summary"])

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, csvBody, string(saved))

	assert.Equal(t, []model.RunStatus{
		model.RunStatusPending,
		model.RunStatusAnalyzing,
		model.RunStatusPublishing,
		model.RunStatusCompleted,
	}, ledger.statuses)
	assert.Equal(t, report.Text, ledger.runs["run-1"].Summary)
}

func TestProcess_UploadError(t *testing.T) {
	pipe, a, p, ledger := newTestPipeline(filepath.Join(t.TempDir(), "missing"))

	_, err := pipe.Process(context.Background(), Input{Filename: "data.csv", Body: strings.NewReader(csvBody)})
	require.Error(t, err)

	var uploadErr *UploadError
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, "data.csv", uploadErr.Filename)

	a.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
	p.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	assert.Equal(t, model.RunStatusFailed, ledger.runs["run-1"].Status)
}

func TestProcess_InvalidFilename(t *testing.T) {
	pipe, _, _, _ := newTestPipeline(t.TempDir())

	_, err := pipe.Process(context.Background(), Input{Filename: "../x.csv", Body: strings.NewReader(csvBody)})
	require.Error(t, err)
	assert.ErrorIs(t, err, upload.ErrInvalidFilename)
}

func TestProcess_WorkflowErrors(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(a *mockAnalyzer, p *mockPublisher)
		wantStage Stage
		summary   string
	}{
		{
			name: "分析失败",
			setup: func(a *mockAnalyzer, p *mockPublisher) {
				a.On("Analyze", mock.Anything, mock.Anything).Return(nil, errors.New("llm down"))
			},
			wantStage: StageAnalysis,
		},
		{
			name: "发布失败",
			setup: func(a *mockAnalyzer, p *mockPublisher) {
				a.On("Analyze", mock.Anything, mock.Anything).
					Return(&workflow.AnalysisResult{Report: workflow.SummaryReport{Text: "s"}}, nil)
				p.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("docs down"))
			},
			wantStage: StagePublish,
			summary:   "s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipe, a, p, ledger := newTestPipeline(t.TempDir())
			tt.setup(a, p)

			out, err := pipe.Process(context.Background(), Input{Filename: "data.csv", Body: strings.NewReader(csvBody)})
			require.Error(t, err)

			var wfErr *WorkflowError
			require.True(t, errors.As(err, &wfErr))
			assert.Equal(t, tt.wantStage, wfErr.Stage)
			assert.Equal(t, "run-1", out.RunID)
			assert.Equal(t, tt.summary, out.Summary)

			run := ledger.runs["run-1"]
			assert.Equal(t, model.RunStatusFailed, run.Status)
			assert.NotEmpty(t, run.ErrorMessage)
		})
	}
}
