package model

import (
	"context"
	"fmt"
	"time"

	"github.com/fachebot/csv-report-bot/internal/ent"
	"github.com/fachebot/csv-report-bot/internal/ent/run"

	"github.com/google/uuid"
)

// RunStatus 运行状态
type RunStatus string

const (
	RunStatusPending    RunStatus = RunStatus(run.StatusPending)
	RunStatusAnalyzing  RunStatus = RunStatus(run.StatusAnalyzing)
	RunStatusPublishing RunStatus = RunStatus(run.StatusPublishing)
	RunStatusCompleted  RunStatus = RunStatus(run.StatusCompleted)
	RunStatusFailed     RunStatus = RunStatus(run.StatusFailed)
)

// Run 一次上传到发布的处理记录
type Run struct {
	ID           string    `json:"id"`
	UploadID     string    `json:"upload_id,omitempty"`
	Filename     string    `json:"filename"`
	StoragePath  string    `json:"storage_path,omitempty"`
	Status       RunStatus `json:"status"`
	Summary      string    `json:"summary,omitempty"`
	DocStatus    string    `json:"-"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreateTime   time.Time `json:"create_time"`
	UpdateTime   time.Time `json:"update_time"`
}

type RunModel struct {
	client *ent.RunClient
	now    func() time.Time
}

func NewRunModel(client *ent.RunClient) *RunModel {
	return &RunModel{client: client, now: time.Now}
}

// Create 创建处理记录
func (m *RunModel) Create(ctx context.Context, filename string) (*Run, error) {
	now := m.now().UTC()
	r, err := m.client.Create().
		SetID(uuid.NewString()).
		SetFilename(filename).
		SetStatus(run.StatusPending).
		SetCreateTime(now).
		SetUpdateTime(now).
		Save(ctx)
	if err != nil {
		return nil, err
	}
	return toRun(r), nil
}

// SetUpload 保存上传文件信息
func (m *RunModel) SetUpload(ctx context.Context, id, uploadID, storagePath string) error {
	return m.exec(ctx, id, m.update(id).SetUploadID(uploadID).SetStoragePath(storagePath))
}

// UpdateStatus 更新状态
func (m *RunModel) UpdateStatus(ctx context.Context, id string, status RunStatus) error {
	return m.exec(ctx, id, m.update(id).SetStatus(run.Status(status)))
}

// MarkPublishing 保存摘要并进入发布阶段
func (m *RunModel) MarkPublishing(ctx context.Context, id, summary string) error {
	return m.exec(ctx, id, m.update(id).SetStatus(run.StatusPublishing).SetSummary(summary))
}

// MarkCompleted 标记完成
func (m *RunModel) MarkCompleted(ctx context.Context, id, docStatus string) error {
	update := m.update(id).
		SetStatus(run.StatusCompleted).
		SetDocStatus(docStatus).
		SetErrorMessage("")
	return m.exec(ctx, id, update)
}

// MarkFailed 标记失败
func (m *RunModel) MarkFailed(ctx context.Context, id, errorMsg string) error {
	return m.exec(ctx, id, m.update(id).SetStatus(run.StatusFailed).SetErrorMessage(errorMsg))
}

func (m *RunModel) update(id string) *ent.RunUpdateOne {
	return m.client.UpdateOneID(id).SetUpdateTime(m.now().UTC())
}

func (m *RunModel) exec(ctx context.Context, id string, update *ent.RunUpdateOne) error {
	err := update.Exec(ctx)
	if ent.IsNotFound(err) {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return err
}

// Get 查询单条记录
func (m *RunModel) Get(ctx context.Context, id string) (*Run, error) {
	r, err := m.client.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return toRun(r), nil
}

// GetIncompleteRuns 查询所有未结束的记录
func (m *RunModel) GetIncompleteRuns(ctx context.Context) ([]*Run, error) {
	rows, err := m.client.Query().
		Where(run.StatusIn(run.StatusPending, run.StatusAnalyzing, run.StatusPublishing)).
		Order(run.ByCreateTime()).
		All(ctx)
	if err != nil {
		return nil, err
	}

	runs := make([]*Run, 0, len(rows))
	for _, r := range rows {
		runs = append(runs, toRun(r))
	}
	return runs, nil
}

// DeleteBefore 删除创建时间早于 cutoff 的已结束记录
func (m *RunModel) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := m.client.Delete().
		Where(
			run.CreateTimeLT(cutoff.UTC()),
			run.StatusIn(run.StatusCompleted, run.StatusFailed),
		).
		Exec(ctx)
	return int64(n), err
}

func toRun(r *ent.Run) *Run {
	return &Run{
		ID:           r.ID,
		UploadID:     r.UploadID,
		Filename:     r.Filename,
		StoragePath:  r.StoragePath,
		Status:       RunStatus(r.Status),
		Summary:      r.Summary,
		DocStatus:    r.DocStatus,
		ErrorMessage: r.ErrorMessage,
		CreateTime:   r.CreateTime.UTC(),
		UpdateTime:   r.UpdateTime.UTC(),
	}
}
