package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fachebot/csv-report-bot/internal/config"
	"github.com/fachebot/csv-report-bot/internal/logger"
	"github.com/fachebot/csv-report-bot/internal/model"
	"github.com/robfig/cron/v3"
)

// DefaultCron 默认每天 03:00 (UTC) 清理
const DefaultCron = "0 3 * * *"

// runStore 运行记录（便于测试注入）
type runStore interface {
	GetIncompleteRuns(ctx context.Context) ([]*model.Run, error)
	MarkFailed(ctx context.Context, id, errorMsg string) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler 启动时收尾中断的运行，并定期清理过期的上传文件与运行记录
type Scheduler struct {
	cron      *cron.Cron
	runs      runStore
	uploadDir string
	config    *config.Scheduler
	retention time.Duration
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
}

// locUTC UTC 标准时间（UTC）
var locUTC = time.UTC

func NewScheduler(runs *model.RunModel, c *config.Config) *Scheduler {
	return newScheduler(runs, c.Upload.Dir, &c.Scheduler, c.Upload.RetentionDays)
}

func newScheduler(runs runStore, uploadDir string, cfg *config.Scheduler, retentionDays int) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(locUTC)),
		runs:      runs,
		uploadDir: uploadDir,
		config:    cfg,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	ctx := s.ctx
	s.mu.Unlock()

	// 启动时将上次退出前未完成的运行标记为失败
	s.recoverRuns(ctx)

	if s.retention <= 0 {
		logger.Infof("[Scheduler] 未配置保留天数，跳过清理任务")
		return nil
	}

	spec := s.config.Cron
	if spec == "" {
		spec = DefaultCron
	}
	if _, err := s.cron.AddFunc(spec, s.runCleanup); err != nil {
		return fmt.Errorf("注册清理任务失败: %w", err)
	}

	s.cron.Start()
	logger.Infof("[Scheduler] 调度器已启动，清理任务: %s，保留 %s", spec, s.retention)
	return nil
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Infof("[Scheduler] 调度器已停止")
}

// recoverRuns 处理中断的运行：进程重启后它们不会再继续
func (s *Scheduler) recoverRuns(ctx context.Context) {
	runs, err := s.runs.GetIncompleteRuns(ctx)
	if err != nil {
		logger.Errorf("[Scheduler] 查询未完成运行失败: %v", err)
		return
	}
	if len(runs) == 0 {
		return
	}

	logger.Infof("[Scheduler] 找到 %d 个未完成的运行，标记为失败", len(runs))
	for _, run := range runs {
		msg := fmt.Sprintf("interrupted during %s", run.Status)
		if err := s.runs.MarkFailed(ctx, run.ID, msg); err != nil {
			logger.Errorf("[Scheduler] 更新运行状态失败 (runID=%s): %v", run.ID, err)
		}
	}
}

// runCleanup 清理任务（cron 触发）
func (s *Scheduler) runCleanup() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		logger.Infof("[Scheduler] 任务已取消，退出")
		return
	default:
	}

	cutoff := s.now().In(locUTC).Add(-s.retention)
	logger.Infof("[Scheduler] 开始清理 %s 之前的数据", cutoff.Format(time.RFC3339))

	files, err := s.cleanupUploads(cutoff)
	if err != nil {
		logger.Errorf("[Scheduler] 清理上传文件失败: %v", err)
	}

	rows, err := s.runs.DeleteBefore(ctx, cutoff)
	if err != nil {
		logger.Errorf("[Scheduler] 清理运行记录失败: %v", err)
	}

	logger.Infof("[Scheduler] 清理完成: 文件 %d 个，运行记录 %d 条", files, rows)
}

// cleanupUploads 删除修改时间早于 cutoff 的上传文件
func (s *Scheduler) cleanupUploads(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.uploadDir, e.Name())
		if err := os.Remove(path); err != nil {
			logger.Warnf("[Scheduler] 删除文件失败 %s: %v", path, err)
			continue
		}
		removed++
	}
	return removed, nil
}
