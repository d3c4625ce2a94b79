package pipeline

import "fmt"

// Stage 出错的阶段
type Stage string

const (
	StageAnalysis Stage = "analysis"
	StagePublish  Stage = "publish"
)

// UploadError 上传文件无法保存
type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("保存上传文件 %s 失败: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// WorkflowError 分析或发布对话失败
type WorkflowError struct {
	Stage Stage
	Err   error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s 阶段失败: %v", e.Stage, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}
