package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fachebot/csv-report-bot/internal/logger"
	"github.com/fachebot/csv-report-bot/internal/model"
	"github.com/fachebot/csv-report-bot/internal/pipeline"
	"github.com/fachebot/csv-report-bot/internal/upload"
)

// processor 处理一次上传（便于测试注入）
type processor interface {
	Process(ctx context.Context, in pipeline.Input) (*pipeline.Output, error)
}

type runReader interface {
	Get(ctx context.Context, id string) (*model.Run, error)
}

type Server struct {
	proc           processor
	runs           runReader
	maxUploadBytes int64
}

// NewServer 创建 HTTP 处理器；maxUploadBytes 为 0 时不限制请求大小
func NewServer(proc processor, runs runReader, maxUploadBytes int64) http.Handler {
	s := &Server{proc: proc, runs: runs, maxUploadBytes: maxUploadBytes}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /uploadfile/{$}", s.handleUpload)
	mux.HandleFunc("POST /uploadfile", s.handleUpload)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	// 方法不匹配时返回 JSON 错误，而不是 ServeMux 默认的纯文本
	mux.HandleFunc("/uploadfile/{$}", methodNotAllowed(http.MethodPost))
	mux.HandleFunc("/uploadfile", methodNotAllowed(http.MethodPost))
	mux.HandleFunc("/runs/{id}", methodNotAllowed(http.MethodGet, http.MethodHead))
	mux.HandleFunc("/healthz", methodNotAllowed(http.MethodGet, http.MethodHead))

	return chainMiddlewares(mux, withRecover, withLogging)
}

type uploadResponse struct {
	Filename  string          `json:"filename"`
	Summary   string          `json:"summary"`
	DocStatus json.RawMessage `json:"doc_status"`
}

type runResponse struct {
	*model.Run
	DocStatus json.RawMessage `json:"doc_status,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadBytes > 0 {
		if r.ContentLength > s.maxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	out, err := s.proc.Process(r.Context(), pipeline.Input{Filename: header.Filename, Body: file})
	if out != nil && out.RunID != "" {
		w.Header().Set("X-Run-ID", out.RunID)
	}
	if err != nil {
		s.writeProcessError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Filename:  out.Filename,
		Summary:   out.Summary,
		DocStatus: out.DocStatus,
	})
}

func (s *Server) writeProcessError(w http.ResponseWriter, err error) {
	var (
		uploadErr   *pipeline.UploadError
		workflowErr *pipeline.WorkflowError
		maxErr      *http.MaxBytesError
	)
	switch {
	case errors.Is(err, upload.ErrInvalidFilename):
		writeError(w, http.StatusBadRequest, "invalid filename")
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
	case errors.As(err, &uploadErr):
		writeError(w, http.StatusInternalServerError, "failed to store uploaded file")
	case errors.As(err, &workflowErr):
		writeError(w, http.StatusInternalServerError, string(workflowErr.Stage)+" workflow failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		logger.Errorf("[Server] 查询运行记录失败, %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := runResponse{Run: run}
	if run.DocStatus != "" && json.Valid([]byte(run.DocStatus)) {
		resp.DocStatus = json.RawMessage(run.DocStatus)
	}
	writeJSON(w, http.StatusOK, resp)
}

func methodNotAllowed(allowed ...string) http.HandlerFunc {
	allow := strings.Join(allowed, ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("[Server] 写入响应失败, %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
