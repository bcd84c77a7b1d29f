package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/store"
	"github.com/dshills/agentflow/internal/xjson"
)

var allowedUploads = map[string]bool{".pdf": true, ".jpg": true, ".jpeg": true, ".png": true}

// ExecuteRequest is the body of POST /api/execute.
type ExecuteRequest struct {
	Workflow graph.Workflow `json:"workflow"`
	// InputData is accepted for client compatibility and not used.
	InputData map[string]any `json:"input_data,omitempty"`
}

// ExecuteResponse is returned by POST /api/execute.
type ExecuteResponse struct {
	Success   bool                    `json:"success"`
	Status    string                  `json:"status"`
	RunID     string                  `json:"run_id"`
	BlockedBy string                  `json:"blocked_by,omitempty"`
	Result    map[string]graph.Result `json:"result"`
	Logs      graph.Trace             `json:"logs"`
	Error     string                  `json:"error,omitempty"`
}

// UploadResponse is returned by POST /api/upload.
type UploadResponse struct {
	Success  bool   `json:"success"`
	FilePath string `json:"file_path,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	Error    string `json:"error,omitempty"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = xjson.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func (s *Server) storeError(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, store.ErrInvalidWorkflow):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("store operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := xjson.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "running", "version": Version})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":   "healthy",
		"provider": s.provider,
		"uptime":   time.Since(s.startTime).Round(time.Second).String(),
	}
	status := http.StatusOK
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			resp["status"] = "unhealthy"
			resp["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Catalog())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusOK, UploadResponse{Error: err.Error()})
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedUploads[ext] {
		writeJSON(w, http.StatusOK, UploadResponse{Error: "Unsupported file type: " + ext})
		return
	}

	path := filepath.Join(s.uploadDir, uuid.NewString()+"_"+name)
	size, err := saveUpload(path, file)
	if err != nil {
		s.logger.Warn("upload failed", "file", name, "error", err)
		writeJSON(w, http.StatusOK, UploadResponse{Error: err.Error()})
		return
	}

	s.logger.Info("file uploaded", "file", name, "path", path, "bytes", size)
	writeJSON(w, http.StatusOK, UploadResponse{
		Success:  true,
		FilePath: path,
		FileName: name,
		FileSize: size,
	})
}

func saveUpload(path string, src io.Reader) (int64, error) {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.engine.Run(r.Context(), &req.Workflow)
	if err != nil && run == nil {
		if graph.IsStructural(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("workflow execution failed", "workflow", req.Workflow.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if serr := s.store.SaveRun(context.WithoutCancel(r.Context()), run); serr != nil {
		s.logger.Warn("failed to record run", "run_id", run.RunID, "error", serr)
	}

	resp := ExecuteResponse{
		Success:   err == nil,
		Status:    string(run.Status),
		RunID:     run.RunID,
		BlockedBy: run.BlockedBy,
		Result:    run.Results,
		Logs:      run.Trace,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var wf graph.Workflow
	if err := decodeBody(r, &wf); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.Validate(&wf); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) handleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf graph.Workflow
	if err := decodeBody(r, &wf); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveWorkflow(r.Context(), &wf); err != nil {
		s.storeError(w, err, "Workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Workflow saved"})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListWorkflows(r.Context())
	if err != nil {
		s.storeError(w, err, "")
		return
	}
	if list == nil {
		list = []*graph.Workflow{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err, "Workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteWorkflow(r.Context(), r.PathValue("id")); err != nil {
		s.storeError(w, err, "Workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Workflow deleted"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		WorkflowID: q.Get("workflow_id"),
		Status:     graph.RunStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.storeError(w, err, "")
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err, "Run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
