package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gpusched/gpusched/internal/core"

	"github.com/go-chi/chi/v5"
)

type createTaskRequest struct {
	Name     string `json:"name"`
	GPUType  string `json:"gpu_type"`
	GPUCount int    `json:"gpu_count"`
	Command  string `json:"command"`
}

type taskResponse struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	GPUType      string  `json:"gpu_type"`
	GPUCount     int     `json:"gpu_count"`
	Command      string  `json:"command"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
	StartedAt    *string `json:"started_at,omitempty"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	AssignedGPUs []int   `json:"assigned_gpus"`
	SessionName  string  `json:"session_name,omitempty"`
	ExitCode     *int    `json:"exit_code,omitempty"`
	Error        string  `json:"error,omitempty"`
	LogPath      string  `json:"log_path,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	task, err := s.scheduler.Submit(r.Context(), req.Name, req.GPUType, req.GPUCount, req.Command)
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, taskToResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.scheduler.List(r.Context())
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "task id must be an integer")
		return
	}
	task, err := s.scheduler.Get(r.Context(), id)
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "task id must be an integer")
		return
	}
	tail := parseIntDefault(r.URL.Query().Get("tail"), 0)
	lines, truncated, err := s.scheduler.Logs(r.Context(), id, tail)
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":   id,
		"lines":     lines,
		"truncated": truncated,
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "task id must be an integer")
		return
	}
	task, err := s.scheduler.Cancel(r.Context(), id)
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func parseTaskID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
}

func taskToResponse(task *core.Task) taskResponse {
	var started, completed *string
	if task.StartedAt != nil {
		v := task.StartedAt.UTC().Format(time.RFC3339)
		started = &v
	}
	if task.CompletedAt != nil {
		v := task.CompletedAt.UTC().Format(time.RFC3339)
		completed = &v
	}
	gpus := task.AssignedGPUs
	if gpus == nil {
		gpus = []int{}
	}
	return taskResponse{
		ID:           task.ID,
		Name:         task.Name,
		GPUType:      task.GPUType,
		GPUCount:     task.GPUCount,
		Command:      task.Command,
		Status:       string(task.Status),
		CreatedAt:    task.CreatedAt.UTC().Format(time.RFC3339),
		StartedAt:    started,
		CompletedAt:  completed,
		AssignedGPUs: gpus,
		SessionName:  task.SessionName,
		ExitCode:     task.ExitCode,
		Error:        task.Error,
		LogPath:      task.LogPath,
	}
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}

// writeSchedulerError maps a core.SchedulerError's Kind to an HTTP status
// uniformly, never inspecting the error's message text.
func writeSchedulerError(w http.ResponseWriter, err error) {
	var schedErr *core.SchedulerError
	if !errors.As(err, &schedErr) {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	switch schedErr.Kind {
	case core.ErrKindValidation:
		writeError(w, http.StatusBadRequest, schedErr.Kind.String(), schedErr.Message)
	case core.ErrKindNotFound:
		writeError(w, http.StatusNotFound, schedErr.Kind.String(), schedErr.Message)
	case core.ErrKindIllegalState:
		writeError(w, http.StatusConflict, schedErr.Kind.String(), schedErr.Message)
	case core.ErrKindProbeUnavailable:
		writeError(w, http.StatusServiceUnavailable, schedErr.Kind.String(), schedErr.Message)
	default:
		writeError(w, http.StatusInternalServerError, schedErr.Kind.String(), schedErr.Message)
	}
}
