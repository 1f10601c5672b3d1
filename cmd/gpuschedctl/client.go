package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{baseURL: serverAddr, http: &http.Client{Timeout: 30 * time.Second}}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
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

type gpuViewResponse struct {
	Index          int    `json:"index"`
	UUID           string `json:"uuid"`
	ModelName      string `json:"model_name"`
	MemoryTotalMiB *int   `json:"memory_total_mib,omitempty"`
	MemoryUsedMiB  *int   `json:"memory_used_mib,omitempty"`
	UtilizationPct *int   `json:"utilization_pct,omitempty"`
	AssignedTaskID *int64 `json:"assigned_task_id,omitempty"`
	IsFree         bool   `json:"is_free"`
}

type logsResponse struct {
	TaskID    int64    `json:"task_id"`
	Lines     []string `json:"lines"`
	Truncated bool     `json:"truncated"`
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error apiError `json:"error"`
		}
		if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
			return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) submitTask(name, gpuType string, gpuCount int, command string) (*taskResponse, error) {
	req := map[string]any{
		"name":      name,
		"gpu_type":  gpuType,
		"gpu_count": gpuCount,
		"command":   command,
	}
	var task taskResponse
	if err := c.do(http.MethodPost, "/api/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *apiClient) listTasks() ([]taskResponse, error) {
	var tasks []taskResponse
	if err := c.do(http.MethodGet, "/api/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *apiClient) getTask(id int64) (*taskResponse, error) {
	var task taskResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/tasks/%d", id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *apiClient) taskLogs(id int64, tail int) (*logsResponse, error) {
	path := fmt.Sprintf("/api/tasks/%d/logs", id)
	if tail > 0 {
		path += fmt.Sprintf("?tail=%d", tail)
	}
	var logs logsResponse
	if err := c.do(http.MethodGet, path, nil, &logs); err != nil {
		return nil, err
	}
	return &logs, nil
}

func (c *apiClient) cancelTask(id int64) (*taskResponse, error) {
	var task taskResponse
	if err := c.do(http.MethodPost, fmt.Sprintf("/api/tasks/%d/cancel", id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *apiClient) gpuStatus() ([]gpuViewResponse, error) {
	var gpus []gpuViewResponse
	if err := c.do(http.MethodGet, "/api/gpus", nil, &gpus); err != nil {
		return nil, err
	}
	return gpus, nil
}
