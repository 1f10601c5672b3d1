package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gpusched/gpusched/internal/core"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server exposes the scheduler's public operations as MCP tools for agent
// clients that prefer tool-calling over REST. It holds no scheduling logic
// of its own; every handler is a thin adapter over *core.Scheduler.
type Server struct {
	scheduler *core.Scheduler
	logger    *slog.Logger
}

// NewServer constructs an MCP server over scheduler.
func NewServer(scheduler *core.Scheduler, logger *slog.Logger) *Server {
	return &Server{scheduler: scheduler, logger: logger}
}

// Run starts the MCP server using stdio transport. It blocks until stdin
// closes or the process is signaled.
func (s *Server) Run() error {
	mcpServer := server.NewMCPServer(
		"gpusched",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(mcpServer)
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("gpu_submit_task",
		mcp.WithDescription("Submit a shell command to run once enough matching GPUs are free. The task is queued, not launched immediately."),
		mcp.WithString("name", mcp.Description("Free-text label for the task")),
		mcp.WithString("gpu_type", mcp.Required(), mcp.Description("GPU model name, must match a GPU currently reported by the probe, e.g. 'NVIDIA A100 80GB'")),
		mcp.WithNumber("gpu_count", mcp.Required(), mcp.Description("Number of GPUs of gpu_type the task needs"), mcp.Min(1)),
		mcp.WithString("command", mcp.Required(), mcp.Description("Shell command to run, executed verbatim by a POSIX shell")),
	), s.handleSubmitTask)

	mcpServer.AddTool(mcp.NewTool("gpu_list_tasks",
		mcp.WithDescription("List every submitted task, newest first."),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("gpu_get_task",
		mcp.WithDescription("Get the full record for one task."),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
	), s.handleGetTask)

	mcpServer.AddTool(mcp.NewTool("gpu_task_logs",
		mcp.WithDescription("Fetch the tail of a task's combined stdout/stderr log."),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithNumber("tail", mcp.Description("Number of lines to return, default 100"), mcp.Min(1)),
	), s.handleTaskLogs)

	mcpServer.AddTool(mcp.NewTool("gpu_cancel_task",
		mcp.WithDescription("Cancel a queued or running task. Fails if the task is already terminal."),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
	), s.handleCancelTask)

	mcpServer.AddTool(mcp.NewTool("gpu_status",
		mcp.WithDescription("Report every probed GPU with its current occupancy."),
	), s.handleGPUStatus)

	s.logger.Info("MCP tools registered", "count", 6)
}

func (s *Server) handleSubmitTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	gpuType := mcp.ParseString(request, "gpu_type", "")
	gpuCount := int(mcp.ParseFloat64(request, "gpu_count", 0))
	command := mcp.ParseString(request, "command", "")

	task, err := s.scheduler.Submit(ctx, name, gpuType, gpuCount, command)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("submitted task %d (%s x%d), status=%s", task.ID, task.GPUType, task.GPUCount, task.Status)), nil
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.scheduler.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("no tasks"), nil
	}
	result := fmt.Sprintf("%d task(s):\n\n", len(tasks))
	for _, t := range tasks {
		result += fmt.Sprintf("#%d [%s] %s (%s x%d)\n", t.ID, t.Status, t.Name, t.GPUType, t.GPUCount)
	}
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := int64(mcp.ParseFloat64(request, "task_id", 0))
	task, err := s.scheduler.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result := fmt.Sprintf("task %d\nname: %s\nstatus: %s\ngpu_type: %s\ngpu_count: %d\nassigned_gpus: %v\ncreated_at: %s\n",
		task.ID, task.Name, task.Status, task.GPUType, task.GPUCount, task.AssignedGPUs, formatTime(&task.CreatedAt))
	if task.ExitCode != nil {
		result += fmt.Sprintf("exit_code: %d\n", *task.ExitCode)
	}
	if task.Error != "" {
		result += fmt.Sprintf("error: %s\n", task.Error)
	}
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleTaskLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := int64(mcp.ParseFloat64(request, "task_id", 0))
	tail := int(mcp.ParseFloat64(request, "tail", 100))
	lines, truncated, err := s.scheduler.Logs(ctx, id, tail)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result := ""
	for _, line := range lines {
		result += line + "\n"
	}
	if truncated {
		result += "(truncated)\n"
	}
	if result == "" {
		result = "(no log output yet)"
	}
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleCancelTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := int64(mcp.ParseFloat64(request, "task_id", 0))
	task, err := s.scheduler.Cancel(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("task %d cancelled", task.ID)), nil
}

func (s *Server) handleGPUStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	views, err := s.scheduler.GPUStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(views) == 0 {
		return mcp.NewToolResultText("no GPUs reported"), nil
	}
	result := ""
	for _, v := range views {
		state := "free"
		if !v.IsFree {
			state = fmt.Sprintf("held by task %d", *v.AssignedTaskID)
		}
		result += fmt.Sprintf("[%d] %s (%s): %s\n", v.Index, v.ModelName, v.UUID, state)
	}
	return mcp.NewToolResultText(result), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
