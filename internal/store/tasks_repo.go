package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gpusched/gpusched/internal/core"
)

// ErrTaskNotFound is returned by Get when no task has the given id.
var ErrTaskNotFound = errors.New("task not found")

// Insert assigns task.ID from the table's monotonic primary key and writes
// the queued task row.
func (s *Store) Insert(ctx context.Context, task *core.Task) error {
	task.CreatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (name, gpu_type, gpu_count, command, status, created_at, assigned_gpus, session_name, error, log_path)
		VALUES (?, ?, ?, ?, ?, ?, '', '', '', '')
	`, task.Name, task.GPUType, task.GPUCount, task.Command, string(task.Status), task.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read inserted task id: %w", err)
	}
	task.ID = id
	return nil
}

// Update applies a patch to task id. Only the fields present in patch are
// written, in a single statement, so a partial patch never touches fields
// no caller requested.
func (s *Store) Update(ctx context.Context, id int64, patch core.TaskPatch) error {
	sets := make([]string, 0, 7)
	args := make([]any, 0, 8)

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, nullableTime(*patch.StartedAt))
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, nullableTime(*patch.CompletedAt))
	}
	if patch.AssignedGPUs != nil {
		sets = append(sets, "assigned_gpus = ?")
		args = append(args, encodeAssignedGPUs(*patch.AssignedGPUs))
	}
	if patch.SessionName != nil {
		sets = append(sets, "session_name = ?")
		args = append(args, *patch.SessionName)
	}
	if patch.ExitCode != nil {
		sets = append(sets, "exit_code = ?")
		args = append(args, nullableInt(*patch.ExitCode))
	}
	if patch.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *patch.Error)
	}
	if patch.LogPath != nil {
		sets = append(sets, "log_path = ?")
		args = append(args, *patch.LogPath)
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = ?", strings.Join(sets, ", "))
	args = append(args, id)
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %d rows affected: %w", id, err)
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Get returns the task with the given id, or ErrTaskNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListAllDescByCreation returns every task, newest first.
func (s *Store) ListAllDescByCreation(ctx context.Context) ([]*core.Task, error) {
	rows, err := s.DB.QueryContext(ctx, taskSelectColumns+` FROM tasks ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListByStatus returns every task with the given status, in submission
// order (ascending id). Startup reconciliation relies on this order to
// re-push the queue as FIFO.
func (s *Store) ListByStatus(ctx context.Context, status core.TaskStatus) ([]*core.Task, error) {
	rows, err := s.DB.QueryContext(ctx, taskSelectColumns+` FROM tasks WHERE status = ? ORDER BY id ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// LoadRunning returns every task the store believes is running, oldest
// first. Called once at startup to drive session adoption.
func (s *Store) LoadRunning(ctx context.Context) ([]*core.Task, error) {
	return s.ListByStatus(ctx, core.TaskStatusRunning)
}

const taskSelectColumns = `
	SELECT id, name, gpu_type, gpu_count, command, status, created_at, started_at,
	       completed_at, assigned_gpus, session_name, exit_code, error, log_path
`

func scanTasks(rows *sql.Rows) ([]*core.Task, error) {
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.Task, error) {
	var (
		id           int64
		name         string
		gpuType      string
		gpuCount     int
		command      string
		status       string
		createdAt    string
		startedAt    sql.NullString
		completedAt  sql.NullString
		assignedGPUs string
		sessionName  string
		exitCode     sql.NullInt64
		errMsg       string
		logPath      string
	)
	if err := scanner.Scan(&id, &name, &gpuType, &gpuCount, &command, &status, &createdAt, &startedAt,
		&completedAt, &assignedGPUs, &sessionName, &exitCode, &errMsg, &logPath); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task := &core.Task{
		ID:          id,
		Name:        name,
		GPUType:     gpuType,
		GPUCount:    gpuCount,
		Command:     command,
		Status:      core.TaskStatus(status),
		SessionName: sessionName,
		Error:       errMsg,
		LogPath:     logPath,
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		task.CreatedAt = t
	}
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
			task.StartedAt = &t
		}
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			task.CompletedAt = &t
		}
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		task.ExitCode = &v
	}
	gpus, err := decodeAssignedGPUs(assignedGPUs)
	if err != nil {
		return nil, fmt.Errorf("decode assigned_gpus for task %d: %w", id, err)
	}
	task.AssignedGPUs = gpus
	return task, nil
}

// encodeAssignedGPUs serializes assigned GPU indices as a compact
// comma-joined string.
func encodeAssignedGPUs(indices []int) string {
	if len(indices) == 0 {
		return ""
	}
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ",")
}

func decodeAssignedGPUs(value string) ([]int, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	indices := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		indices = append(indices, v)
	}
	return indices, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
