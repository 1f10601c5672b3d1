package core

import "time"

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether status is one no further transition leaves.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task represents one submitted GPU job, from submission through its
// terminal state. Task ids are assigned by the store and increase strictly
// with submission order.
type Task struct {
	ID           int64
	Name         string
	GPUType      string
	GPUCount     int
	Command      string
	Status       TaskStatus
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	AssignedGPUs []int
	SessionName  string
	ExitCode     *int
	Error        string
	LogPath      string
}

// GPURecord is one row of a GPU inventory snapshot. Optional fields are nil
// when the probe could not read them for that GPU.
type GPURecord struct {
	Index          int
	UUID           string
	ModelName      string
	MemoryTotalMiB *int
	MemoryUsedMiB  *int
	UtilizationPct *int
}

// GPUView augments a GPURecord with the scheduler's occupancy view of it.
type GPUView struct {
	GPURecord
	AssignedTaskID *int64
	IsFree         bool
}

// TaskPatch describes a partial update to a Task; nil fields are left
// untouched by Store.Update. Pointer-to-pointer fields distinguish "leave
// unchanged" (outer nil) from "clear to zero value" (outer set, inner nil).
type TaskPatch struct {
	Status       *TaskStatus
	StartedAt    **time.Time
	CompletedAt  **time.Time
	AssignedGPUs *[]int
	SessionName  *string
	ExitCode     **int
	Error        *string
	LogPath      *string
}
