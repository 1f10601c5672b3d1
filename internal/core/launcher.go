package core

import (
	"context"
	"fmt"
	"time"
)

// launch materializes the work tree for a queued task and starts its
// session. Ordering matters for the failure-recovery contract in §7: the
// store is updated to running *before* session.start is attempted, so a
// crash between the two leaves a task the next startup can adopt or fail
// cleanly; if session.start itself fails, the running update is reverted to
// failed and persisted before launch returns.
func (s *Scheduler) launch(ctx context.Context, task *Task, gpus []int) error {
	logPath := s.worktree.LogPath(task.ID)
	if err := s.worktree.Materialize(task.ID, task.Command); err != nil {
		return fmt.Errorf("materialize work tree: %w", err)
	}

	sessionName := SessionName(task.ID)
	now := time.Now().UTC()
	running := TaskStatusRunning
	patch := TaskPatch{
		Status:       &running,
		StartedAt:    ptrToPtr(&now),
		AssignedGPUs: &gpus,
		SessionName:  &sessionName,
		LogPath:      &logPath,
	}
	if err := s.store.Update(ctx, task.ID, patch); err != nil {
		return fmt.Errorf("persist launch: %w", err)
	}

	if err := s.runner.Start(ctx, sessionName, s.worktree.RunScriptPath(task.ID)); err != nil {
		s.revertFailedLaunch(ctx, task.ID, err)
		return fmt.Errorf("start session: %w", err)
	}

	task.Status = TaskStatusRunning
	task.StartedAt = &now
	task.AssignedGPUs = gpus
	task.SessionName = sessionName
	task.LogPath = logPath
	return nil
}

// revertFailedLaunch marks a task that failed to start its session as
// failed, releasing the GPUs it briefly held. It is best-effort: a store
// write failure here is logged, not propagated, since the caller has no
// further recovery action to take.
func (s *Scheduler) revertFailedLaunch(ctx context.Context, id int64, cause error) {
	now := time.Now().UTC()
	failed := TaskStatusFailed
	errMsg := fmt.Sprintf("launch failed: %v", cause)
	empty := []int{}
	emptySession := ""
	patch := TaskPatch{
		Status:       &failed,
		CompletedAt:  ptrToPtr(&now),
		AssignedGPUs: &empty,
		SessionName:  &emptySession,
		Error:        &errMsg,
	}
	if err := s.store.Update(ctx, id, patch); err != nil {
		s.logger.Error("revert failed launch", "task_id", id, "err", err)
	}
	s.notifyTerminal(ctx, id, "Task failed to launch", errMsg)
}

// SessionName returns the session name a task's runner session is created
// under. It mirrors internal/session.SessionName; kept local to avoid a
// package dependency for a one-line format.
func SessionName(id int64) string {
	return fmt.Sprintf("task_%d", id)
}

func ptrToPtr(t *time.Time) **time.Time {
	return &t
}
