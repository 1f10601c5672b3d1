package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gpusched/gpusched/internal/notify"
	"github.com/gpusched/gpusched/internal/worktree"
)

// Store abstracts the durable task table used by the scheduler. Declared
// here, not in internal/store, so internal/store can depend on core's types
// without an import cycle back into core.
type Store interface {
	Insert(ctx context.Context, task *Task) error
	Update(ctx context.Context, id int64, patch TaskPatch) error
	Get(ctx context.Context, id int64) (*Task, error)
	ListAllDescByCreation(ctx context.Context) ([]*Task, error)
	ListByStatus(ctx context.Context, status TaskStatus) ([]*Task, error)
	LoadRunning(ctx context.Context) ([]*Task, error)
}

// GPUProbe abstracts GPU inventory acquisition. Declared here for the same
// reason as Store: internal/probe's concrete types return core.GPURecord
// and would otherwise need to import core, so the interface lives here.
type GPUProbe interface {
	Snapshot(ctx context.Context) ([]GPURecord, error)
}

// SessionRunner abstracts the terminal-multiplexer session lifecycle: the
// three primitives allowed and no others.
type SessionRunner interface {
	Start(ctx context.Context, name, scriptPath string) error
	Exists(ctx context.Context, name string) bool
	Kill(ctx context.Context, name string) error
}

// runningTask is the in-memory record for a task in the running-set; it
// carries only what the tick needs without a store round trip.
type runningTask struct {
	ID           int64
	GPUType      string
	GPUCount     int
	AssignedGPUs []int
	SessionName  string
}

// Scheduler owns the queue, the running-set, and the periodic tick. It is
// the sole mutator of in-memory scheduling state; every public method is
// safe for concurrent use.
type Scheduler struct {
	store    Store
	probe    GPUProbe
	runner   SessionRunner
	worktree *worktree.WorkTree
	notifier notify.Notifier
	logger   *slog.Logger

	pollInterval time.Duration
	maxLogTail   int

	stateLock sync.Mutex
	queue     []int64
	running   map[int64]*runningTask

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// Config bundles Scheduler's construction-time tunables.
type Config struct {
	PollInterval time.Duration
	MaxLogTail   int
}

// NewScheduler constructs a Scheduler. Call Start to run reconciliation and
// begin ticking; call Stop to shut it down. Both are meant to be called
// exactly once over the Scheduler's life.
func NewScheduler(store Store, probe GPUProbe, runner SessionRunner, wt *worktree.WorkTree, notifier notify.Notifier, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxLogTail <= 0 {
		cfg.MaxLogTail = 100
	}
	if notifier == nil {
		notifier = &notify.NoOpNotifier{}
	}
	return &Scheduler{
		store:        store,
		probe:        probe,
		runner:       runner,
		worktree:     wt,
		notifier:     notifier,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		maxLogTail:   cfg.MaxLogTail,
		running:      make(map[int64]*runningTask),
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
	}
}

// Start performs startup reconciliation and launches the background
// ticker. Submit/List/Get/Logs are safe to call before Start; launches only
// happen once the ticker is running.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.reconcileOnStartup(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	go s.loop(ctx)
	return nil
}

// Stop signals the tick loop to exit and waits for it to do so. Live
// sessions are left running; they are adopted on the next Start.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stoppedCh)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.schedulingTick(ctx)
		}
	}
}

// reconcileOnStartup adopts live sessions and fails orphaned ones for every
// task the store believes was running when the process last exited, then
// re-pushes queued tasks onto the in-memory queue in submission order.
func (s *Scheduler) reconcileOnStartup(ctx context.Context) error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	runningTasks, err := s.store.LoadRunning(ctx)
	if err != nil {
		return fmt.Errorf("load running tasks: %w", err)
	}
	for _, task := range runningTasks {
		if s.runner.Exists(ctx, task.SessionName) {
			s.running[task.ID] = &runningTask{
				ID:           task.ID,
				GPUType:      task.GPUType,
				GPUCount:     task.GPUCount,
				AssignedGPUs: task.AssignedGPUs,
				SessionName:  task.SessionName,
			}
			s.logger.Info("adopted running task", "task_id", task.ID, "session", task.SessionName)
			continue
		}
		s.finishOrphanedTask(ctx, task)
	}

	queued, err := s.store.ListByStatus(ctx, TaskStatusQueued)
	if err != nil {
		return fmt.Errorf("load queued tasks: %w", err)
	}
	for _, task := range queued {
		s.queue = append(s.queue, task.ID)
	}
	return nil
}

// finishOrphanedTask resolves a task the store believes was running but
// whose session no longer exists, as reconcile does at tick time, using
// whatever exit-code file the prior process left behind. The one difference
// is the error recorded when no exit code is readable: "session lost across
// restart".
func (s *Scheduler) finishOrphanedTask(ctx context.Context, task *Task) {
	code, ok := s.worktree.ReadExitCode(task.ID)
	now := time.Now().UTC()
	if !ok {
		s.completeTerminal(ctx, task.ID, TaskStatusFailed, nil, "session lost across restart", now)
		return
	}
	if code == 0 {
		s.completeTerminal(ctx, task.ID, TaskStatusCompleted, &code, "", now)
		return
	}
	s.completeTerminal(ctx, task.ID, TaskStatusFailed, &code, fmt.Sprintf("exit code %d", code), now)
}

// schedulingTick runs one iteration of snapshot, admission, and reconcile.
// The probe is called before stateLock is taken; admission (including the
// free-pool computation) and reconcile run under stateLock.
func (s *Scheduler) schedulingTick(ctx context.Context) {
	snapshot, err := s.probe.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("scheduling tick: probe unavailable, skipping tick", "err", err)
		return
	}

	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	s.admit(ctx, snapshot)
	s.reconcile(ctx)
}

// admit implements FIFO head-of-line-blocking admission: it repeatedly
// peeks the queue head and launches it only if enough unheld GPUs of its
// model are currently free, stopping at the first head it cannot satisfy so
// submission order is preserved and large requests are never starved by
// smaller ones behind them.
func (s *Scheduler) admit(ctx context.Context, snapshot []GPURecord) {
	free := s.computeFreePool(snapshot)
	for len(s.queue) > 0 {
		headID := s.queue[0]
		task, err := s.store.Get(ctx, headID)
		if err != nil {
			s.logger.Error("admit: load queue head", "task_id", headID, "err", err)
			s.queue = s.queue[1:]
			continue
		}
		pool := free[task.GPUType]
		if len(pool) < task.GPUCount {
			return
		}
		gpus := append([]int(nil), pool[:task.GPUCount]...)
		free[task.GPUType] = pool[task.GPUCount:]
		s.queue = s.queue[1:]

		if err := s.launch(ctx, task, gpus); err != nil {
			s.logger.Error("launch failed", "task_id", task.ID, "err", err)
			continue
		}
		s.running[task.ID] = &runningTask{
			ID:           task.ID,
			GPUType:      task.GPUType,
			GPUCount:     task.GPUCount,
			AssignedGPUs: gpus,
			SessionName:  task.SessionName,
		}
	}
}

// computeFreePool groups GPU indices not currently held by any running task
// by model name, preserving probe order within each model so admission
// consumes them in a stable, deterministic sequence rather than by index
// sort order.
func (s *Scheduler) computeFreePool(snapshot []GPURecord) map[string][]int {
	held := make(map[int]bool)
	for _, rt := range s.running {
		for _, idx := range rt.AssignedGPUs {
			held[idx] = true
		}
	}
	free := make(map[string][]int)
	for _, gpu := range snapshot {
		if held[gpu.Index] {
			continue
		}
		free[gpu.ModelName] = append(free[gpu.ModelName], gpu.Index)
	}
	return free
}

// reconcile checks every running task's session liveness and resolves
// terminal state for any whose session has ended.
func (s *Scheduler) reconcile(ctx context.Context) {
	for id, rt := range s.running {
		if s.runner.Exists(ctx, rt.SessionName) {
			continue
		}
		code, ok := s.worktree.ReadExitCode(id)
		now := time.Now().UTC()
		if !ok {
			s.completeTerminal(ctx, id, TaskStatusFailed, nil, "session ended without recording exit code", now)
			continue
		}
		if code == 0 {
			s.completeTerminal(ctx, id, TaskStatusCompleted, &code, "", now)
			continue
		}
		s.completeTerminal(ctx, id, TaskStatusFailed, &code, fmt.Sprintf("exit code %d", code), now)
	}
}

// completeTerminal persists a running task's terminal transition, removes
// it from the running-set, and fires a best-effort notification. Callers
// hold stateLock.
func (s *Scheduler) completeTerminal(ctx context.Context, id int64, status TaskStatus, exitCode *int, errMsg string, at time.Time) {
	released := []int{}
	patch := TaskPatch{
		Status:       &status,
		CompletedAt:  ptrToPtr(&at),
		AssignedGPUs: &released,
		Error:        &errMsg,
	}
	if exitCode != nil {
		patch.ExitCode = ptrToPtrInt(exitCode)
	}
	if err := s.store.Update(ctx, id, patch); err != nil {
		s.logger.Error("persist terminal transition", "task_id", id, "status", status, "err", err)
	}
	delete(s.running, id)
	s.notifyTerminal(ctx, id, fmt.Sprintf("Task %d %s", id, status), errMsg)
}

func (s *Scheduler) notifyTerminal(ctx context.Context, id int64, title, body string) {
	if err := s.notifier.Send(ctx, title, body); err != nil {
		s.logger.Warn("notify failed", "task_id", id, "err", err)
	}
}

func ptrToPtrInt(v *int) **int {
	return &v
}

// Submit validates and enqueues a new task. Validation checks gpu_count,
// that gpu_type names a GPU model the current probe snapshot reports (a
// failing probe rejects the submission outright), and that command is
// non-empty after trimming.
func (s *Scheduler) Submit(ctx context.Context, name, gpuType string, gpuCount int, command string) (*Task, error) {
	if gpuCount < 1 {
		return nil, newError(ErrKindValidation, "gpu_count must be at least 1")
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, newError(ErrKindValidation, "command must not be empty")
	}

	snapshot, err := s.probe.Snapshot(ctx)
	if err != nil {
		return nil, newError(ErrKindValidation, "GPU inventory unavailable")
	}
	found := false
	for _, gpu := range snapshot {
		if gpu.ModelName == gpuType {
			found = true
			break
		}
	}
	if !found {
		return nil, newError(ErrKindValidation, "gpu_type %q does not match any GPU currently reported by the probe", gpuType)
	}

	task := &Task{
		Name:     name,
		GPUType:  gpuType,
		GPUCount: gpuCount,
		Command:  command,
		Status:   TaskStatusQueued,
	}
	if err := s.store.Insert(ctx, task); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	s.stateLock.Lock()
	s.queue = append(s.queue, task.ID)
	s.stateLock.Unlock()

	return task, nil
}

// List returns every task, newest first.
func (s *Scheduler) List(ctx context.Context) ([]*Task, error) {
	return s.store.ListAllDescByCreation(ctx)
}

// Get returns a single task by id.
func (s *Scheduler) Get(ctx context.Context, id int64) (*Task, error) {
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, newError(ErrKindNotFound, "task %d not found", id)
	}
	return task, nil
}

// GPUStatus returns a view of every probed GPU augmented with the
// scheduler's occupancy, computed under stateLock so it is consistent with
// the running-set. On probe failure it returns an error rather than
// silently reporting an empty inventory.
func (s *Scheduler) GPUStatus(ctx context.Context) ([]GPUView, error) {
	snapshot, err := s.probe.Snapshot(ctx)
	if err != nil {
		return nil, newError(ErrKindProbeUnavailable, "GPU inventory unavailable: %v", err)
	}

	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	holder := make(map[int]int64)
	for id, rt := range s.running {
		for _, idx := range rt.AssignedGPUs {
			holder[idx] = id
		}
	}

	views := make([]GPUView, 0, len(snapshot))
	for _, gpu := range snapshot {
		view := GPUView{GPURecord: gpu, IsFree: true}
		if taskID, held := holder[gpu.Index]; held {
			id := taskID
			view.AssignedTaskID = &id
			view.IsFree = false
		}
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Index < views[j].Index })
	return views, nil
}

// Logs returns the final tail lines of a task's combined log file. A
// missing log_path or log file yields an empty, non-truncated result
// rather than an error.
func (s *Scheduler) Logs(ctx context.Context, id int64, tail int) ([]string, bool, error) {
	if tail <= 0 {
		tail = s.maxLogTail
	}
	if tail > s.maxLogTail {
		tail = s.maxLogTail
	}
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, newError(ErrKindNotFound, "task %d not found", id)
	}
	if task.LogPath == "" {
		return nil, false, nil
	}
	return tailFile(task.LogPath, tail)
}

// Cancel resolves a cancel request per the task's current status: a queued
// task is removed from the queue and cancelled outright; a running task's
// session is killed and its GPUs released; a terminal task cannot be
// cancelled again.
func (s *Scheduler) Cancel(ctx context.Context, id int64) (*Task, error) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, newError(ErrKindNotFound, "task %d not found", id)
	}

	switch task.Status {
	case TaskStatusQueued:
		s.removeFromQueue(id)
		return s.cancelTask(ctx, task, "cancelled before start")

	case TaskStatusRunning:
		sessionName := task.SessionName
		if rt, ok := s.running[id]; ok {
			sessionName = rt.SessionName
		}
		if err := s.runner.Kill(ctx, sessionName); err != nil {
			s.logger.Warn("cancel: kill session", "task_id", id, "session", sessionName, "err", err)
		}
		delete(s.running, id)
		return s.cancelTask(ctx, task, "cancelled by user")

	default:
		return nil, newError(ErrKindIllegalState, "task already terminal")
	}
}

func (s *Scheduler) removeFromQueue(id int64) {
	for i, qid := range s.queue {
		if qid == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) cancelTask(ctx context.Context, task *Task, reason string) (*Task, error) {
	now := time.Now().UTC()
	cancelled := TaskStatusCancelled
	released := []int{}
	patch := TaskPatch{
		Status:       &cancelled,
		CompletedAt:  ptrToPtr(&now),
		AssignedGPUs: &released,
		Error:        &reason,
	}
	if err := s.store.Update(ctx, task.ID, patch); err != nil {
		return nil, fmt.Errorf("persist cancellation: %w", err)
	}
	s.notifyTerminal(ctx, task.ID, fmt.Sprintf("Task %d cancelled", task.ID), reason)
	return s.store.Get(ctx, task.ID)
}
