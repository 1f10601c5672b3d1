package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gpusched/gpusched/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.DB.Close() })
	return s
}

func TestInsertAssignsIncreasingIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t1 := &core.Task{Name: "t1", GPUType: "A100", GPUCount: 1, Command: "true", Status: core.TaskStatusQueued}
	t2 := &core.Task{Name: "t2", GPUType: "A100", GPUCount: 1, Command: "true", Status: core.TaskStatusQueued}
	if err := s.Insert(ctx, t1); err != nil {
		t.Fatalf("insert t1: %v", err)
	}
	if err := s.Insert(ctx, t2); err != nil {
		t.Fatalf("insert t2: %v", err)
	}
	if t2.ID <= t1.ID {
		t.Errorf("t2.ID=%d should be greater than t1.ID=%d", t2.ID, t1.ID)
	}
}

func TestUpdatePatchLeavesUntouchedFieldsAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &core.Task{Name: "t1", GPUType: "A100", GPUCount: 2, Command: "true", Status: core.TaskStatusQueued}
	if err := s.Insert(ctx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}

	running := core.TaskStatusRunning
	gpus := []int{0, 1}
	session := "task_1"
	if err := s.Update(ctx, task.ID, core.TaskPatch{
		Status:       &running,
		AssignedGPUs: &gpus,
		SessionName:  &session,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != core.TaskStatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
	if got.Name != "t1" {
		t.Errorf("name = %q, want unchanged %q", got.Name, "t1")
	}
	if got.GPUCount != 2 {
		t.Errorf("gpu_count = %d, want unchanged 2", got.GPUCount)
	}
	if len(got.AssignedGPUs) != 2 || got.AssignedGPUs[0] != 0 || got.AssignedGPUs[1] != 1 {
		t.Errorf("assigned_gpus = %v, want [0 1]", got.AssignedGPUs)
	}
}

func TestGetMissingReturnsErrTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), 999); err != ErrTaskNotFound {
		t.Errorf("Get(999) err = %v, want ErrTaskNotFound", err)
	}
}

func TestListByStatusOrdersBySubmission(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		task := &core.Task{Name: "t", GPUType: "A100", GPUCount: 1, Command: "true", Status: core.TaskStatusQueued}
		if err := s.Insert(ctx, task); err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, task.ID)
	}

	got, err := s.ListByStatus(ctx, core.TaskStatusQueued)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d tasks, want 3", len(got))
	}
	for i, task := range got {
		if task.ID != ids[i] {
			t.Errorf("position %d: id = %d, want %d (submission order)", i, task.ID, ids[i])
		}
	}
}

func TestAssignedGPUsRoundTripsThroughEmptyAndPopulated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &core.Task{Name: "t1", GPUType: "A100", GPUCount: 3, Command: "true", Status: core.TaskStatusQueued}
	if err := s.Insert(ctx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.AssignedGPUs) != 0 {
		t.Errorf("assigned_gpus = %v, want empty before launch", got.AssignedGPUs)
	}

	gpus := []int{2, 5, 7}
	if err := s.Update(ctx, task.ID, core.TaskPatch{AssignedGPUs: &gpus}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = s.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.AssignedGPUs) != 3 || got.AssignedGPUs[2] != 7 {
		t.Errorf("assigned_gpus = %v, want [2 5 7]", got.AssignedGPUs)
	}
}
