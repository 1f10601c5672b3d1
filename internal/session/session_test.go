package session

import (
	"context"
	"testing"
)

func TestFakeRunnerLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewFakeRunner()

	if r.Exists(ctx, "task_1") {
		t.Fatal("expected no session before Start")
	}
	if err := r.Start(ctx, "task_1", "/tmp/run.sh"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !r.Exists(ctx, "task_1") {
		t.Fatal("expected session to exist after Start")
	}
	if err := r.Start(ctx, "task_1", "/tmp/run.sh"); err == nil {
		t.Fatal("expected error starting a duplicate session")
	}
	if err := r.Kill(ctx, "task_1"); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if r.Exists(ctx, "task_1") {
		t.Fatal("expected session gone after Kill")
	}
	if err := r.Kill(ctx, "task_1"); err == nil {
		t.Fatal("expected error killing a session that does not exist")
	}
}

func TestFakeRunnerVanish(t *testing.T) {
	ctx := context.Background()
	r := NewFakeRunner()
	if err := r.Start(ctx, "task_2", "/tmp/run.sh"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Vanish("task_2")
	if r.Exists(ctx, "task_2") {
		t.Fatal("expected session gone after Vanish")
	}
}

func TestSessionName(t *testing.T) {
	if got := SessionName(42); got != "task_42" {
		t.Errorf("SessionName(42) = %q, want task_42", got)
	}
}
