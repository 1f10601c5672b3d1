package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gpusched/gpusched/internal/core"
	"github.com/gpusched/gpusched/internal/notify"
	"github.com/gpusched/gpusched/internal/probe"
	"github.com/gpusched/gpusched/internal/session"
	"github.com/gpusched/gpusched/internal/store"
	"github.com/gpusched/gpusched/internal/worktree"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.DB.Close() })

	fakeProbe := probe.NewFakeProbe(core.GPURecord{Index: 0, UUID: "GPU-0", ModelName: "A100"})
	runner := session.NewFakeRunner()
	wt := worktree.New(t.TempDir(), "")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sched := core.NewScheduler(s, fakeProbe, runner, wt, &notify.NoOpNotifier{}, logger, core.Config{})
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	t.Cleanup(sched.Stop)

	return NewServer("127.0.0.1:0", sched, logger)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleCreateAndGetTask(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(createTaskRequest{
		Name: "train", GPUType: "A100", GPUCount: 1, Command: "echo hi",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var created taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != "queued" {
		t.Errorf("status = %q, want queued", created.Status)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/tasks/1", nil)
	getRec := httptest.NewRecorder()
	s.router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d", getRec.Code)
	}
}

func TestHandleCreateTaskRejectsUnknownGPUType(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(createTaskRequest{Name: "x", GPUType: "H100", GPUCount: 1, Command: "true"})
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleGetTaskNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/tasks/999", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleCancelTwiceIsConflict(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(createTaskRequest{Name: "x", GPUType: "A100", GPUCount: 1, Command: "true"})
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	var created taskResponse
	json.Unmarshal(rec.Body.Bytes(), &created)

	cancelReq := httptest.NewRequest(http.MethodPost, "/api/tasks/1/cancel", nil)
	cancelRec := httptest.NewRecorder()
	s.router.ServeHTTP(cancelRec, cancelReq)
	if cancelRec.Code != http.StatusOK {
		t.Fatalf("first cancel status = %d", cancelRec.Code)
	}

	cancelReq2 := httptest.NewRequest(http.MethodPost, "/api/tasks/1/cancel", nil)
	cancelRec2 := httptest.NewRecorder()
	s.router.ServeHTTP(cancelRec2, cancelReq2)
	if cancelRec2.Code != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want 409", cancelRec2.Code)
	}
}
