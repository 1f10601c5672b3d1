package session

import (
	"context"
	"fmt"
	"sync"
)

// FakeRunner is a map-backed Runner for deterministic tests. Tests flip
// liveness directly via Kill, or via Vanish to simulate a session ending on
// its own between ticks.
type FakeRunner struct {
	mu       sync.Mutex
	sessions map[string]bool
	killed   map[string]bool
	// StartErr, when set, is returned by Start instead of creating a
	// session (used to simulate a launch failure).
	StartErr error
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{sessions: make(map[string]bool), killed: make(map[string]bool)}
}

// Start implements Runner.
func (f *FakeRunner) Start(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	if f.sessions[name] {
		return fmt.Errorf("session: %q already exists", name)
	}
	f.sessions[name] = true
	return nil
}

// Exists implements Runner.
func (f *FakeRunner) Exists(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[name]
}

// Kill implements Runner.
func (f *FakeRunner) Kill(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sessions[name] {
		return fmt.Errorf("session: %q not found", name)
	}
	delete(f.sessions, name)
	f.killed[name] = true
	return nil
}

// Vanish simulates the session process exiting on its own, without a
// caller invoking Kill (the tmux session ends when its command exits).
func (f *FakeRunner) Vanish(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, name)
}

// WasKilled reports whether Kill was ever called for name, as opposed to
// the session vanishing on its own.
func (f *FakeRunner) WasKilled(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed[name]
}
