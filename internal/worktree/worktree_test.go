package worktree

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMaterializeWritesScriptsAndLog(t *testing.T) {
	root := t.TempDir()
	wt := New(root, "")

	if err := wt.Materialize(1, "echo hello"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	commandData, err := os.ReadFile(wt.CommandScriptPath(1))
	if err != nil {
		t.Fatalf("read command.sh: %v", err)
	}
	if !strings.Contains(string(commandData), "echo hello") {
		t.Errorf("command.sh missing verbatim user command: %s", commandData)
	}
	if !strings.Contains(string(commandData), "command starting") {
		t.Errorf("command.sh missing start banner")
	}
	if !strings.Contains(string(commandData), "command finished") {
		t.Errorf("command.sh missing exit banner")
	}

	runData, err := os.ReadFile(wt.RunScriptPath(1))
	if err != nil {
		t.Fatalf("read run.sh: %v", err)
	}
	if !strings.Contains(string(runData), "tee -a") {
		t.Errorf("run.sh missing tee pipeline")
	}
	if !strings.Contains(string(runData), "PIPESTATUS[0]") {
		t.Errorf("run.sh must capture the command's exit code, not tee's")
	}

	if _, err := os.Stat(wt.LogPath(1)); err != nil {
		t.Errorf("expected log file to be created: %v", err)
	}

	info, err := os.Stat(wt.CommandScriptPath(1))
	if err != nil {
		t.Fatalf("stat command.sh: %v", err)
	}
	if info.Mode()&0o100 == 0 {
		t.Errorf("command.sh should be executable, mode=%v", info.Mode())
	}
}

func TestMaterializeIncludesShellInit(t *testing.T) {
	root := t.TempDir()
	initPath := filepath.Join(root, "init.sh")
	wt := New(root, initPath)

	if err := wt.Materialize(2, "true"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	commandData, err := os.ReadFile(wt.CommandScriptPath(2))
	if err != nil {
		t.Fatalf("read command.sh: %v", err)
	}
	if !strings.Contains(string(commandData), initPath) {
		t.Errorf("expected command.sh to source shell init %q", initPath)
	}
}

func TestReadExitCode(t *testing.T) {
	root := t.TempDir()
	wt := New(root, "")
	if err := os.MkdirAll(wt.TaskDir(3), 0o750); err != nil {
		t.Fatal(err)
	}

	if _, ok := wt.ReadExitCode(3); ok {
		t.Fatal("expected ok=false when exit_code file is absent")
	}

	if err := os.WriteFile(wt.ExitCodePath(3), []byte("0\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	code, ok := wt.ReadExitCode(3)
	if !ok || code != 0 {
		t.Fatalf("ReadExitCode = %d, %v, want 0, true", code, ok)
	}

	if err := os.WriteFile(wt.ExitCodePath(3), []byte("not-a-number\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	if _, ok := wt.ReadExitCode(3); ok {
		t.Fatal("expected ok=false for unparseable exit code")
	}

	if err := os.WriteFile(wt.ExitCodePath(3), []byte("3\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	code, ok = wt.ReadExitCode(3)
	if !ok || code != 3 {
		t.Fatalf("ReadExitCode = %d, %v, want 3, true", code, ok)
	}
}
