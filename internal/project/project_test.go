package project

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func writeTaskFile(t *testing.T, root, id, content string) {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "task.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write task.json: %v", err)
	}
}

func TestFSGetTask(t *testing.T) {
	root := t.TempDir()
	writeTaskFile(t, root, "task-1", `{
		"status": "IN_PROGRESS",
		"title": "fix the bug",
		"description": "see issue #42",
		"worktree_path": "/tmp/wt/task-1",
		"branch_name": "autopilot/task-1"
	}`)

	p := NewFS(root)
	task, err := p.GetTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	// ID falls back to the directory name when the file omits it.
	if task.ID != "task-1" {
		t.Errorf("id = %q", task.ID)
	}
	if task.Status != TaskStatusInProgress {
		t.Errorf("status = %q", task.Status)
	}
	if task.BranchName != "autopilot/task-1" {
		t.Errorf("branch = %q", task.BranchName)
	}
	want := filepath.Join(root, "task-1", "iterations")
	if got := task.IterationsPath(); got != want {
		t.Errorf("iterations path = %q, want %q", got, want)
	}
}

func TestFSGetTaskNotFound(t *testing.T) {
	p := NewFS(t.TempDir())
	_, err := p.GetTask(context.Background(), "missing")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
	_, err = p.GetTask(context.Background(), "")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err for empty id = %v, want ErrTaskNotFound", err)
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	if TaskStatusNew.IsTerminal() || TaskStatusInProgress.IsTerminal() {
		t.Error("NEW/IN_PROGRESS must not be terminal")
	}
	if !TaskStatusCompleted.IsTerminal() || !TaskStatusFailed.IsTerminal() {
		t.Error("COMPLETED/FAILED must be terminal")
	}
}

func TestReadIterationSummaries(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"001.md":     "set up the harness",
		"002.md":     "fixed the parser\n",
		"notes.txt":  "ignored",
		"003.md":     "   ",
		"zzz-sub.md": "last one",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	got := ReadIterationSummaries(dir)
	want := []string{"set up the harness", "fixed the parser", "last one"}
	if len(got) != len(want) {
		t.Fatalf("summaries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("summary[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if ReadIterationSummaries("") != nil {
		t.Error("empty dir should yield nil")
	}
	if ReadIterationSummaries(filepath.Join(dir, "nope")) != nil {
		t.Error("missing dir should yield nil")
	}
}

func TestExecLauncher(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skip on windows: relies on sh")
	}
	l := NewExecLauncher(LauncherConfig{
		Command: "sh",
		Args:    []string{"-c", `echo '{"id":"task-9","branch":"autopilot/task-9"}'`},
		Timeout: 5 * time.Second,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	task, err := l.Launch(context.Background(), TaskSpec{Title: "do it", Workflow: "swe"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if task.ID != "task-9" {
		t.Errorf("task id = %q", task.ID)
	}
	if task.BranchName != "autopilot/task-9" {
		t.Errorf("branch = %q", task.BranchName)
	}
	if task.Status != TaskStatusNew {
		t.Errorf("status = %q, want NEW", task.Status)
	}
}

func TestExecLauncherBadReply(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skip on windows: relies on sh")
	}
	l := NewExecLauncher(LauncherConfig{
		Command: "sh",
		Args:    []string{"-c", "echo not json"},
		Timeout: 5 * time.Second,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if _, err := l.Launch(context.Background(), TaskSpec{Title: "x"}); err == nil {
		t.Fatal("expected parse error")
	}

	l = NewExecLauncher(LauncherConfig{
		Command: "sh",
		Args:    []string{"-c", `echo '{"branch":"b"}'`},
		Timeout: 5 * time.Second,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if _, err := l.Launch(context.Background(), TaskSpec{Title: "x"}); err == nil {
		t.Fatal("expected missing-id error")
	}
}
