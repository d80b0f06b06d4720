package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInvokePassesMessageOnStdin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skip on windows: relies on cat")
	}
	// cat echoes stdin back, standing in for the agent command.
	c := NewCLI(Config{Command: "cat", Timeout: 5 * time.Second, Logger: testLogger()})

	out, err := c.Invoke(context.Background(), "analyze this", InvokeOptions{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "analyze this" {
		t.Errorf("output = %q, want the stdin message", out)
	}
}

func TestInvokeCapturesStderrInError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skip on windows: relies on sh")
	}
	c := NewCLI(Config{
		Command: "sh",
		Args:    []string{"-c", "echo model unavailable >&2; exit 3"},
		Timeout: 5 * time.Second,
		Logger:  testLogger(),
	})

	_, err := c.Invoke(context.Background(), "hello", InvokeOptions{})
	if err == nil {
		t.Fatal("expected error for failing command")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Errorf("error %q does not carry stderr detail", err)
	}
}

func TestInvokeEmptyOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skip on windows: relies on true")
	}
	c := NewCLI(Config{Command: "true", Timeout: 5 * time.Second, Logger: testLogger()})

	_, err := c.Invoke(context.Background(), "hello", InvokeOptions{})
	if !errors.Is(err, ErrEmptyOutput) {
		t.Errorf("err = %v, want ErrEmptyOutput", err)
	}
}

func TestInvokeTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skip on windows: relies on sleep")
	}
	c := NewCLI(Config{Command: "sleep", Args: []string{"10"}, Timeout: 100 * time.Millisecond, Logger: testLogger()})

	start := time.Now()
	_, err := c.Invoke(context.Background(), "", InvokeOptions{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error %q is not a timeout error", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout did not interrupt the command")
	}
}

func TestLastLines(t *testing.T) {
	got := lastLines("a\n\nb\nc\nd\ne\nf\n", 3)
	if got != "d | e | f" {
		t.Errorf("lastLines = %q", got)
	}
	if lastLines("", 3) != "" {
		t.Error("lastLines of empty input should be empty")
	}
}
