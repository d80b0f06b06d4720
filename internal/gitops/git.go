// Package gitops оборачивает внешний git для шагов commit/resolve/push.
//
// Все операции выполняются через exec и при неудаче возвращают
// *CommandError — структурированную запись с кодом выхода и stderr.
// Шаги прикладывают её к span/payload вместо того, чтобы падать.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandError — структурированная ошибка внешней команды.
//
// Поля зеркалируются в meta (см. Meta), чтобы итог неудавшейся
// операции попадал в span и в payload resolve-шага как данные.
type CommandError struct {
	// Message — краткое описание того, что не удалось.
	Message string

	// ExitCode — код выхода процесса, -1 если процесс не запустился.
	ExitCode int

	// Stderr — укороченный stderr команды.
	Stderr string

	// Command — командная строка без аргументов-значений.
	Command string
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Message, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s (exit %d)", e.Message, e.ExitCode)
}

// Meta возвращает представление ошибки для span/payload.
func (e *CommandError) Meta() map[string]any {
	return map[string]any{
		"message":  e.Message,
		"exitCode": e.ExitCode,
		"stderr":   e.Stderr,
		"command":  e.Command,
	}
}

// Git — операции над рабочей копией, которые нужны конвейеру.
// Каждая операция привязана к каталогу рабочей копии (worktree задачи).
type Git interface {
	// HasChanges сообщает, есть ли незакоммиченные изменения.
	HasChanges(ctx context.Context, dir string) (bool, error)

	// StageAll добавляет в индекс все изменения.
	StageAll(ctx context.Context, dir string) error

	// Commit создаёт коммит и возвращает его хеш.
	Commit(ctx context.Context, dir, message string) (string, error)

	// RecentLog возвращает до n последних коммитов, новые первыми.
	RecentLog(ctx context.Context, dir string, n int) ([]string, error)

	// CurrentBranch возвращает имя текущей ветки.
	CurrentBranch(ctx context.Context, dir string) (string, error)

	// Merge вливает ветку branch в текущую.
	Merge(ctx context.Context, dir, branch string) error

	// Push отправляет ветку branch на удалённый remote.
	Push(ctx context.Context, dir, remote, branch string) error
}

// ExecGit — реализация Git поверх системного git.
type ExecGit struct{}

// NewExecGit создаёт exec-реализацию Git.
func NewExecGit() *ExecGit {
	return &ExecGit{}
}

func (g *ExecGit) HasChanges(ctx context.Context, dir string) (bool, error) {
	out, err := g.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (g *ExecGit) StageAll(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, "add", "-A")
	return err
}

func (g *ExecGit) Commit(ctx context.Context, dir, message string) (string, error) {
	if _, err := g.run(ctx, dir, "commit", "-m", message); err != nil {
		return "", err
	}
	return g.run(ctx, dir, "rev-parse", "HEAD")
}

func (g *ExecGit) RecentLog(ctx context.Context, dir string, n int) ([]string, error) {
	if n <= 0 {
		n = 5
	}
	out, err := g.run(ctx, dir, "log", "--oneline", "-n", strconv.Itoa(n))
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (g *ExecGit) CurrentBranch(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

func (g *ExecGit) Merge(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "merge", "--no-edit", branch)
	return err
}

func (g *ExecGit) Push(ctx context.Context, dir, remote, branch string) error {
	_, err := g.run(ctx, dir, "push", remote, branch)
	return err
}

// run выполняет git с аргументами и возвращает stdout без обрамляющих
// пробелов. Любая неудача сворачивается в *CommandError.
func (g *ExecGit) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return "", &CommandError{
			Message:  "git " + args[0] + " failed",
			ExitCode: exitCode,
			Stderr:   truncate(detail, 2000),
			Command:  "git " + strings.Join(args, " "),
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
