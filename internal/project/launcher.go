package project

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const defaultLaunchTimeout = 2 * time.Minute

// TaskSpec — описание задачи, передаваемое инструменту при запуске.
type TaskSpec struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Workflow    string `json:"workflow"`
}

// Launcher — способность запустить задачу во внешнем инструменте.
type Launcher interface {
	Launch(ctx context.Context, spec TaskSpec) (*Task, error)
}

// LauncherConfig — настройки exec-лаунчера.
type LauncherConfig struct {
	// Command — исполняемый файл инструмента.
	Command string

	// Args — базовые аргументы команды запуска задачи.
	Args []string

	// Workspace — рабочая директория процесса.
	Workspace string

	// Timeout — предел на запуск. По умолчанию 2 минуты.
	Timeout time.Duration

	Logger *slog.Logger
}

// ExecLauncher — лаунчер, shell'ящийся в настроенный инструмент.
//
// Спецификация задачи уходит JSON'ом на stdin; инструмент обязан
// ответить JSON-объектом {"id": ..., "branch": ...} на stdout.
type ExecLauncher struct {
	command   string
	args      []string
	workspace string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewExecLauncher создаёт exec-лаунчер с дефолтами.
func NewExecLauncher(cfg LauncherConfig) *ExecLauncher {
	if cfg.Command == "" {
		cfg.Command = "rover"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLaunchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ExecLauncher{
		command:   cfg.Command,
		args:      cfg.Args,
		workspace: cfg.Workspace,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}
}

func (l *ExecLauncher) Launch(ctx context.Context, spec TaskSpec) (*Task, error) {
	payload, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode task spec: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, l.command, l.args...)
	cmd.Stdin = bytes.NewReader(payload)
	if l.workspace != "" {
		cmd.Dir = l.workspace
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l.logger.Debug("launching task", "title", spec.Title, "workflow", spec.Workflow)
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("launch task: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("launch task: %w", err)
	}

	var reply struct {
		ID     string `json:"id"`
		Branch string `json:"branch"`
	}
	out := strings.TrimSpace(stdout.String())
	if err := json.Unmarshal([]byte(out), &reply); err != nil {
		return nil, fmt.Errorf("parse launch reply: %w", err)
	}
	if reply.ID == "" {
		return nil, fmt.Errorf("launch reply carries no task id")
	}

	l.logger.Info("task launched", "task_id", reply.ID, "branch", reply.Branch)
	return &Task{
		ID:          reply.ID,
		Status:      TaskStatusNew,
		Title:       spec.Title,
		Description: spec.Description,
		BranchName:  reply.Branch,
	}, nil
}
