// Package agent предоставляет доступ к reasoning-инструменту —
// внешней CLI-команде агента, которой шаги задают вопросы.
//
// Invoker — единственная точка, через которую движок общается с
// агентом. Шаги формируют промпт и набор разрешённых инструментов,
// а транспорт (команда, таймаут) настраивается один раз при сборке.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrEmptyOutput возвращается, когда команда агента завершилась
// успешно, но ничего не напечатала.
var ErrEmptyOutput = errors.New("agent returned empty output")

const defaultTimeout = 5 * time.Minute

// InvokeOptions — параметры одного обращения к агенту.
type InvokeOptions struct {
	// SystemPrompt — дополнение к системному промпту агента.
	SystemPrompt string

	// CWD — рабочая директория процесса агента. Пусто — директория
	// движка.
	CWD string

	// Tools — список инструментов, разрешённых агенту в этом вызове.
	// Пустой список — ограничения по умолчанию самой команды.
	Tools []string

	// JSON — просить агент отвечать строго JSON-объектом.
	JSON bool
}

// Invoker — способность задать агенту вопрос и получить текст ответа.
type Invoker interface {
	Invoke(ctx context.Context, message string, opts InvokeOptions) (string, error)
}

// Config — настройки CLI-инвокера.
type Config struct {
	// Command — исполняемый файл агента.
	Command string

	// Args — базовые аргументы, добавляемые перед опциями вызова.
	Args []string

	// Timeout — предел на один вызов. По умолчанию 5 минут.
	Timeout time.Duration

	Logger *slog.Logger
}

// CLI — инвокер, запускающий агент как внешний процесс.
//
// Сообщение передаётся через stdin, ответ читается из stdout. stderr
// не смешивается с ответом: при ошибке его хвост попадает в текст
// ошибки.
type CLI struct {
	command string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCLI создаёт CLI-инвокер с заполнением значений по умолчанию.
func NewCLI(cfg Config) *CLI {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		command: cfg.Command,
		args:    cfg.Args,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Invoke выполняет один вызов агента и возвращает stdout без
// обрамляющих пробелов.
func (c *CLI) Invoke(ctx context.Context, message string, opts InvokeOptions) (string, error) {
	args := append([]string{}, c.args...)
	if opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}
	if len(opts.Tools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(opts.Tools, ","))
	}
	if opts.JSON {
		args = append(args, "--output-format", "json")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.command, args...)
	cmd.Stdin = strings.NewReader(message)
	if opts.CWD != "" {
		cmd.Dir = opts.CWD
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug("invoking agent",
		"command", c.command,
		"cwd", opts.CWD,
		"tools", len(opts.Tools),
		"json", opts.JSON,
	)
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("agent command timed out after %s", c.timeout)
	}
	if err != nil {
		detail := lastLines(stderr.String(), 5)
		if detail == "" {
			detail = lastLines(stdout.String(), 5)
		}
		if detail != "" {
			return "", fmt.Errorf("agent command failed: %w: %s", err, detail)
		}
		return "", fmt.Errorf("agent command failed: %w", err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", ErrEmptyOutput
	}
	c.logger.Debug("agent responded", "elapsed", elapsed, "bytes", len(out))
	return out, nil
}

// lastLines возвращает до n последних непустых строк текста одной
// строкой.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		kept = append([]string{line}, kept...)
	}
	return strings.Join(kept, " | ")
}
