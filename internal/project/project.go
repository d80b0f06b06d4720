// Package project даёт движку доступ к задачам внешнего инструмента.
//
// Движок не управляет жизненным циклом задачи: он её запускает
// (Launcher), а дальше только читает состояние (Project). Статус
// задачи меняет сам внешний инструмент.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrTaskNotFound возвращается, когда задача с данным id неизвестна.
var ErrTaskNotFound = errors.New("task not found")

// TaskStatus — статус задачи во внешнем инструменте.
type TaskStatus string

const (
	TaskStatusNew        TaskStatus = "NEW"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// IsTerminal возвращает true для завершённой (успешно или нет) задачи.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task — снимок состояния одной задачи.
type Task struct {
	ID           string     `json:"id"`
	Status       TaskStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	WorktreePath string     `json:"worktree_path,omitempty"`
	BranchName   string     `json:"branch_name,omitempty"`

	// dir — каталог задачи на диске. Заполняется загрузчиком.
	dir string
}

// IterationsPath возвращает каталог итераций задачи, пусто если задача
// не привязана к каталогу.
func (t *Task) IterationsPath() string {
	if t.dir == "" {
		return ""
	}
	return filepath.Join(t.dir, "iterations")
}

// Project — чтение состояния задач.
type Project interface {
	GetTask(ctx context.Context, id string) (*Task, error)
}

// FS — реализация Project поверх каталога задач: одна задача — один
// подкаталог с task.json.
type FS struct {
	root string
}

// NewFS создаёт FS-проект с корнем в root.
func NewFS(root string) *FS {
	return &FS{root: root}
}

func (p *FS) GetTask(_ context.Context, id string) (*Task, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrTaskNotFound)
	}
	dir := filepath.Join(p.root, id)
	data, err := os.ReadFile(filepath.Join(dir, "task.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("read task %s: %w", id, err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("parse task %s: %w", id, err)
	}
	if task.ID == "" {
		task.ID = id
	}
	task.dir = dir
	return &task, nil
}

// ReadIterationSummaries собирает тексты итоговых заметок итераций —
// контекст для генерации commit-сообщения. Лучший вариант из
// доступного: ошибки чтения не фатальны, возвращается то, что удалось
// прочитать, в порядке имён файлов.
func ReadIterationSummaries(dir string) []string {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	summaries := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		text := strings.TrimSpace(string(data))
		if text != "" {
			summaries = append(summaries, text)
		}
	}
	return summaries
}
