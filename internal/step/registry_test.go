package step

import (
	"context"
	"errors"
	"testing"

	"github.com/endorhq/rover-sub001/internal/domain"
)

// stubStep — минимальный шаг для тестов реестра.
type stubStep struct {
	cfg Config
}

func (s *stubStep) Config() Config { return s.cfg }

func (s *stubStep) Process(ctx context.Context, pending domain.PendingAction, sc Context) (Result, error) {
	return Result{}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	// Пустой реестр
	if r.Count() != 0 {
		t.Errorf("expected empty registry")
	}

	// Регистрация
	r.Register(&stubStep{cfg: Config{ActionType: "plan", MaxParallel: 1}})
	if r.Count() != 1 {
		t.Errorf("expected 1 step, got %d", r.Count())
	}

	// Получение
	s, err := r.Get("plan")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if s.Config().ActionType != "plan" {
		t.Errorf("expected plan, got %s", s.Config().ActionType)
	}

	// Несуществующий тип
	_, err = r.Get("unknown")
	if !errors.Is(err, ErrStepNotFound) {
		t.Errorf("expected ErrStepNotFound, got %v", err)
	}

	// Has
	if !r.Has("plan") {
		t.Error("should have plan")
	}
	if r.Has("unknown") {
		t.Error("should not have unknown")
	}
}

func TestRegistryTypesSorted(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []string{"workflow", "commit", "plan"} {
		r.Register(&stubStep{cfg: Config{ActionType: typ, MaxParallel: 1}})
	}

	types := r.Types()
	want := []string{"commit", "plan", "workflow"}
	if len(types) != len(want) {
		t.Fatalf("expected %d types, got %d", len(want), len(types))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("types[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestRegistryOverwrite(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubStep{cfg: Config{ActionType: "plan", MaxParallel: 1}})
	r.Register(&stubStep{cfg: Config{ActionType: "plan", MaxParallel: 3}})

	if r.Count() != 1 {
		t.Errorf("expected 1 step after overwrite, got %d", r.Count())
	}
	s, err := r.Get("plan")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Config().MaxParallel != 3 {
		t.Errorf("expected the later registration to win, MaxParallel = %d", s.Config().MaxParallel)
	}
}
