package step

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — реестр шагов по типу действия.
//
// Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[string]Step),
	}
}

// Register регистрирует шаг. Шаг с тем же типом действия
// перезаписывается.
func (r *Registry) Register(s Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[s.Config().ActionType] = s
}

// Get возвращает шаг по типу действия.
// Возвращает ErrStepNotFound, если шаг не зарегистрирован.
func (r *Registry) Get(actionType string) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.steps[actionType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, actionType)
	}

	return s, nil
}

// Has проверяет, зарегистрирован ли шаг для типа действия.
func (r *Registry) Has(actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.steps[actionType]
	return exists
}

// Types возвращает отсортированный список зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.steps))
	for t := range r.steps {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count возвращает количество зарегистрированных шагов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}
