package engine

import (
	"errors"
	"testing"
)

func TestBuild_SimpleChain(t *testing.T) {
	g, err := Build([]TaskRef{
		{Title: "A"},
		{Title: "B", DependsOn: "A"},
		{Title: "C", DependsOn: "B"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.Size())
	}
	if len(g.Roots) != 1 {
		t.Errorf("expected 1 root, got %d", len(g.Roots))
	}
	if g.Roots[0].Title != "A" {
		t.Errorf("expected root A, got %s", g.Roots[0].Title)
	}

	nodeB := g.Nodes["B"]
	if len(nodeB.DependsOn) != 1 || nodeB.DependsOn[0].Title != "A" {
		t.Error("node B should depend on A")
	}
	nodeC := g.Nodes["C"]
	if len(nodeC.DependsOn) != 1 || nodeC.DependsOn[0].Title != "B" {
		t.Error("node C should depend on B")
	}

	// Топологический порядок цепочки однозначен
	titles := g.Titles()
	if len(titles) != 3 || titles[0] != "A" || titles[1] != "B" || titles[2] != "C" {
		t.Errorf("order = %v", titles)
	}
}

func TestBuild_Fan(t *testing.T) {
	// A ← B, A ← C: две задачи зависят от одной
	g, err := Build([]TaskRef{
		{Title: "A"},
		{Title: "B", DependsOn: "A"},
		{Title: "C", DependsOn: "A"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nodeA := g.Nodes["A"]
	if len(nodeA.Dependents) != 2 {
		t.Errorf("expected 2 dependents of A, got %d", len(nodeA.Dependents))
	}
	if titles := g.Titles(); titles[0] != "A" {
		t.Errorf("A must come first, order = %v", titles)
	}
}

func TestBuild_CycleDetected(t *testing.T) {
	_, err := Build([]TaskRef{
		{Title: "A", DependsOn: "C"},
		{Title: "B", DependsOn: "A"},
		{Title: "C", DependsOn: "B"},
	})
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestBuild_SelfDependency(t *testing.T) {
	_, err := Build([]TaskRef{
		{Title: "A", DependsOn: "A"},
	})
	if !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Task != "A" {
		t.Errorf("expected validation error naming task A, got %v", err)
	}
}

func TestBuild_DuplicateTitle(t *testing.T) {
	_, err := Build([]TaskRef{
		{Title: "A"},
		{Title: "A"},
	})
	if !errors.Is(err, ErrDuplicateTitle) {
		t.Errorf("expected ErrDuplicateTitle, got %v", err)
	}
}

func TestBuild_EmptyPlan(t *testing.T) {
	if _, err := Build(nil); !errors.Is(err, ErrNoTasks) {
		t.Errorf("expected ErrNoTasks, got %v", err)
	}
}

func TestBuild_EmptyTitle(t *testing.T) {
	_, err := Build([]TaskRef{{Title: ""}})
	if !errors.Is(err, ErrEmptyTitle) {
		t.Errorf("expected ErrEmptyTitle, got %v", err)
	}
}

func TestBuild_UnknownDependencyIgnored(t *testing.T) {
	// Ссылка в никуда — не ошибка графа, узел остаётся корнем
	g, err := Build([]TaskRef{
		{Title: "A", DependsOn: "Phantom"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Roots) != 1 || g.Nodes["A"].InDegree != 0 {
		t.Errorf("unknown dependency must not add edges: %+v", g.Nodes["A"])
	}
}

func TestBuild_DuplicateEdgeCountedOnce(t *testing.T) {
	// Повторное ребро не удваивает InDegree
	g, err := Build([]TaskRef{
		{Title: "A"},
		{Title: "B", DependsOn: "A"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.addEdge(g.Nodes["A"], g.Nodes["B"])
	if g.Nodes["B"].InDegree != 1 {
		t.Errorf("InDegree = %d, want 1", g.Nodes["B"].InDegree)
	}
}
