package engine

// TaskRef — вход графа: заголовок задачи и заголовок её зависимости.
type TaskRef struct {
	// Title — уникальный заголовок задачи.
	Title string

	// DependsOn — заголовок другой задачи; пустая строка — нет
	// зависимости. Ссылка на неизвестный заголовок не считается
	// ошибкой графа: политику (отбросить с предупреждением) решает
	// вызывающая сторона.
	DependsOn string
}

// Node — узел в графе зависимостей плана.
type Node struct {
	// Title — заголовок задачи.
	Title string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// Graph — направленный ациклический граф задач плана.
type Graph struct {
	// Nodes — все узлы графа (title → Node).
	Nodes map[string]*Node

	// Roots — узлы без зависимостей (точки входа).
	Roots []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// Build строит граф из задач плана и проверяет его выполнимость.
//
// Два прохода: сначала узлы (здесь ловятся пустые и повторные
// заголовки), затем рёбра по depends_on. После связывания — поиск
// корней и топологическая сортировка; незамкнувшаяся сортировка
// означает цикл.
func Build(tasks []TaskRef) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}

	g := &Graph{
		Nodes: make(map[string]*Node, len(tasks)),
		Roots: make([]*Node, 0),
	}

	// Первый проход: создаём все узлы.
	for _, task := range tasks {
		if task.Title == "" {
			return nil, NewValidationError("", "task has empty title", ErrEmptyTitle)
		}
		if _, exists := g.Nodes[task.Title]; exists {
			return nil, NewValidationError(task.Title, "duplicate task title", ErrDuplicateTitle)
		}
		g.Nodes[task.Title] = &Node{
			Title:      task.Title,
			DependsOn:  make([]*Node, 0),
			Dependents: make([]*Node, 0),
		}
	}

	// Второй проход: связываем узлы по зависимостям.
	for _, task := range tasks {
		if task.DependsOn == "" {
			continue
		}
		if task.DependsOn == task.Title {
			return nil, NewValidationError(task.Title, "task depends on itself", ErrSelfDependency)
		}
		dep, exists := g.Nodes[task.DependsOn]
		if !exists {
			continue // политика вызывающего: ссылка в никуда отбрасывается
		}
		g.addEdge(dep, g.Nodes[task.Title])
	}

	g.findRoots()

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

// addEdge добавляет ребро между узлами. Дубликат ребра не увеличивает
// InDegree повторно.
func (g *Graph) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.Title == from.Title {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRoots находит узлы без входящих рёбер.
func (g *Graph) findRoots() {
	g.Roots = g.Roots[:0]
	for _, node := range g.Nodes {
		if node.InDegree == 0 {
			g.Roots = append(g.Roots, node)
		}
	}
}

// topologicalSort выполняет сортировку алгоритмом Кана. Если не все
// узлы обработаны — в графе цикл.
func (g *Graph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for title, node := range g.Nodes {
		inDegree[title] = node.InDegree
	}

	queue := make([]*Node, len(g.Roots))
	copy(queue, g.Roots)

	order := make([]*Node, 0, len(g.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.Title]--
			if inDegree[dependent.Title] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicDependency
	}
	return order, nil
}

// Titles возвращает заголовки задач в топологическом порядке.
func (g *Graph) Titles() []string {
	titles := make([]string, len(g.Order))
	for i, node := range g.Order {
		titles[i] = node.Title
	}
	return titles
}

// Size возвращает количество узлов в графе.
func (g *Graph) Size() int {
	return len(g.Nodes)
}
