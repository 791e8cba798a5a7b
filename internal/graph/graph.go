// Package graph combines explicit dependencies and file conflicts into one
// tagged directed graph over the tasks of a manifest.
package graph

import (
	"fmt"
	"sort"

	"github.com/felixgeelhaar/batchguard/internal/conflict"
	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/manifest"
)

// EdgeKind tags why an edge exists
type EdgeKind string

const (
	// EdgeDependency points from a dependency to the task that declared it
	EdgeDependency EdgeKind = "dependency"
	// EdgeConflict points from the task earlier in Order to the later one.
	// The direction is advisory: a conflict only forbids sharing a batch, and
	// the planner may schedule the later-ranked task first. plan.Conflict
	// carries the scheduled direction.
	EdgeConflict EdgeKind = "conflict"
)

// Edge is a directed, tagged edge
type Edge struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Kind  EdgeKind `json:"kind"`
	Files []string `json:"files,omitempty"`
}

// Graph is the dependency graph of a task set. It is immutable once built.
type Graph struct {
	ids        []string
	position   map[string]int
	deps       map[string][]string
	dependents map[string][]string
	order      []string
	rank       map[string]int
	edges      []Edge
}

// Build validates that the explicit dependencies are acyclic, computes the
// topological submission order and orients the conflict edges along it.
func Build(tasks []manifest.Task, rel *conflict.Relation) (*Graph, error) {
	g := &Graph{
		ids:        make([]string, 0, len(tasks)),
		position:   make(map[string]int, len(tasks)),
		deps:       make(map[string][]string, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
	}

	for i, t := range tasks {
		g.ids = append(g.ids, t.ID())
		g.position[t.ID()] = i
	}

	for _, t := range tasks {
		for _, dep := range t.Deps() {
			if _, ok := g.position[dep]; !ok {
				return nil, errors.NewManifestError(errors.ErrCodeManifestUnknownDep,
					fmt.Sprintf("task %q depends on unknown task %q", t.ID(), dep), t.ID())
			}
			g.deps[t.ID()] = append(g.deps[t.ID()], dep)
			g.dependents[dep] = append(g.dependents[dep], t.ID())
		}
	}
	for id := range g.dependents {
		g.sortByPosition(g.dependents[id])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, errors.NewCycleDetectedError(cycle)
	}

	g.order = g.topologicalOrder()
	g.rank = make(map[string]int, len(g.order))
	for i, id := range g.order {
		g.rank[id] = i
	}

	for _, id := range g.order {
		for _, dependent := range g.dependents[id] {
			g.edges = append(g.edges, Edge{From: id, To: dependent, Kind: EdgeDependency})
		}
	}
	if rel != nil {
		for _, ce := range rel.Edges() {
			from, to := ce.A, ce.B
			if g.rank[from] > g.rank[to] {
				from, to = to, from
			}
			g.edges = append(g.edges, Edge{From: from, To: to, Kind: EdgeConflict, Files: ce.Files})
		}
	}

	return g, nil
}

func (g *Graph) sortByPosition(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return g.position[ids[i]] < g.position[ids[j]] })
}

const (
	white = iota
	gray
	black
)

// findCycle runs a colored DFS along "depends on" edges and returns the
// first cycle found as a closed path, or nil.
func (g *Graph) findCycle() []string {
	color := make(map[string]int, len(g.ids))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)

		for _, dep := range g.deps[id] {
			switch color[dep] {
			case gray:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle := append([]string(nil), stack[start:]...)
				return append(cycle, dep)
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.ids {
		if color[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topologicalOrder is Kahn's algorithm with the ready set kept in manifest
// declaration order.
func (g *Graph) topologicalOrder() []string {
	indegree := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		indegree[id] = len(g.deps[id])
	}

	var ready []string
	for _, id := range g.ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.ids))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		added := false
		for _, dependent := range g.dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				added = true
			}
		}
		if added {
			g.sortByPosition(ready)
		}
	}
	return order
}

// Order returns the topological submission order
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Rank returns the index of id in Order, or -1
func (g *Graph) Rank(id string) int {
	if r, ok := g.rank[id]; ok {
		return r
	}
	return -1
}

// Deps returns the direct explicit dependencies of id
func (g *Graph) Deps(id string) []string {
	out := append([]string(nil), g.deps[id]...)
	g.sortByPosition(out)
	return out
}

// Dependents returns the tasks that declared id as a dependency
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Edges returns all tagged edges: dependency edges in Order, then conflict
// edges in manifest order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Ancestors returns every task id reachable through explicit dependencies
func (g *Graph) Ancestors(id string) map[string]bool {
	seen := make(map[string]bool)
	queue := append([]string(nil), g.deps[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		queue = append(queue, g.deps[cur]...)
	}
	return seen
}

// Len returns the number of tasks
func (g *Graph) Len() int { return len(g.ids) }
