package engine

import (
	"container/heap"
	"fmt"
	"slices"
	"strings"
)

// subsetGraph is the dependency graph restricted to one subset of resources.
// Edges leaving the subset, or pointing at resources that no longer exist,
// are dropped: they impose no ordering among the members.
type subsetGraph struct {
	// resources holds the members in input order, first occurrence of each ID
	resources []Resource

	// index maps member IDs to their position in resources
	index map[string]int

	// dependents maps a member position to the positions that depend on it
	dependents [][]int

	// inDegree counts in-subset prerequisites for each member
	inDegree []int
}

func newSubsetGraph(resources []Resource) *subsetGraph {
	g := &subsetGraph{
		resources: make([]Resource, 0, len(resources)),
		index:     make(map[string]int, len(resources)),
	}

	// First pass: index members
	for _, r := range resources {
		if _, exists := g.index[r.ID]; exists {
			continue
		}
		g.index[r.ID] = len(g.resources)
		g.resources = append(g.resources, r)
	}

	g.dependents = make([][]int, len(g.resources))
	g.inDegree = make([]int, len(g.resources))

	// Second pass: in-subset edges, prerequisite -> dependent
	for j, r := range g.resources {
		for _, dep := range dedupe(r.Dependencies) {
			i, ok := g.index[dep]
			if !ok {
				continue
			}
			g.dependents[i] = append(g.dependents[i], j)
			g.inDegree[j]++
		}
	}

	return g
}

// Order returns resources in an order where every resource follows all of its
// prerequisites that are also in the input. Among resources whose prerequisites
// are satisfied, the one appearing first in the input is emitted first, so the
// result is stable for identical input.
//
// Order assumes the stored graph is acyclic. A cycle among the inputs is a data
// integrity violation and fails with CircularDependencyError; no partial order is
// returned.
func Order(resources []Resource) ([]Resource, error) {
	g := newSubsetGraph(resources)
	inDegree := slices.Clone(g.inDegree)

	ready := &indexHeap{}
	for i, degree := range inDegree {
		if degree == 0 {
			heap.Push(ready, i)
		}
	}

	ordered := make([]Resource, 0, len(g.resources))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		ordered = append(ordered, g.resources[i])

		for _, dependent := range g.dependents[i] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}

	if len(ordered) != len(g.resources) {
		return nil, g.cycleError(inDegree)
	}

	return ordered, nil
}

// Levels groups resources into tiers using Kahn's algorithm level by level.
// Level 0 holds resources with no prerequisites in the input; every other
// resource sits one level past its deepest in-input prerequisite. Members of a
// level keep their input order.
func Levels(resources []Resource) ([][]Resource, error) {
	g := newSubsetGraph(resources)
	inDegree := slices.Clone(g.inDegree)

	// Find all root nodes (nodes with no dependencies)
	currentLevel := make([]int, 0)
	for i, degree := range inDegree {
		if degree == 0 {
			currentLevel = append(currentLevel, i)
		}
	}

	levels := make([][]Resource, 0)
	processedCount := 0
	for len(currentLevel) > 0 {
		level := make([]Resource, 0, len(currentLevel))
		for _, i := range currentLevel {
			level = append(level, g.resources[i])
		}
		levels = append(levels, level)
		processedCount += len(currentLevel)

		nextLevel := make([]int, 0)
		for _, i := range currentLevel {
			for _, dependent := range g.dependents[i] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					nextLevel = append(nextLevel, dependent)
				}
			}
		}
		slices.Sort(nextLevel)

		currentLevel = nextLevel
	}

	if processedCount != len(g.resources) {
		return nil, g.cycleError(inDegree)
	}

	return levels, nil
}

// cycleError finds a concrete cycle among the members Kahn's algorithm could not
// release. Every such member has an unreleased prerequisite, so following
// dependency edges among them always closes a cycle.
func (g *subsetGraph) cycleError(inDegree []int) error {
	remaining := make(map[string]bool)
	roots := make([]string, 0)
	for i, degree := range inDegree {
		if degree > 0 {
			id := g.resources[i].ID
			remaining[id] = true
			roots = append(roots, id)
		}
	}

	f := newCycleFinder(func(id string) []string {
		return g.resources[g.index[id]].Dependencies
	}, func(id string) bool {
		return remaining[id]
	})

	cycle := f.firstCycle(roots)
	if cycle == nil {
		// Unreachable for a consistent graph; report what could not be ordered
		cycle = roots
	}
	return &CircularDependencyError{Path: cycle}
}

// ToDOT generates a DOT format representation of the dependency graph of the given
// resources. The output can be rendered with Graphviz tools.
func ToDOT(resources []Resource) (string, error) {
	levels, err := Levels(resources)
	if err != nil {
		return "", err
	}
	g := newSubsetGraph(resources)

	var sb strings.Builder

	sb.WriteString("digraph Curriculum {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	// Group nodes by level for better visualization
	for level, members := range levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, r := range members {
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				dotEscape(r.ID), dotEscape(r.Name), completionColor(r.Completed)))
		}

		sb.WriteString("  }\n\n")
	}

	for _, r := range g.resources {
		for _, dep := range dedupe(r.Dependencies) {
			if _, ok := g.index[dep]; !ok {
				continue
			}
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", dotEscape(dep), dotEscape(r.ID)))
		}
	}

	sb.WriteString("}\n")
	return sb.String(), nil
}

func completionColor(completed bool) string {
	if completed {
		return "lightgreen"
	}
	return "white"
}

func dotEscape(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`)
}

// indexHeap is a min-heap of input positions.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *indexHeap) Push(x any) {
	*h = append(*h, x.(int))
}

func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
