package engine

// CheckCycle reports whether giving candidateID the dependency set candidateDeps
// would introduce a cycle into the snapshot graph.
//
// For an existing candidate its stored edges are replaced by candidateDeps for
// the duration of the check; NewResourceID adds a synthetic node instead. The
// snapshot itself is never modified.
//
// Errors, in evaluation order: SelfDependencyError, UnknownDependencyError for the
// first dependency missing from the snapshot, CircularDependencyError whose path
// starts and ends at the node the back edge returned to.
func CheckCycle(snap *Snapshot, candidateID string, candidateDeps []string) error {
	if candidateID != NewResourceID {
		for _, dep := range candidateDeps {
			if dep == candidateID {
				return &SelfDependencyError{ID: candidateID}
			}
		}
	}

	for _, dep := range candidateDeps {
		if !snap.Has(dep) {
			return &UnknownDependencyError{ID: dep}
		}
	}

	overlay := dedupe(candidateDeps)
	d := newCycleFinder(func(id string) []string {
		if id == candidateID {
			return overlay
		}
		return snap.Dependencies(id)
	}, func(id string) bool {
		return id == candidateID || snap.Has(id)
	})

	if cycle := d.visit(candidateID); cycle != nil {
		return &CircularDependencyError{Path: cycle}
	}
	return nil
}

type visitState int

const (
	unvisited visitState = iota
	onPath
	done
)

// cycleFinder is a depth-first search with white/gray/black colouring. Nodes on
// the current path are gray; finished nodes are black and never re-entered, so
// each node and edge is explored at most once.
type cycleFinder struct {
	edges  func(id string) []string
	exists func(id string) bool
	state  map[string]visitState
	path   []string
}

func newCycleFinder(edges func(string) []string, exists func(string) bool) *cycleFinder {
	return &cycleFinder{
		edges:  edges,
		exists: exists,
		state:  make(map[string]visitState),
		path:   make([]string, 0),
	}
}

// visit explores everything reachable from id and returns the first cycle found.
func (f *cycleFinder) visit(id string) []string {
	f.state[id] = onPath
	f.path = append(f.path, id)

	for _, next := range f.edges(id) {
		// Dangling references to deleted resources constrain nothing
		if !f.exists(next) {
			continue
		}

		switch f.state[next] {
		case unvisited:
			if cycle := f.visit(next); cycle != nil {
				return cycle
			}
		case onPath:
			return f.closeCycle(next)
		}
	}

	f.path = f.path[:len(f.path)-1]
	f.state[id] = done
	return nil
}

// closeCycle returns the path slice from start to the current node, closed by start.
func (f *cycleFinder) closeCycle(start string) []string {
	for i, id := range f.path {
		if id == start {
			cycle := make([]string, 0, len(f.path)-i+1)
			cycle = append(cycle, f.path[i:]...)
			return append(cycle, start)
		}
	}
	return nil
}

// firstCycle searches from each root in order and returns the first cycle found.
func (f *cycleFinder) firstCycle(roots []string) []string {
	for _, id := range roots {
		if f.state[id] != unvisited {
			continue
		}
		if cycle := f.visit(id); cycle != nil {
			return cycle
		}
	}
	return nil
}
