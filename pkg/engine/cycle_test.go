package engine

import (
	"errors"
	"reflect"
	"testing"
)

// chain is A <- B <- C: B depends on A, C depends on B.
func chain() *Snapshot {
	return NewSnapshot([]Resource{node("A"), node("B", "A"), node("C", "B")})
}

// assertValidCycle checks that path is closed and every step follows an edge of
// the graph with candidate's edges replaced by candidateDeps.
func assertValidCycle(t *testing.T, snap *Snapshot, candidate string, candidateDeps, path []string) {
	t.Helper()

	if len(path) < 2 || path[0] != path[len(path)-1] {
		t.Fatalf("Expected a closed path, got %v", path)
	}

	for i := 0; i+1 < len(path); i++ {
		from, to := path[i], path[i+1]
		edges := snap.Dependencies(from)
		if from == candidate {
			edges = candidateDeps
		}
		found := false
		for _, e := range edges {
			if e == to {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Path %v steps %s -> %s, which is not an edge", path, from, to)
		}
	}
}

func TestCheckCycle_UpdateClosingChain(t *testing.T) {
	snap := chain()

	err := CheckCycle(snap, "A", []string{"C"})

	var cycleErr *CircularDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CircularDependencyError, got %T: %v", err, err)
	}
	if want := []string{"A", "C", "B", "A"}; !reflect.DeepEqual(cycleErr.Path, want) {
		t.Errorf("Expected cycle %v, got %v", want, cycleErr.Path)
	}
	assertValidCycle(t, snap, "A", []string{"C"}, cycleErr.Path)

	if got := snap.Dependencies("A"); len(got) != 0 {
		t.Errorf("Expected snapshot to be unchanged, A now depends on %v", got)
	}
}

func TestCheckCycle_SelfDependency(t *testing.T) {
	err := CheckCycle(chain(), "B", []string{"A", "B"})

	var selfErr *SelfDependencyError
	if !errors.As(err, &selfErr) {
		t.Fatalf("Expected SelfDependencyError, got %T: %v", err, err)
	}
	if selfErr.ID != "B" {
		t.Errorf("Expected ID B, got %q", selfErr.ID)
	}

	path, ok := CyclePath(err)
	if !ok || !reflect.DeepEqual(path, []string{"B", "B"}) {
		t.Errorf("Expected cycle path [B B], got %v", path)
	}
}

func TestCheckCycle_SelfCheckedBeforeUnknown(t *testing.T) {
	err := CheckCycle(chain(), "A", []string{"missing", "A"})

	var selfErr *SelfDependencyError
	if !errors.As(err, &selfErr) {
		t.Fatalf("Expected SelfDependencyError first, got %T: %v", err, err)
	}
}

func TestCheckCycle_UnknownDependency(t *testing.T) {
	err := CheckCycle(chain(), NewResourceID, []string{"A", "missing"})

	var unknown *UnknownDependencyError
	if !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownDependencyError, got %T: %v", err, err)
	}
	if unknown.ID != "missing" {
		t.Errorf("Expected ID missing, got %q", unknown.ID)
	}
}

func TestCheckCycle_NewResourceNeverCycles(t *testing.T) {
	snap := NewSnapshot([]Resource{
		node("A"),
		node("B", "A"),
		node("C", "A", "B"),
		node("D"),
	})
	all := snap.IDs()

	// Every subset of existing resources is a valid dependency set
	for mask := 0; mask < 1<<len(all); mask++ {
		deps := make([]string, 0, len(all))
		for i, id := range all {
			if mask&(1<<i) != 0 {
				deps = append(deps, id)
			}
		}
		if err := CheckCycle(snap, NewResourceID, deps); err != nil {
			t.Errorf("Expected no cycle for new resource with deps %v, got: %v", deps, err)
		}
	}
}

func TestCheckCycle_AcceptsValidUpdates(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		deps      []string
	}{
		{name: "unchanged edges", candidate: "C", deps: []string{"B"}},
		{name: "shortcut edge", candidate: "C", deps: []string{"A", "B"}},
		{name: "clear edges", candidate: "B", deps: []string{}},
		{name: "duplicate refs", candidate: "C", deps: []string{"A", "A"}},
	}

	snap := chain()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckCycle(snap, tt.candidate, tt.deps); err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestCheckCycle_IgnoresDanglingReferences(t *testing.T) {
	// B still references a deleted resource
	snap := NewSnapshot([]Resource{node("B", "deleted"), node("C", "B")})

	if err := CheckCycle(snap, NewResourceID, []string{"C"}); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if err := CheckCycle(snap, "B", []string{"deleted"}); err == nil {
		t.Errorf("Expected an explicit reference to a deleted resource to fail")
	}
}

func TestCheckCycle_LongerCycleIsValidPath(t *testing.T) {
	snap := NewSnapshot([]Resource{
		node("A"),
		node("B", "A"),
		node("C", "B"),
		node("D", "C", "A"),
		node("E", "D"),
	})

	err := CheckCycle(snap, "B", []string{"E"})
	path, ok := CyclePath(err)
	if !ok {
		t.Fatalf("Expected a cycle, got: %v", err)
	}
	if path[0] != "B" {
		t.Errorf("Expected cycle to start at the candidate, got %v", path)
	}
	assertValidCycle(t, snap, "B", []string{"E"}, path)
}
