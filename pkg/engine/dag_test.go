package engine

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

// node builds a resource named "Course <id>" with the given dependency IDs.
func node(id string, deps ...string) Resource {
	if deps == nil {
		deps = []string{}
	}
	return Resource{ID: id, Name: "Course " + id, Dependencies: deps}
}

func ids(resources []Resource) []string {
	out := make([]string, len(resources))
	for i, r := range resources {
		out[i] = r.ID
	}
	return out
}

func TestOrder_Empty(t *testing.T) {
	ordered, err := Order(nil)
	if err != nil {
		t.Fatalf("Expected no error for empty input, got: %v", err)
	}
	if len(ordered) != 0 {
		t.Errorf("Expected 0 resources, got %d", len(ordered))
	}
}

func TestOrder_PrerequisitesFirst(t *testing.T) {
	input := []Resource{
		node("C", "B"),
		node("A"),
		node("B", "A"),
	}

	ordered, err := Order(input)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got, want := ids(ordered), []string{"A", "B", "C"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected order %v, got %v", want, got)
	}
}

func TestOrder_TieBreakByInputPosition(t *testing.T) {
	tests := []struct {
		name  string
		input []Resource
		want  []string
	}{
		{
			name:  "independent resources keep input order",
			input: []Resource{node("B"), node("A"), node("C")},
			want:  []string{"B", "A", "C"},
		},
		{
			name:  "dependent waits for prerequisite only",
			input: []Resource{node("B"), node("A"), node("C", "A")},
			want:  []string{"B", "A", "C"},
		},
		{
			name:  "released dependent competes by position",
			input: []Resource{node("D", "A"), node("A"), node("B")},
			want:  []string{"A", "D", "B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ordered, err := Order(tt.input)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got := ids(ordered); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected order %v, got %v", tt.want, got)
			}
		})
	}
}

func TestOrder_Idempotent(t *testing.T) {
	input := []Resource{
		node("E", "C", "D"),
		node("C", "A"),
		node("D", "B"),
		node("B"),
		node("A"),
	}

	first, err := Order(input)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	second, err := Order(first)
	if err != nil {
		t.Fatalf("Expected no error on reorder, got: %v", err)
	}

	if !reflect.DeepEqual(ids(first), ids(second)) {
		t.Errorf("Expected stable order, got %v then %v", ids(first), ids(second))
	}
}

func TestOrder_EveryEdgeRespected(t *testing.T) {
	input := []Resource{
		node("web", "http", "html"),
		node("html"),
		node("http", "tcp"),
		node("tcp", "ip"),
		node("ip"),
		node("css", "html"),
	}

	ordered, err := Order(input)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	position := make(map[string]int, len(ordered))
	for i, r := range ordered {
		position[r.ID] = i
	}

	for _, r := range input {
		for _, dep := range r.Dependencies {
			if position[dep] >= position[r.ID] {
				t.Errorf("Expected %s before %s in %v", dep, r.ID, ids(ordered))
			}
		}
	}
}

func TestOrder_IgnoresEdgesOutsideInput(t *testing.T) {
	input := []Resource{
		node("C", "B"),
		node("B", "A", "deleted"),
	}

	ordered, err := Order(input)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got, want := ids(ordered), []string{"B", "C"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected order %v, got %v", want, got)
	}
}

func TestOrder_CollapsesDuplicateIDs(t *testing.T) {
	input := []Resource{
		node("A"),
		node("B", "A", "A"),
		node("A"),
	}

	ordered, err := Order(input)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got, want := ids(ordered), []string{"A", "B"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected order %v, got %v", want, got)
	}
}

func TestOrder_CycleFails(t *testing.T) {
	tests := []struct {
		name  string
		input []Resource
		want  []string
	}{
		{
			name:  "two node cycle",
			input: []Resource{node("A", "B"), node("B", "A")},
			want:  []string{"A", "B", "A"},
		},
		{
			name:  "self edge",
			input: []Resource{node("X"), node("A", "A")},
			want:  []string{"A", "A"},
		},
		{
			name:  "cycle behind an acyclic prefix",
			input: []Resource{node("R"), node("B", "R", "C"), node("C", "B")},
			want:  []string{"B", "C", "B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ordered, err := Order(tt.input)
			if err == nil {
				t.Fatalf("Expected circular dependency error, got order %v", ids(ordered))
			}
			if ordered != nil {
				t.Errorf("Expected no partial order, got %v", ids(ordered))
			}

			var cycleErr *CircularDependencyError
			if !errors.As(err, &cycleErr) {
				t.Fatalf("Expected CircularDependencyError, got %T: %v", err, err)
			}
			if !reflect.DeepEqual(cycleErr.Path, tt.want) {
				t.Errorf("Expected cycle %v, got %v", tt.want, cycleErr.Path)
			}
		})
	}
}

func TestLevels_Diamond(t *testing.T) {
	input := []Resource{
		node("A"),
		node("B", "A"),
		node("C", "A"),
		node("D", "B", "C"),
		node("E"),
	}

	levels, err := Levels(input)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := [][]string{{"A", "E"}, {"B", "C"}, {"D"}}
	if len(levels) != len(want) {
		t.Fatalf("Expected %d levels, got %d", len(want), len(levels))
	}
	for i := range want {
		if got := ids(levels[i]); !reflect.DeepEqual(got, want[i]) {
			t.Errorf("Level %d: expected %v, got %v", i, want[i], got)
		}
	}
}

func TestLevels_DeepestPrerequisiteWins(t *testing.T) {
	input := []Resource{
		node("C", "A", "B"),
		node("B", "A"),
		node("A"),
	}

	levels, err := Levels(input)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := [][]string{{"A"}, {"B"}, {"C"}}
	for i := range want {
		if got := ids(levels[i]); !reflect.DeepEqual(got, want[i]) {
			t.Errorf("Level %d: expected %v, got %v", i, want[i], got)
		}
	}
}

func TestLevels_CycleFails(t *testing.T) {
	_, err := Levels([]Resource{node("A", "B"), node("B", "A")})
	if _, ok := CyclePath(err); !ok {
		t.Fatalf("Expected a cycle error, got: %v", err)
	}
}

func TestToDOT(t *testing.T) {
	intro := node("intro")
	intro.Name = `Intro to "CS"`
	intro.Completed = true

	dot, err := ToDOT([]Resource{intro, node("ds", "intro", "missing")})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	for _, want := range []string{
		"digraph Curriculum {",
		"subgraph cluster_level_0 {",
		"subgraph cluster_level_1 {",
		`label="Intro to \"CS\""`,
		`fillcolor="lightgreen"`,
		`"intro" -> "ds";`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q, got:\n%s", want, dot)
		}
	}

	if strings.Contains(dot, "missing") {
		t.Errorf("Expected dangling reference to be omitted, got:\n%s", dot)
	}
}
