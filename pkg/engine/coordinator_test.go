package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/boolearner/boolearner/pkg/telemetry"
)

// fakeStore is an in-memory ResourceStore that keeps insertion order.
type fakeStore struct {
	mu        sync.Mutex
	resources []Resource
	nextID    int

	// ghosts are listed but not found by point reads, like rows deleted
	// between the snapshot and the existence check
	ghosts []Resource

	failWith error
}

func (s *fakeStore) ListResources(ctx context.Context) ([]Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]Resource, 0, len(s.resources)+len(s.ghosts))
	for _, r := range s.resources {
		out = append(out, *r.Clone())
	}
	return append(out, s.ghosts...), nil
}

func (s *fakeStore) GetResource(ctx context.Context, id string) (*Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.resources {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return nil, &NotFoundError{ID: id}
}

func (s *fakeStore) SearchResources(ctx context.Context, query string) ([]Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Resource, 0)
	for _, r := range s.resources {
		if strings.Contains(r.Name, query) || (r.Description != nil && strings.Contains(*r.Description, query)) {
			out = append(out, *r.Clone())
		}
	}
	return out, nil
}

func (s *fakeStore) CreateResource(ctx context.Context, r *Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = fmt.Sprintf("r%d", s.nextID)
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	s.resources = append(s.resources, *r.Clone())
	return nil
}

func (s *fakeStore) UpdateResource(ctx context.Context, id string, changes ResourceChanges) (*Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.resources {
		if s.resources[i].ID == id {
			s.resources[i].Apply(changes)
			s.resources[i].UpdatedAt = time.Now()
			return s.resources[i].Clone(), nil
		}
	}
	return nil, &NotFoundError{ID: id}
}

func (s *fakeStore) DeleteResources(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	kept := s.resources[:0]
	removed := 0
	for _, r := range s.resources {
		if remove[r.ID] {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.resources = kept
	return removed, nil
}

func (s *fakeStore) get(id string) *Resource {
	r, _ := s.GetResource(context.Background(), id)
	return r
}

func mustCreate(t *testing.T, c *Coordinator, name string, deps ...string) *Resource {
	t.Helper()
	r, err := c.Create(context.Background(), CreateRequest{Name: name, Dependencies: deps})
	if err != nil {
		t.Fatalf("Failed to create %s: %v", name, err)
	}
	return r
}

// setupChain creates A <- B <- C.
func setupChain(t *testing.T) (*Coordinator, *fakeStore, *Resource, *Resource, *Resource) {
	t.Helper()
	store := &fakeStore{}
	c := NewCoordinator(store)

	a := mustCreate(t, c, "A")
	b := mustCreate(t, c, "B", "A")
	cc := mustCreate(t, c, "C", b.ID)
	return c, store, a, b, cc
}

func TestCoordinator_CreateResolvesNamesToIDs(t *testing.T) {
	store := &fakeStore{}
	c := NewCoordinator(store)

	intro := mustCreate(t, c, "Introduction to Programming")
	byName := mustCreate(t, c, "Data Structures", "Introduction to Programming")
	byID := mustCreate(t, c, "Algorithms", intro.ID)

	if !reflect.DeepEqual(byName.Dependencies, []string{intro.ID}) {
		t.Errorf("Expected name reference to store %v, got %v", []string{intro.ID}, byName.Dependencies)
	}
	if !reflect.DeepEqual(byID.Dependencies, byName.Dependencies) {
		t.Errorf("Expected ID and name references to match, got %v and %v", byID.Dependencies, byName.Dependencies)
	}
	if intro.Dependencies == nil {
		t.Errorf("Expected empty, non-nil dependencies")
	}
	if stored := store.get(byName.ID); stored == nil || stored.Name != "Data Structures" {
		t.Errorf("Expected resource to be stored, got %+v", stored)
	}
}

func TestCoordinator_CreateRejections(t *testing.T) {
	tests := []struct {
		name string
		req  CreateRequest
		code string
	}{
		{"blank name", CreateRequest{Name: "  "}, ErrCodeValidation},
		{"unknown reference", CreateRequest{Name: "D", Dependencies: []string{"Nope"}}, ErrCodeInvalidDependency},
		{"blank reference", CreateRequest{Name: "D", Dependencies: []string{""}}, ErrCodeInvalidDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, store, _, _, _ := setupChain(t)

			r, err := c.Create(context.Background(), tt.req)
			if err == nil {
				t.Fatalf("Expected error, got resource %+v", r)
			}
			if got := ErrorCode(err); got != tt.code {
				t.Errorf("Expected code %s, got %s (%v)", tt.code, got, err)
			}
			if len(store.resources) != 3 {
				t.Errorf("Expected no write, store has %d resources", len(store.resources))
			}
		})
	}
}

func TestCoordinator_CreateAmbiguousName(t *testing.T) {
	store := &fakeStore{}
	c := NewCoordinator(store)
	mustCreate(t, c, "Calculus")
	mustCreate(t, c, "Calculus")

	_, err := c.Create(context.Background(), CreateRequest{Name: "Analysis", Dependencies: []string{"Calculus"}})

	var ambiguous *AmbiguousNameError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("Expected AmbiguousNameError, got %v", err)
	}
	if len(ambiguous.IDs) != 2 {
		t.Errorf("Expected 2 candidate IDs, got %v", ambiguous.IDs)
	}
}

func TestCoordinator_CreateRejectsDependencyGoneBeforeCheck(t *testing.T) {
	store := &fakeStore{ghosts: []Resource{{ID: "ghost", Name: "Ghost"}}}
	c := NewCoordinator(store)

	_, err := c.Create(context.Background(), CreateRequest{Name: "D", Dependencies: []string{"Ghost"}})

	var unknown *UnknownDependencyError
	if !errors.As(err, &unknown) || unknown.ID != "ghost" {
		t.Fatalf("Expected UnknownDependencyError for ghost, got %v", err)
	}
	if ErrorCode(err) != ErrCodeUnknownDependency {
		t.Errorf("Expected code %s, got %s", ErrCodeUnknownDependency, ErrorCode(err))
	}
}

func TestCoordinator_UpdateRejectsCycle(t *testing.T) {
	c, store, a, b, cc := setupChain(t)

	deps := []string{cc.ID}
	_, err := c.Update(context.Background(), a.ID, UpdateRequest{Dependencies: &deps})

	if got := ErrorCode(err); got != ErrCodeCircularDependency {
		t.Fatalf("Expected code %s, got %s (%v)", ErrCodeCircularDependency, got, err)
	}
	path, ok := CyclePath(err)
	if want := []string{a.ID, cc.ID, b.ID, a.ID}; !ok || !reflect.DeepEqual(path, want) {
		t.Errorf("Expected cycle %v, got %v", want, path)
	}
	if got := store.get(a.ID).Dependencies; len(got) != 0 {
		t.Errorf("Expected A to be unchanged, got dependencies %v", got)
	}
}

func TestCoordinator_UpdateRejectsSelfDependency(t *testing.T) {
	c, store, _, b, _ := setupChain(t)

	deps := []string{"A", "B"}
	_, err := c.Update(context.Background(), b.ID, UpdateRequest{Dependencies: &deps})

	if got := ErrorCode(err); got != ErrCodeSelfDependency {
		t.Fatalf("Expected code %s, got %s (%v)", ErrCodeSelfDependency, got, err)
	}
	if path, _ := CyclePath(err); !reflect.DeepEqual(path, []string{b.ID, b.ID}) {
		t.Errorf("Expected self cycle path, got %v", path)
	}
	if got := store.get(b.ID).Dependencies; len(got) != 1 {
		t.Errorf("Expected B to be unchanged, got dependencies %v", got)
	}
}

func TestCoordinator_UpdatePartial(t *testing.T) {
	c, _, a, b, _ := setupChain(t)

	name := "B (revised)"
	updated, err := c.Update(context.Background(), b.ID, UpdateRequest{Name: &name})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if updated.Name != name {
		t.Errorf("Expected name %q, got %q", name, updated.Name)
	}
	if !reflect.DeepEqual(updated.Dependencies, []string{a.ID}) {
		t.Errorf("Expected dependencies to be unchanged, got %v", updated.Dependencies)
	}

	cleared := []string{}
	updated, err = c.Update(context.Background(), b.ID, UpdateRequest{Dependencies: &cleared})
	if err != nil {
		t.Fatalf("Expected no error clearing dependencies, got: %v", err)
	}
	if len(updated.Dependencies) != 0 {
		t.Errorf("Expected no dependencies, got %v", updated.Dependencies)
	}
}

func TestCoordinator_UpdateNotFound(t *testing.T) {
	c, _, _, _, _ := setupChain(t)

	name := "x"
	_, err := c.Update(context.Background(), "missing", UpdateRequest{Name: &name})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected not found, got: %v", err)
	}
}

func TestCoordinator_DeleteCascade(t *testing.T) {
	c, store, a, b, cc := setupChain(t)
	other := mustCreate(t, c, "Unrelated")

	deleted, err := c.Delete(context.Background(), a.ID, true)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if want := []string{a.ID, b.ID, cc.ID}; !reflect.DeepEqual(deleted, want) {
		t.Errorf("Expected deleted %v, got %v", want, deleted)
	}
	if len(store.resources) != 1 || store.resources[0].ID != other.ID {
		t.Errorf("Expected only the unrelated resource to remain, got %v", ids(store.resources))
	}
}

func TestCoordinator_DeleteLeavesDanglingReference(t *testing.T) {
	c, store, a, b, cc := setupChain(t)

	deleted, err := c.Delete(context.Background(), a.ID, false)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !reflect.DeepEqual(deleted, []string{a.ID}) {
		t.Errorf("Expected only A deleted, got %v", deleted)
	}

	if got := store.get(b.ID).Dependencies; !reflect.DeepEqual(got, []string{a.ID}) {
		t.Errorf("Expected B to keep its dangling reference, got %v", got)
	}

	listed, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("Expected list to ignore the dangling reference, got: %v", err)
	}
	if want := []string{b.ID, cc.ID}; !reflect.DeepEqual(ids(listed), want) {
		t.Errorf("Expected %v, got %v", want, ids(listed))
	}

	// The graph stays writable around the orphan
	mustCreate(t, c, "D", b.ID)
	if _, err := c.Update(context.Background(), cc.ID, UpdateRequest{Name: &cc.Name}); err != nil {
		t.Errorf("Expected update next to an orphan to succeed, got: %v", err)
	}
}

func TestCoordinator_DeleteNotFound(t *testing.T) {
	for _, cascade := range []bool{false, true} {
		t.Run(fmt.Sprintf("cascade=%v", cascade), func(t *testing.T) {
			c, store, _, _, _ := setupChain(t)

			_, err := c.Delete(context.Background(), "missing", cascade)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("Expected not found, got: %v", err)
			}
			if len(store.resources) != 3 {
				t.Errorf("Expected no deletion, store has %d resources", len(store.resources))
			}
		})
	}
}

func TestCoordinator_SearchOrdersResults(t *testing.T) {
	store := &fakeStore{}
	c := NewCoordinator(store)

	theory := mustCreate(t, c, "Graph Theory")
	algos := mustCreate(t, c, "Graph Algorithms")
	mustCreate(t, c, "Compilers")

	// Stored order is now the reverse of the prerequisite order
	deps := []string{algos.ID}
	if _, err := c.Update(context.Background(), theory.ID, UpdateRequest{Dependencies: &deps}); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	results, err := c.Search(context.Background(), "Graph")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if want := []string{algos.ID, theory.ID}; !reflect.DeepEqual(ids(results), want) {
		t.Errorf("Expected %v, got %v", want, ids(results))
	}

	all, err := c.Search(context.Background(), "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected empty query to match all 3 resources, got %d", len(all))
	}

	none, err := c.Search(context.Background(), "graph")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected case sensitive search to match nothing, got %v", ids(none))
	}
}

func TestCoordinator_Levels(t *testing.T) {
	c, _, a, b, cc := setupChain(t)
	d := mustCreate(t, c, "D")

	levels, err := c.Levels(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := [][]string{{a.ID, d.ID}, {b.ID}, {cc.ID}}
	if len(levels) != len(want) {
		t.Fatalf("Expected %d levels, got %d", len(want), len(levels))
	}
	for i := range want {
		if got := ids(levels[i]); !reflect.DeepEqual(got, want[i]) {
			t.Errorf("Level %d: expected %v, got %v", i, want[i], got)
		}
	}
}

func TestCoordinator_SetCompleted(t *testing.T) {
	c, store, a, _, _ := setupChain(t)

	updated, err := c.SetCompleted(context.Background(), a.ID, true)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !updated.Completed || !store.get(a.ID).Completed {
		t.Errorf("Expected resource to be completed")
	}

	if _, err := c.SetCompleted(context.Background(), "missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected not found, got: %v", err)
	}
}

func TestCoordinator_Admitter(t *testing.T) {
	store := &fakeStore{}
	var seen []string
	c := NewCoordinator(store, WithAdmitter(AdmitterFunc(func(ctx context.Context, operation string, r *Resource) error {
		seen = append(seen, operation+":"+r.Name)
		if strings.Contains(r.Name, "forbidden") {
			return errors.New("name is not allowed")
		}
		return nil
	})))

	a := mustCreate(t, c, "Allowed")

	_, err := c.Create(context.Background(), CreateRequest{Name: "forbidden topic"})
	if got := ErrorCode(err); got != ErrCodePolicyViolation {
		t.Fatalf("Expected code %s, got %s (%v)", ErrCodePolicyViolation, got, err)
	}

	name := "now forbidden"
	if _, err := c.Update(context.Background(), a.ID, UpdateRequest{Name: &name}); ErrorCode(err) != ErrCodePolicyViolation {
		t.Errorf("Expected update to be rejected by policy, got: %v", err)
	}

	if len(store.resources) != 1 || store.resources[0].Name != "Allowed" {
		t.Errorf("Expected rejected writes to leave the store unchanged, got %+v", store.resources)
	}
	if want := []string{"create:Allowed", "create:forbidden topic", "update:now forbidden"}; !reflect.DeepEqual(seen, want) {
		t.Errorf("Expected admitter calls %v, got %v", want, seen)
	}
}

func TestCoordinator_StoreFailureIsTransient(t *testing.T) {
	store := &fakeStore{failWith: errors.New("disk I/O error")}
	c := NewCoordinator(store)

	_, err := c.Create(context.Background(), CreateRequest{Name: "A"})
	if got := ErrorCode(err); got != ErrCodeDatabase {
		t.Fatalf("Expected code %s, got %s (%v)", ErrCodeDatabase, got, err)
	}
	if !IsTransient(err) {
		t.Errorf("Expected a transient error")
	}

	var ee *EngineError
	if errors.As(err, &ee) && ee.Operation != OperationCreate {
		t.Errorf("Expected operation %s, got %q", OperationCreate, ee.Operation)
	}
}

func TestCoordinator_SerializedWritesKeepGraphAcyclic(t *testing.T) {
	store := &fakeStore{}
	c := NewCoordinator(store)
	a := mustCreate(t, c, "A")
	b := mustCreate(t, c, "B")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	update := func(id, dep string) {
		defer wg.Done()
		deps := []string{dep}
		if _, err := c.Update(context.Background(), id, UpdateRequest{Dependencies: &deps}); err == nil {
			mu.Lock()
			successes++
			mu.Unlock()
		} else if ErrorCode(err) != ErrCodeCircularDependency {
			t.Errorf("Unexpected error: %v", err)
		}
	}

	wg.Add(2)
	go update(a.ID, b.ID)
	go update(b.ID, a.ID)
	wg.Wait()

	if successes != 1 {
		t.Errorf("Expected exactly one update to win, got %d", successes)
	}
	if _, err := c.List(context.Background()); err != nil {
		t.Errorf("Expected stored graph to stay acyclic, got: %v", err)
	}
}

func TestCoordinator_PublishesEvents(t *testing.T) {
	cfg := telemetry.QuietConfig()
	cfg.Logging.Output = "discard"
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	var types []string
	tel.Events.Subscribe(func(event telemetry.Event) {
		types = append(types, event.Type)
	}, nil)

	c := NewCoordinator(&fakeStore{}, WithTelemetry(tel))
	a := mustCreate(t, c, "A")
	b := mustCreate(t, c, "B", a.ID)

	deps := []string{b.ID}
	if _, err := c.Update(context.Background(), a.ID, UpdateRequest{Dependencies: &deps}); err == nil {
		t.Fatalf("Expected cycle to be rejected")
	}
	if _, err := c.Delete(context.Background(), a.ID, true); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	want := []string{
		telemetry.EventTypeResourceCreated,
		telemetry.EventTypeResourceCreated,
		telemetry.EventTypeResourceRejected,
		telemetry.EventTypeResourceDeleted,
	}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("Expected events %v, got %v", want, types)
	}
}

func TestCoordinator_RecordsMetrics(t *testing.T) {
	cfg := telemetry.QuietConfig()
	cfg.Logging.Output = "discard"
	cfg.Metrics.Enabled = true
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	c := NewCoordinator(&fakeStore{}, WithTelemetry(tel))
	a := mustCreate(t, c, "A")
	b := mustCreate(t, c, "B", a.ID)

	deps := []string{b.ID}
	_, _ = c.Update(context.Background(), a.ID, UpdateRequest{Dependencies: &deps})

	reg := tel.Metrics.Registry()
	if n, err := testutil.GatherAndCount(reg, "boo_resource_operation_errors_total"); err != nil || n != 1 {
		t.Errorf("Expected one error series, got %d (%v)", n, err)
	}
	if n, err := testutil.GatherAndCount(reg, "boo_cycles_rejected_total"); err != nil || n != 1 {
		t.Errorf("Expected one rejected cycle series, got %d (%v)", n, err)
	}
	if n, err := testutil.GatherAndCount(reg, "boo_resource_operations_total"); err != nil || n != 2 {
		t.Errorf("Expected success and error series for create and update, got %d (%v)", n, err)
	}
}
