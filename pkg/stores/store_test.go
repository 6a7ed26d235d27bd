package stores

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/boolearner/boolearner/pkg/engine"
)

// storeFactories builds every Store implementation under the same behavior checks.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store {
			store := setupTestStore(t)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func strPtr(s string) *string { return &s }

func createResource(t *testing.T, store Store, name string, description *string, deps ...string) *engine.Resource {
	t.Helper()

	r := &engine.Resource{Name: name, Description: description, Dependencies: deps}
	if err := store.CreateResource(context.Background(), r); err != nil {
		t.Fatalf("failed to create resource %s: %v", name, err)
	}
	return r
}

func resourceIDs(resources []engine.Resource) []string {
	out := make([]string, len(resources))
	for i, r := range resources {
		out[i] = r.ID
	}
	return out
}

func TestResourceCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		intro := createResource(t, store, "Intro", strPtr("First steps"))
		if intro.ID == "" {
			t.Fatal("expected resource ID to be assigned")
		}
		if intro.CreatedAt.IsZero() || intro.UpdatedAt.IsZero() {
			t.Error("expected timestamps to be assigned")
		}
		if intro.Dependencies == nil {
			t.Error("expected empty, non-nil dependencies")
		}

		ds := createResource(t, store, "Data Structures", nil, intro.ID)

		got, err := store.GetResource(ctx, ds.ID)
		if err != nil {
			t.Fatalf("failed to get resource: %v", err)
		}
		if got.Name != "Data Structures" {
			t.Errorf("expected name Data Structures, got %s", got.Name)
		}
		if got.Description != nil {
			t.Errorf("expected nil description, got %q", *got.Description)
		}
		if !reflect.DeepEqual(got.Dependencies, []string{intro.ID}) {
			t.Errorf("expected dependencies %v, got %v", []string{intro.ID}, got.Dependencies)
		}

		got, err = store.GetResource(ctx, intro.ID)
		if err != nil {
			t.Fatalf("failed to get resource: %v", err)
		}
		if got.Description == nil || *got.Description != "First steps" {
			t.Errorf("expected description to round trip, got %v", got.Description)
		}
		if len(got.Dependencies) != 0 {
			t.Errorf("expected no dependencies, got %v", got.Dependencies)
		}
	})
}

func TestGetResourceNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		_, err := store.GetResource(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		var nf *engine.NotFoundError
		if !errors.As(err, &nf) || nf.ID != "missing" {
			t.Errorf("expected NotFoundError for missing, got %v", err)
		}
	})
}

func TestDependencyOrderPreserved(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		a := createResource(t, store, "A", nil)
		b := createResource(t, store, "B", nil)
		c := createResource(t, store, "C", nil)
		d := createResource(t, store, "D", nil, c.ID, a.ID, b.ID)

		got, err := store.GetResource(context.Background(), d.ID)
		if err != nil {
			t.Fatalf("failed to get resource: %v", err)
		}
		if want := []string{c.ID, a.ID, b.ID}; !reflect.DeepEqual(got.Dependencies, want) {
			t.Errorf("expected dependencies %v, got %v", want, got.Dependencies)
		}
	})
}

func TestListResourcesInsertionOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		listed, err := store.ListResources(ctx)
		if err != nil {
			t.Fatalf("failed to list empty store: %v", err)
		}
		if listed == nil || len(listed) != 0 {
			t.Errorf("expected empty, non-nil list, got %v", listed)
		}

		z := createResource(t, store, "Zeta", nil)
		a := createResource(t, store, "Alpha", nil, z.ID)
		m := createResource(t, store, "Mu", nil, a.ID, z.ID)

		listed, err = store.ListResources(ctx)
		if err != nil {
			t.Fatalf("failed to list resources: %v", err)
		}
		if want := []string{z.ID, a.ID, m.ID}; !reflect.DeepEqual(resourceIDs(listed), want) {
			t.Errorf("expected order %v, got %v", want, resourceIDs(listed))
		}
		if want := []string{a.ID, z.ID}; !reflect.DeepEqual(listed[2].Dependencies, want) {
			t.Errorf("expected dependencies %v, got %v", want, listed[2].Dependencies)
		}
	})
}

func TestSearchResources(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		algo := createResource(t, store, "Algorithms", strPtr("Sorting and graphs"))
		theory := createResource(t, store, "Theory of Computation", strPtr("Automata and Algorithms"), algo.ID)
		createResource(t, store, "Networks", nil)

		tests := []struct {
			name  string
			query string
			want  []string
		}{
			{name: "name match", query: "Networks", want: nil},
			{name: "name or description", query: "Algorithms", want: []string{algo.ID, theory.ID}},
			{name: "description only", query: "Automata", want: []string{theory.ID}},
			{name: "case sensitive", query: "algorithms", want: []string{}},
			{name: "no match", query: "Biology", want: []string{}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				results, err := store.SearchResources(ctx, tt.query)
				if err != nil {
					t.Fatalf("failed to search: %v", err)
				}
				if results == nil {
					t.Fatal("expected non-nil results")
				}
				if tt.want == nil {
					if len(results) != 1 || results[0].Name != tt.query {
						t.Errorf("expected only %s, got %v", tt.query, results)
					}
					return
				}
				if got := resourceIDs(results); !reflect.DeepEqual(got, tt.want) {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			})
		}

		all, err := store.SearchResources(ctx, "")
		if err != nil {
			t.Fatalf("failed to search: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("expected empty query to match all 3 resources, got %d", len(all))
		}

		results, _ := store.SearchResources(ctx, "Theory")
		if len(results) != 1 || !reflect.DeepEqual(results[0].Dependencies, []string{algo.ID}) {
			t.Errorf("expected search results to carry dependencies, got %v", results)
		}
	})
}

func TestUpdateResource(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		a := createResource(t, store, "A", nil)
		b := createResource(t, store, "B", strPtr("bee"), a.ID)

		// Name only leaves everything else alone
		updated, err := store.UpdateResource(ctx, b.ID, engine.ResourceChanges{Name: strPtr("B2")})
		if err != nil {
			t.Fatalf("failed to update resource: %v", err)
		}
		if updated.Name != "B2" {
			t.Errorf("expected name B2, got %s", updated.Name)
		}
		if updated.Description == nil || *updated.Description != "bee" {
			t.Errorf("expected description to be kept, got %v", updated.Description)
		}
		if !reflect.DeepEqual(updated.Dependencies, []string{a.ID}) {
			t.Errorf("expected dependencies to be kept, got %v", updated.Dependencies)
		}
		if updated.UpdatedAt.Before(updated.CreatedAt) {
			t.Errorf("expected updated_at >= created_at")
		}

		// Empty dependency list clears
		cleared := []string{}
		done := true
		updated, err = store.UpdateResource(ctx, b.ID, engine.ResourceChanges{
			Dependencies: &cleared,
			Completed:    &done,
		})
		if err != nil {
			t.Fatalf("failed to update resource: %v", err)
		}
		if len(updated.Dependencies) != 0 {
			t.Errorf("expected dependencies to be cleared, got %v", updated.Dependencies)
		}
		if !updated.Completed {
			t.Error("expected resource to be completed")
		}

		got, err := store.GetResource(ctx, b.ID)
		if err != nil {
			t.Fatalf("failed to get resource: %v", err)
		}
		if got.Name != "B2" || !got.Completed || len(got.Dependencies) != 0 {
			t.Errorf("expected update to persist, got %+v", got)
		}

		_, err = store.UpdateResource(ctx, "missing", engine.ResourceChanges{Name: strPtr("x")})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestDeleteResources(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		a := createResource(t, store, "A", nil)
		b := createResource(t, store, "B", nil, a.ID)
		c := createResource(t, store, "C", nil, b.ID)

		removed, err := store.DeleteResources(ctx, nil)
		if err != nil || removed != 0 {
			t.Fatalf("expected no-op delete, got %d, %v", removed, err)
		}

		removed, err = store.DeleteResources(ctx, []string{b.ID, "missing"})
		if err != nil {
			t.Fatalf("failed to delete resources: %v", err)
		}
		if removed != 1 {
			t.Errorf("expected 1 resource removed, got %d", removed)
		}

		if _, err := store.GetResource(ctx, b.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected deleted resource to be gone, got %v", err)
		}

		// References held by survivors are left dangling
		got, err := store.GetResource(ctx, c.ID)
		if err != nil {
			t.Fatalf("failed to get resource: %v", err)
		}
		if !reflect.DeepEqual(got.Dependencies, []string{b.ID}) {
			t.Errorf("expected dangling reference to remain, got %v", got.Dependencies)
		}

		listed, err := store.ListResources(ctx)
		if err != nil {
			t.Fatalf("failed to list resources: %v", err)
		}
		if want := []string{a.ID, c.ID}; !reflect.DeepEqual(resourceIDs(listed), want) {
			t.Errorf("expected %v, got %v", want, resourceIDs(listed))
		}
	})
}

func TestAuditOperations(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		entries := []*AuditEntry{
			{Action: "resource.created", Actor: "coordinator", TargetID: strPtr("r1")},
			{Action: "resource.updated", Actor: "coordinator", TargetID: strPtr("r1")},
			{Action: "resource.created", Actor: "seed", Details: strPtr(`{"source":"builtin"}`)},
		}

		for _, entry := range entries {
			if err := store.CreateAuditEntry(ctx, entry); err != nil {
				t.Fatalf("failed to create audit entry: %v", err)
			}
			if entry.ID == 0 {
				t.Error("expected audit entry ID to be set after insert")
			}
			if entry.Timestamp.IsZero() {
				t.Error("expected audit timestamp to be set")
			}
		}

		all, err := store.ListAuditEntries(ctx, nil, 0, 0)
		if err != nil {
			t.Fatalf("failed to list audit entries: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 audit entries, got %d", len(all))
		}
		if all[0].Actor != "seed" || all[2].Action != "resource.created" {
			t.Errorf("expected newest first, got %s then %s", all[0].Actor, all[2].Actor)
		}

		action := "resource.created"
		filtered, err := store.ListAuditEntries(ctx, &action, 10, 0)
		if err != nil {
			t.Fatalf("failed to list filtered audit entries: %v", err)
		}
		if len(filtered) != 2 {
			t.Errorf("expected 2 resource.created entries, got %d", len(filtered))
		}

		page, err := store.ListAuditEntries(ctx, nil, 1, 1)
		if err != nil {
			t.Fatalf("failed to page audit entries: %v", err)
		}
		if len(page) != 1 || page[0].Action != "resource.updated" {
			t.Errorf("expected the middle entry, got %v", page)
		}
	})
}

func TestCoordinatorOverStores(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		c := engine.NewCoordinator(store)

		intro, err := c.Create(ctx, engine.CreateRequest{Name: "Intro"})
		if err != nil {
			t.Fatalf("failed to create: %v", err)
		}
		ds, err := c.Create(ctx, engine.CreateRequest{Name: "Data Structures", Dependencies: []string{"Intro"}})
		if err != nil {
			t.Fatalf("failed to create: %v", err)
		}
		algo, err := c.Create(ctx, engine.CreateRequest{Name: "Algorithms", Dependencies: []string{ds.ID}})
		if err != nil {
			t.Fatalf("failed to create: %v", err)
		}

		deps := []string{"Algorithms"}
		_, err = c.Update(ctx, intro.ID, engine.UpdateRequest{Dependencies: &deps})
		if engine.ErrorCode(err) != engine.ErrCodeCircularDependency {
			t.Fatalf("expected circular dependency, got %v", err)
		}

		deleted, err := c.Delete(ctx, intro.ID, true)
		if err != nil {
			t.Fatalf("failed to cascade delete: %v", err)
		}
		if want := []string{intro.ID, ds.ID, algo.ID}; !reflect.DeepEqual(deleted, want) {
			t.Errorf("expected cascade %v, got %v", want, deleted)
		}

		listed, err := store.ListResources(ctx)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(listed) != 0 {
			t.Errorf("expected empty store, got %d resources", len(listed))
		}
	})
}
