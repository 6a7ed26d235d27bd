package engine

// Snapshot is an immutable, request-scoped index over the full resource collection.
// It is built once per validating or ordering operation and then discarded.
type Snapshot struct {
	// ids lists resource IDs in collection order
	ids []string

	// resources maps resource IDs to their records
	resources map[string]*Resource

	// dependencies maps resource IDs to their de-duplicated dependency IDs
	dependencies map[string][]string

	// dependents maps resource IDs to the IDs that depend on them
	dependents map[string][]string

	// byName maps names to every resource ID carrying that name
	byName map[string][]string
}

// NewSnapshot indexes the given collection. If an ID appears more than once the
// first record wins.
func NewSnapshot(resources []Resource) *Snapshot {
	s := &Snapshot{
		ids:          make([]string, 0, len(resources)),
		resources:    make(map[string]*Resource, len(resources)),
		dependencies: make(map[string][]string, len(resources)),
		dependents:   make(map[string][]string),
		byName:       make(map[string][]string),
	}

	// First pass: index all resources
	for i := range resources {
		r := &resources[i]
		if _, exists := s.resources[r.ID]; exists {
			continue
		}
		s.ids = append(s.ids, r.ID)
		s.resources[r.ID] = r
		s.dependencies[r.ID] = dedupe(r.Dependencies)
		s.byName[r.Name] = append(s.byName[r.Name], r.ID)
	}

	// Second pass: reverse edges, in collection order
	for _, id := range s.ids {
		for _, dep := range s.dependencies[id] {
			s.dependents[dep] = append(s.dependents[dep], id)
		}
	}

	return s
}

// Len returns the number of resources in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.ids)
}

// IDs returns the resource IDs in collection order.
func (s *Snapshot) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Has reports whether id names a resource in the snapshot.
func (s *Snapshot) Has(id string) bool {
	_, ok := s.resources[id]
	return ok
}

// Get returns the resource with the given ID, or nil.
func (s *Snapshot) Get(id string) *Resource {
	return s.resources[id]
}

// Dependencies returns the stored dependency IDs of id. The result may include
// IDs of resources that no longer exist.
func (s *Snapshot) Dependencies(id string) []string {
	return s.dependencies[id]
}

// Dependents returns the IDs of resources that directly depend on id.
func (s *Snapshot) Dependents(id string) []string {
	return s.dependents[id]
}

// CascadeSet returns id followed by every resource that depends on it directly
// or transitively, in breadth-first order. It returns nil if id is unknown.
func (s *Snapshot) CascadeSet(id string) []string {
	if !s.Has(id) {
		return nil
	}

	seen := map[string]bool{id: true}
	result := []string{id}

	for i := 0; i < len(result); i++ {
		for _, dependent := range s.dependents[result[i]] {
			if seen[dependent] {
				continue
			}
			seen[dependent] = true
			result = append(result, dependent)
		}
	}

	return result
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
