package stores

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boolearner/boolearner/pkg/engine"
)

var errStoreClosed = errors.New("store closed")

// MemoryStore is a process-local Store. Resources keep insertion order.
type MemoryStore struct {
	mu        sync.RWMutex
	order     []string
	resources map[string]*engine.Resource
	audit     []*AuditEntry
	closed    bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]*engine.Resource),
	}
}

func (m *MemoryStore) Init(_ context.Context) error    { return nil }
func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) HealthCheck(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errStoreClosed
	}
	return nil
}

func (m *MemoryStore) ListResources(_ context.Context) ([]engine.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]engine.Resource, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.resources[id].Clone())
	}
	return out, nil
}

func (m *MemoryStore) GetResource(_ context.Context, id string) (*engine.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.resources[id]
	if !ok {
		return nil, &engine.NotFoundError{ID: id}
	}
	return r.Clone(), nil
}

func (m *MemoryStore) SearchResources(_ context.Context, query string) ([]engine.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []engine.Resource{}
	for _, id := range m.order {
		r := m.resources[id]
		if query == "" || strings.Contains(r.Name, query) ||
			(r.Description != nil && strings.Contains(*r.Description, query)) {
			out = append(out, *r.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateResource(_ context.Context, r *engine.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	r.ID = uuid.New().String()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Dependencies == nil {
		r.Dependencies = []string{}
	}

	m.resources[r.ID] = r.Clone()
	m.order = append(m.order, r.ID)
	return nil
}

func (m *MemoryStore) UpdateResource(_ context.Context, id string, changes engine.ResourceChanges) (*engine.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.resources[id]
	if !ok {
		return nil, &engine.NotFoundError{ID: id}
	}

	r.Apply(changes)
	r.UpdatedAt = time.Now().UTC()

	return r.Clone(), nil
}

func (m *MemoryStore) DeleteResources(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, ok := m.resources[id]; ok {
			delete(m.resources, id)
			removed++
		}
	}

	if removed > 0 {
		kept := m.order[:0]
		for _, id := range m.order {
			if _, ok := m.resources[id]; ok {
				kept = append(kept, id)
			}
		}
		m.order = kept
	}
	return removed, nil
}

func (m *MemoryStore) CreateAuditEntry(_ context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.ID = int64(len(m.audit) + 1)

	stored := *entry
	m.audit = append(m.audit, &stored)
	return nil
}

// ListAuditEntries lists audit entries, newest first, with an optional action filter
func (m *MemoryStore) ListAuditEntries(_ context.Context, action *string, limit, offset int) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []*AuditEntry{}
	skipped := 0
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if action != nil && e.Action != *action {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(entries) >= limit {
			break
		}
		copied := *e
		entries = append(entries, &copied)
	}
	return entries, nil
}
