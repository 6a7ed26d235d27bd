package engine

import (
	"context"
)

// ResourceStore persists resources and their dependency lists.
// The coordinator is the only writer; every graph rule is enforced before a
// store method is called, so implementations only need to be durable.
type ResourceStore interface {
	// ListResources returns every stored resource in a stable order.
	ListResources(ctx context.Context) ([]Resource, error)

	// GetResource returns one resource. It returns a *NotFoundError when the
	// ID is unknown.
	GetResource(ctx context.Context, id string) (*Resource, error)

	// SearchResources returns resources whose name or description contains
	// query as a case-sensitive substring.
	SearchResources(ctx context.Context, query string) ([]Resource, error)

	// CreateResource stores r, assigning its ID and timestamps in place.
	CreateResource(ctx context.Context, r *Resource) error

	// UpdateResource applies the non-nil fields of changes and returns the
	// stored result. It returns a *NotFoundError when the ID is unknown.
	UpdateResource(ctx context.Context, id string, changes ResourceChanges) (*Resource, error)

	// DeleteResources removes every listed resource in one atomic step and
	// reports how many existed. Unknown IDs are ignored.
	DeleteResources(ctx context.Context, ids []string) (int, error)
}

// Admitter is an optional hook consulted after graph validation and before a
// create or update reaches the store. Returning an error rejects the write.
type Admitter interface {
	Admit(ctx context.Context, operation string, r *Resource) error
}

// AdmitterFunc adapts an ordinary function to the Admitter interface.
type AdmitterFunc func(ctx context.Context, operation string, r *Resource) error

// Admit calls f(ctx, operation, r).
func (f AdmitterFunc) Admit(ctx context.Context, operation string, r *Resource) error {
	return f(ctx, operation, r)
}
