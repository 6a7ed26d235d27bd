package config

import (
	"context"
	"fmt"

	"github.com/boolearner/boolearner/pkg/engine"
	"github.com/boolearner/boolearner/pkg/telemetry"
)

// SeedOptions controls Seed.
type SeedOptions struct {
	// Reset deletes every stored resource before seeding.
	Reset bool

	// Source labels the catalog in events and results.
	Source string

	// Events receives a catalog.seeded event when seeding finishes. Optional.
	Events *telemetry.EventPublisher
}

// SeedResult reports what Seed did.
type SeedResult struct {
	Source  string            `json:"source"`
	Removed int               `json:"removed"`
	Created []engine.Resource `json:"created"`
	Skipped []string          `json:"skipped,omitempty"`
}

// Seed creates the catalog's courses through the coordinator, prerequisites
// first, so every seeded edge passes the same checks as an API write. Courses
// whose name is already stored are skipped, which makes seeding repeatable.
func Seed(ctx context.Context, c *engine.Coordinator, catalog *Catalog, opts SeedOptions) (*SeedResult, error) {
	result := &SeedResult{Source: opts.Source}

	if opts.Reset {
		removed, err := c.DeleteAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to reset resources: %w", err)
		}
		result.Removed = removed
	}

	ordered, err := OrderCatalog(catalog)
	if err != nil {
		return nil, err
	}

	existing, err := c.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	stored := make(map[string]bool, len(existing))
	for _, r := range existing {
		stored[r.Name] = true
	}

	for _, entry := range ordered {
		if stored[entry.Name] {
			result.Skipped = append(result.Skipped, entry.Name)
			continue
		}

		created, err := c.Create(ctx, engine.CreateRequest{
			Name:         entry.Name,
			Description:  entry.Description,
			Dependencies: entry.Dependencies,
		})
		if err != nil {
			return result, fmt.Errorf("failed to seed %q: %w", entry.Name, err)
		}

		if entry.Completed {
			if created, err = c.SetCompleted(ctx, created.ID, true); err != nil {
				return result, fmt.Errorf("failed to mark %q completed: %w", entry.Name, err)
			}
		}

		stored[entry.Name] = true
		result.Created = append(result.Created, *created)
	}

	if opts.Events != nil {
		_ = opts.Events.PublishCatalogSeeded(opts.Source, len(result.Created))
	}

	return result, nil
}

// OrderCatalog sorts entries so each follows its in-catalog prerequisites,
// keeping file order otherwise. Names act as IDs for the ordering.
func OrderCatalog(catalog *Catalog) ([]CourseEntry, error) {
	byName := make(map[string]CourseEntry, len(catalog.Courses))
	resources := make([]engine.Resource, len(catalog.Courses))
	for i, entry := range catalog.Courses {
		byName[entry.Name] = entry
		resources[i] = engine.Resource{
			ID:           entry.Name,
			Name:         entry.Name,
			Dependencies: entry.Dependencies,
		}
	}

	ordered, err := engine.Order(resources)
	if err != nil {
		return nil, fmt.Errorf("catalog is not acyclic: %w", err)
	}

	entries := make([]CourseEntry, len(ordered))
	for i, r := range ordered {
		entries[i] = byName[r.ID]
	}
	return entries, nil
}
