package engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/boolearner/boolearner/pkg/telemetry"
)

// Coordinator sequences dependency resolution, graph validation, admission and
// persistence for every resource operation. It is the only component that
// writes to the store.
type Coordinator struct {
	store    ResourceStore
	admitter Admitter
	tel      *telemetry.Telemetry

	// serializeWrites guards snapshot -> validate -> commit with writeMu
	serializeWrites bool
	writeMu         sync.Mutex
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTelemetry attaches logging, tracing, metrics and events.
func WithTelemetry(tel *telemetry.Telemetry) CoordinatorOption {
	return func(c *Coordinator) {
		if tel != nil {
			c.tel = tel
		}
	}
}

// WithAdmitter installs an admission hook run before creates and updates.
func WithAdmitter(a Admitter) CoordinatorOption {
	return func(c *Coordinator) {
		c.admitter = a
	}
}

// WithSerializedWrites toggles the process-wide write mutex. It is on by default.
func WithSerializedWrites(enabled bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.serializeWrites = enabled
	}
}

// NewCoordinator creates a coordinator over store.
func NewCoordinator(store ResourceStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:           store,
		tel:             telemetry.Noop(),
		serializeWrites: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create validates and stores a new resource. Dependencies may be given by ID
// or by name; the stored resource holds IDs only. Nothing is written when any
// step fails.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*Resource, error) {
	var created *Resource
	err := c.run(ctx, OperationCreate, "", func(ctx context.Context, logger *telemetry.Logger) error {
		if strings.TrimSpace(req.Name) == "" {
			return validationError("resource name is required").WithDetail("field", "name")
		}

		unlock := c.lockWrites()
		defer unlock()

		snap, err := c.snapshot(ctx)
		if err != nil {
			return err
		}

		deps, err := c.validateDependencies(ctx, snap, NewResourceID, req.Dependencies)
		if err != nil {
			return err
		}

		r := &Resource{
			Name:         req.Name,
			Description:  cloneString(req.Description),
			Dependencies: deps,
		}
		if err := c.admit(ctx, OperationCreate, r); err != nil {
			return err
		}

		if err := c.store.CreateResource(ctx, r); err != nil {
			return storeError("failed to create resource", err)
		}

		c.tel.Metrics.AddResourceCount(1)
		_ = c.tel.Events.PublishResourceCreated(r.ID, r.Name, r.Dependencies)
		logger.WithResourceID(r.ID).WithField("dependencies", len(deps)).Info("resource created")

		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get returns a single resource.
func (c *Coordinator) Get(ctx context.Context, id string) (*Resource, error) {
	var found *Resource
	err := c.run(ctx, OperationRead, id, func(ctx context.Context, _ *telemetry.Logger) error {
		r, err := c.store.GetResource(ctx, id)
		if err != nil {
			return storeError("failed to get resource", err)
		}
		found = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// List returns every resource with prerequisites ahead of their dependents.
func (c *Coordinator) List(ctx context.Context) ([]Resource, error) {
	var ordered []Resource
	err := c.run(ctx, OperationList, "", func(ctx context.Context, _ *telemetry.Logger) error {
		all, err := c.listAll(ctx)
		if err != nil {
			return err
		}

		ordered, err = Order(all)
		if err != nil {
			return classify("stored dependency graph is inconsistent", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ordered, nil
}

// Update applies a partial update. When Dependencies is supplied it is resolved
// and checked against the current graph with this resource's edges replaced.
func (c *Coordinator) Update(ctx context.Context, id string, req UpdateRequest) (*Resource, error) {
	var updated *Resource
	err := c.run(ctx, OperationUpdate, id, func(ctx context.Context, logger *telemetry.Logger) error {
		if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
			return validationError("resource name cannot be empty").WithDetail("field", "name")
		}

		unlock := c.lockWrites()
		defer unlock()

		existing, err := c.store.GetResource(ctx, id)
		if err != nil {
			return storeError("failed to load resource", err)
		}

		changes := ResourceChanges{
			Name:        req.Name,
			Description: req.Description,
		}

		if req.Dependencies != nil {
			snap, err := c.snapshot(ctx)
			if err != nil {
				return err
			}

			deps, err := c.validateDependencies(ctx, snap, id, *req.Dependencies)
			if err != nil {
				return err
			}
			changes.Dependencies = &deps
		}

		proposed := existing.Clone()
		proposed.Apply(changes)
		if err := c.admit(ctx, OperationUpdate, proposed); err != nil {
			return err
		}

		result, err := c.store.UpdateResource(ctx, id, changes)
		if err != nil {
			return storeError("failed to update resource", err)
		}

		fields := changes.Fields()
		_ = c.tel.Events.PublishResourceUpdated(id, OperationUpdate, fields)
		logger.WithField("fields", fields).Info("resource updated")

		updated = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetCompleted records learner progress on a resource. The graph is untouched.
func (c *Coordinator) SetCompleted(ctx context.Context, id string, completed bool) (*Resource, error) {
	var updated *Resource
	err := c.run(ctx, OperationComplete, id, func(ctx context.Context, logger *telemetry.Logger) error {
		unlock := c.lockWrites()
		defer unlock()

		changes := ResourceChanges{Completed: &completed}
		result, err := c.store.UpdateResource(ctx, id, changes)
		if err != nil {
			return storeError("failed to update resource", err)
		}

		_ = c.tel.Events.PublishResourceUpdated(id, OperationComplete, changes.Fields())
		logger.WithField("completed", completed).Info("resource progress updated")

		updated = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a resource and returns the IDs that were removed.
//
// Without cascade exactly one resource is removed; resources that depended on
// it keep a dangling reference. With cascade every resource that transitively
// depends on id is removed with it in a single store call.
func (c *Coordinator) Delete(ctx context.Context, id string, cascade bool) ([]string, error) {
	var deleted []string
	err := c.run(ctx, OperationDelete, id, func(ctx context.Context, logger *telemetry.Logger) error {
		unlock := c.lockWrites()
		defer unlock()

		ids := []string{id}
		if cascade {
			snap, err := c.snapshot(ctx)
			if err != nil {
				return err
			}
			if ids = snap.CascadeSet(id); ids == nil {
				return classify("resource not found", &NotFoundError{ID: id})
			}
		}

		n, err := c.store.DeleteResources(ctx, ids)
		if err != nil {
			return storeError("failed to delete resources", err)
		}
		if n == 0 {
			return classify("resource not found", &NotFoundError{ID: id})
		}

		if cascade {
			c.tel.Metrics.RecordCascadeDelete(n)
		}
		c.tel.Metrics.AddResourceCount(-n)
		_ = c.tel.Events.PublishResourceDeleted(id, ids, cascade)
		logger.WithFields(map[string]interface{}{
			"cascade": cascade,
			"removed": n,
		}).Info("resource deleted")

		deleted = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// DeleteAll removes every stored resource and reports how many were removed.
func (c *Coordinator) DeleteAll(ctx context.Context) (int, error) {
	var removed int
	err := c.run(ctx, OperationDelete, "", func(ctx context.Context, logger *telemetry.Logger) error {
		unlock := c.lockWrites()
		defer unlock()

		snap, err := c.snapshot(ctx)
		if err != nil {
			return err
		}
		if snap.Len() == 0 {
			return nil
		}

		removed, err = c.store.DeleteResources(ctx, snap.IDs())
		if err != nil {
			return storeError("failed to delete resources", err)
		}

		c.tel.Metrics.SetResourceCount(0)
		logger.WithField("removed", removed).Info("all resources deleted")
		return nil
	})
	return removed, err
}

// Search returns resources whose name or description contains query, ordered
// so that prerequisites within the result come first. An empty query matches
// everything.
func (c *Coordinator) Search(ctx context.Context, query string) ([]Resource, error) {
	var ordered []Resource
	err := c.run(ctx, OperationSearch, "", func(ctx context.Context, _ *telemetry.Logger) error {
		found, err := c.store.SearchResources(ctx, query)
		if err != nil {
			return storeError("failed to search resources", err)
		}

		ordered, err = Order(found)
		if err != nil {
			return classify("stored dependency graph is inconsistent", err)
		}

		telemetry.SetAttributes(telemetry.SpanFromContext(ctx),
			telemetry.AttrSearchQuery.String(query),
			telemetry.AttrResultCount.Int(len(ordered)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ordered, nil
}

// Levels groups the full collection into learning tiers.
func (c *Coordinator) Levels(ctx context.Context) ([][]Resource, error) {
	var levels [][]Resource
	err := c.run(ctx, OperationLevels, "", func(ctx context.Context, _ *telemetry.Logger) error {
		all, err := c.listAll(ctx)
		if err != nil {
			return err
		}

		levels, err = Levels(all)
		if err != nil {
			return classify("stored dependency graph is inconsistent", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return levels, nil
}

// run instruments one operation: span, duration, per-operation metrics, and a
// log line and rejection event on failure. Every error leaving run is an
// *EngineError carrying the operation.
func (c *Coordinator) run(ctx context.Context, operation, resourceID string, fn func(context.Context, *telemetry.Logger) error) error {
	op := c.tel.StartResourceOperation(ctx, operation, resourceID)
	err := fn(op.Ctx, op.Logger)
	op.End(err)
	duration := op.Timer.Duration()

	if err == nil {
		c.tel.Metrics.RecordOperation(operation, duration)
		return nil
	}

	ee := asEngineError(err, operation, resourceID)
	errType := errorType(ee)

	c.tel.Metrics.RecordOperationError(operation, errType, duration)
	c.tel.Metrics.RecordError(string(ee.Class), ee.Code)
	if errType == "circular_dependency" {
		c.tel.Metrics.RecordCycleRejected(operation)
	}

	logger := op.Logger.WithError(err).WithField("code", ee.Code)
	if ee.Class == ErrorClassTransient {
		logger.Error("resource operation failed")
		return ee
	}
	logger.Debug("resource operation rejected")

	if isWrite(operation) && (errType == "validation" || errType == "circular_dependency") {
		reason := ee.Message
		if ee.Err != nil {
			reason = ee.Err.Error()
		}
		_ = c.tel.Events.PublishResourceRejected(operation, resourceID, ee.Code, reason)
	}
	return ee
}

// snapshot loads the full collection into a request-scoped index.
func (c *Coordinator) snapshot(ctx context.Context) (*Snapshot, error) {
	all, err := c.listAll(ctx)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(all), nil
}

func (c *Coordinator) listAll(ctx context.Context) ([]Resource, error) {
	all, err := c.store.ListResources(ctx)
	if err != nil {
		return nil, storeError("failed to list resources", err)
	}
	c.tel.Metrics.SetResourceCount(len(all))
	return all, nil
}

// validateDependencies resolves refs against snap, confirms each resolved ID
// still exists in the store, and checks that candidateID taking them as its
// dependency set keeps the graph acyclic.
func (c *Coordinator) validateDependencies(ctx context.Context, snap *Snapshot, candidateID string, refs []string) ([]string, error) {
	resolved, err := snap.Resolve(refs)
	if err != nil {
		return nil, classify("invalid dependency", err)
	}

	for _, id := range resolved {
		if _, err := c.store.GetResource(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, classify("invalid dependency", &UnknownDependencyError{ID: id})
			}
			return nil, storeError("failed to verify dependency", err)
		}
	}

	if err := CheckCycle(snap, candidateID, resolved); err != nil {
		return nil, classify("dependency graph rejected", err)
	}

	return resolved, nil
}

func (c *Coordinator) admit(ctx context.Context, operation string, r *Resource) error {
	if c.admitter == nil {
		return nil
	}

	err := c.admitter.Admit(ctx, operation, r)
	if err == nil {
		return nil
	}

	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return NewPermanentError("rejected by admission policy", err).WithCode(ErrCodePolicyViolation)
}

func (c *Coordinator) lockWrites() func() {
	if !c.serializeWrites {
		return func() {}
	}
	c.writeMu.Lock()
	return c.writeMu.Unlock
}

func validationError(message string) *EngineError {
	return NewPermanentError(message, nil).WithCode(ErrCodeValidation)
}

// storeError classifies a store failure. Missing resources become NOT_FOUND;
// anything else is a transient database error.
func storeError(message string, err error) error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return classify("resource not found", nf)
	}
	return NewTransientError(message, err).WithCode(ErrCodeDatabase)
}

func asEngineError(err error, operation, resourceID string) *EngineError {
	var ee *EngineError
	if !errors.As(err, &ee) {
		ee = NewTransientError("unexpected failure", err).WithCode(ErrCodeInternal)
	}
	if ee.Operation == "" {
		ee.Operation = operation
	}
	if ee.Resource == "" {
		ee.Resource = resourceID
	}
	return ee
}

// errorType maps an error code to the metric label used for operation errors.
func errorType(ee *EngineError) string {
	switch ee.Code {
	case ErrCodeNotFound:
		return "not_found"
	case ErrCodeCircularDependency, ErrCodeSelfDependency:
		return "circular_dependency"
	case ErrCodeDatabase, ErrCodeInternal:
		return "database"
	default:
		return "validation"
	}
}

func isWrite(operation string) bool {
	switch operation {
	case OperationCreate, OperationUpdate, OperationDelete, OperationComplete:
		return true
	}
	return false
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
