package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the coordinator, policy engine and seeder.
const (
	EventTypeResourceCreated  = "resource.created"
	EventTypeResourceUpdated  = "resource.updated"
	EventTypeResourceDeleted  = "resource.deleted"
	EventTypeResourceRejected = "resource.rejected"
	EventTypePolicyViolation  = "policy.violation"
	EventTypeCatalogSeeded    = "catalog.seeded"
	EventTypeError            = "error"
)

// Event levels, lowest first.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var eventLevelRank = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

var (
	ErrPublisherStopped = errors.New("event publisher stopped")
	ErrEventBufferFull  = errors.New("event buffer full, event dropped")
)

// Event is a domain event. ID and Timestamp are filled in on Publish when
// left empty.
type Event struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Type       string                 `json:"type"`
	Source     string                 `json:"source"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Operation  string                 `json:"operation,omitempty"`
	Message    string                 `json:"message"`
	Level      string                 `json:"level"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to subscribers. In async mode events are
// queued and delivered from a single goroutine, so subscribers never run
// concurrently with each other.
type EventPublisher struct {
	cfg   EventsConfig
	queue chan Event

	mu            sync.RWMutex
	subscriptions []subscription
	filters       []EventFilter

	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}
}

// NewEventPublisher returns a publisher for cfg. A disabled publisher accepts
// and drops every event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{cfg: cfg}
	if !cfg.Enabled {
		return ep, nil
	}

	if ep.cfg.MaxBatchSize <= 0 {
		ep.cfg.MaxBatchSize = 1
	}

	ctx, stop := context.WithCancel(context.Background())
	ep.ctx, ep.stop = ctx, stop
	ep.done = make(chan struct{})

	if !cfg.EnableAsync {
		close(ep.done)
		return ep, nil
	}

	ep.queue = make(chan Event, cfg.BufferSize)
	go ep.run(ctx)
	return ep, nil
}

// Publish stamps event and delivers it, or queues it in async mode. A full
// queue drops the event and returns ErrEventBufferFull.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.cfg.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if !ep.accepts(event) {
		return nil
	}

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}

	select {
	case <-ep.ctx.Done():
		return ErrPublisherStopped
	default:
	}

	select {
	case ep.queue <- event:
		return nil
	default:
		return ErrEventBufferFull
	}
}

func (ep *EventPublisher) accepts(event Event) bool {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, f := range ep.filters {
		if !f(event) {
			return false
		}
	}
	return true
}

// Subscribe registers fn for events passing filter. A nil filter receives
// everything.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	ep.subscriptions = append(ep.subscriptions, subscription{fn: fn, filter: filter})
	ep.mu.Unlock()
}

// AddFilter drops events failing filter before they reach any subscriber.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	ep.filters = append(ep.filters, filter)
	ep.mu.Unlock()
}

// Shutdown stops the delivery goroutine after it drains the queue, or returns
// when ctx expires.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.cfg.Enabled {
		return nil
	}

	ep.stop()
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// run delivers queued events in batches of MaxBatchSize. A partial batch goes
// out every FlushInterval and on shutdown.
func (ep *EventPublisher) run(ctx context.Context) {
	defer close(ep.done)

	var tick <-chan time.Time
	if ep.cfg.FlushInterval > 0 {
		ticker := time.NewTicker(ep.cfg.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	batch := make([]Event, 0, ep.cfg.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliver(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.queue:
			if batch = append(batch, event); len(batch) >= ep.cfg.MaxBatchSize {
				flush()
			}
		case <-tick:
			flush()
		case <-ctx.Done():
		drain:
			for {
				select {
				case event := <-ep.queue:
					batch = append(batch, event)
				default:
					break drain
				}
			}
			flush()
			return
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	subs := append([]subscription(nil), ep.subscriptions...)
	ep.mu.RUnlock()

	for _, s := range subs {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

func (ep *EventPublisher) PublishResourceCreated(resourceID, name string, dependencies []string) error {
	return ep.Publish(Event{
		Type:       EventTypeResourceCreated,
		Source:     "coordinator",
		ResourceID: resourceID,
		Operation:  "create",
		Level:      EventLevelInfo,
		Message:    fmt.Sprintf("Resource %s (%s) created with %d dependencies", resourceID, name, len(dependencies)),
		Data:       map[string]interface{}{"name": name, "dependencies": dependencies},
	})
}

// PublishResourceUpdated records which fields an update or completion changed.
func (ep *EventPublisher) PublishResourceUpdated(resourceID, operation string, fields []string) error {
	return ep.Publish(Event{
		Type:       EventTypeResourceUpdated,
		Source:     "coordinator",
		ResourceID: resourceID,
		Operation:  operation,
		Level:      EventLevelInfo,
		Message:    fmt.Sprintf("Resource %s updated: %s", resourceID, strings.Join(fields, ", ")),
		Data:       map[string]interface{}{"fields": fields},
	})
}

// PublishResourceDeleted records a delete. removed lists every ID taken out,
// target first.
func (ep *EventPublisher) PublishResourceDeleted(resourceID string, removed []string, cascade bool) error {
	return ep.Publish(Event{
		Type:       EventTypeResourceDeleted,
		Source:     "coordinator",
		ResourceID: resourceID,
		Operation:  "delete",
		Level:      EventLevelInfo,
		Message:    fmt.Sprintf("Resource %s deleted (%d removed)", resourceID, len(removed)),
		Data:       map[string]interface{}{"removed": removed, "cascade": cascade},
	})
}

// PublishResourceRejected records a write refused with an engine error code.
func (ep *EventPublisher) PublishResourceRejected(operation, resourceID, code, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeResourceRejected,
		Source:     "coordinator",
		ResourceID: resourceID,
		Operation:  operation,
		Level:      EventLevelWarning,
		Message:    fmt.Sprintf("%s rejected: %s", operation, reason),
		Data:       map[string]interface{}{"code": code, "reason": reason},
	})
}

func (ep *EventPublisher) PublishPolicyViolation(resourceID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypePolicyViolation,
		Source:     "policy_engine",
		ResourceID: resourceID,
		Level:      EventLevelError,
		Message:    fmt.Sprintf("Policy %s rejected resource %s: %s", policyName, resourceID, reason),
		Data:       map[string]interface{}{"policy": policyName, "reason": reason},
	})
}

func (ep *EventPublisher) PublishCatalogSeeded(source string, created int) error {
	return ep.Publish(Event{
		Type:    EventTypeCatalogSeeded,
		Source:  "seeder",
		Level:   EventLevelInfo,
		Message: fmt.Sprintf("Seeded %d resources from %s", created, source),
		Data:    map[string]interface{}{"source": source, "created": created},
	})
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	threshold := eventLevelRank[minLevel]
	return func(event Event) bool {
		return eventLevelRank[event.Level] >= threshold
	}
}

// FilterByType passes events whose type is one of types.
func FilterByType(types ...string) EventFilter {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return func(event Event) bool {
		_, ok := allowed[event.Type]
		return ok
	}
}

func FilterByOperation(operation string) EventFilter {
	return func(event Event) bool { return event.Operation == operation }
}

func FilterByResourceID(resourceID string) EventFilter {
	return func(event Event) bool { return event.ResourceID == resourceID }
}
