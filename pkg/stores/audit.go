package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boolearner/boolearner/pkg/telemetry"
)

// auditedEvents are the event types persisted to the audit trail.
var auditedEvents = []string{
	telemetry.EventTypeResourceCreated,
	telemetry.EventTypeResourceUpdated,
	telemetry.EventTypeResourceDeleted,
	telemetry.EventTypeResourceRejected,
	telemetry.EventTypePolicyViolation,
	telemetry.EventTypeCatalogSeeded,
}

// AuditSubscriber returns an event subscriber that records domain events as
// audit entries, along with the filter selecting which events it accepts.
// Write failures are logged and otherwise ignored.
func AuditSubscriber(store Store, logger *telemetry.Logger) (telemetry.EventSubscriber, telemetry.EventFilter) {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	logger = logger.NewComponentLogger("audit")

	subscriber := func(event telemetry.Event) {
		entry := &AuditEntry{
			Action:    event.Type,
			Actor:     event.Source,
			Timestamp: event.Timestamp.UTC(),
		}
		if event.ResourceID != "" {
			id := event.ResourceID
			entry.TargetID = &id
		}

		details := map[string]interface{}{"message": event.Message}
		if event.Operation != "" {
			details["operation"] = event.Operation
		}
		for k, v := range event.Data {
			details[k] = v
		}
		if data, err := json.Marshal(details); err == nil {
			s := string(data)
			entry.Details = &s
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := store.CreateAuditEntry(ctx, entry); err != nil {
			logger.WithError(err).WithField("action", event.Type).Warn("Failed to record audit entry")
		}
	}

	return subscriber, telemetry.FilterByType(auditedEvents...)
}

// AttachAudit subscribes the audit trail to the publisher. A nil publisher is ignored.
func AttachAudit(events *telemetry.EventPublisher, store Store, logger *telemetry.Logger) {
	if events == nil {
		return
	}
	events.Subscribe(AuditSubscriber(store, logger))
}
