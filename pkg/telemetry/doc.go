// Package telemetry provides observability instrumentation for the resource
// service.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and domain event publishing behind a
// single Telemetry value.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Components that are handed no telemetry fall back to Noop, which discards
// logs and records nothing.
//
// # Instrumenting Operations
//
// StartResourceOperation opens a span, tags a logger with the operation and
// resource ID, and starts a timer:
//
//	op := tel.StartResourceOperation(ctx, "update", id)
//	err := doUpdate(op.Ctx)
//	op.End(err)
//	tel.Metrics.RecordOperation("update", op.Timer.Duration())
//
// # Metrics
//
// Metrics live in a private registry and are served by Handler, either from
// the API router or from a standalone server when Metrics.ListenAddress is set.
// Series, all under the configured namespace:
//
//   - resource_operations_total{operation,status}
//   - resource_operation_duration_seconds{operation}
//   - resource_operation_errors_total{operation,error_type}
//   - resources
//   - cascade_delete_size
//   - cycles_rejected_total{operation}
//   - errors_by_class_total{class}
//   - errors_by_code_total{code}
//   - http_requests_total{method,route,code}
//
// # Events
//
// The event publisher delivers domain events (resource created, updated,
// deleted or rejected, policy violations, catalog seeding) to subscribers,
// either synchronously or through a buffered batch loop:
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Println(event.Type, event.ResourceID)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Shutdown drains buffered events before returning.
package telemetry
