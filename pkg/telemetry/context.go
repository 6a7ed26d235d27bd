package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer, metrics and event publisher built
// from one Config.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	t := &Telemetry{Logger: logger, Config: cfg}
	if t.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, errors.Join(err, logger.Close())
	}
	if t.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, errors.Join(err, logger.Close())
	}
	if t.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, errors.Join(err, logger.Close())
	}
	return t, nil
}

// Noop returns a bundle that discards logs and exports nothing.
func Noop() *Telemetry {
	cfg := QuietConfig()
	cfg.Events.Enabled = false

	t := &Telemetry{Logger: NewNopLogger(), Config: cfg}
	t.Metrics, _ = NewMetrics(cfg.Metrics)
	t.Events, _ = NewEventPublisher(cfg.Events)
	t.Tracer, _ = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	return t
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryContextKey{}, t))
}

// FromTelemetryContext returns the bundle stored by WithContext, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryContextKey{}).(*Telemetry)
	return t
}

// StartMetricsServer serves /metrics on the configured listen address until
// ctx is cancelled. It is a no-op when no address is set.
func (t *Telemetry) StartMetricsServer(ctx context.Context) error {
	return t.Metrics.StartMetricsServer(ctx, t.Logger)
}

// Shutdown drains queued events, flushes spans and closes the log file.
// Every component is stopped even if an earlier one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
		t.Logger.Close(),
	)
}

// Operation is one traced, timed unit of work. Ctx carries the span and a
// logger tagged with the operation.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation starts an operation using the telemetry stored in ctx. With
// none stored, the operation has no span and logs to the context logger.
func StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) *Operation {
	t := FromTelemetryContext(ctx)
	if t == nil {
		return &Operation{Ctx: ctx, Logger: FromContext(ctx), Timer: NewTimer()}
	}
	spanCtx, span := t.Tracer.StartSpan(ctx, name, attrs...)
	return newOperation(spanCtx, span, t.Logger.WithOperation(name))
}

// StartResourceOperation starts a coordinator operation on resourceID, which
// may be empty.
func (t *Telemetry) StartResourceOperation(ctx context.Context, operation, resourceID string) *Operation {
	spanCtx, span := t.Tracer.StartResourceSpan(ctx, operation, resourceID)

	logger := t.Logger.WithOperation(operation)
	if resourceID != "" {
		logger = logger.WithResourceID(resourceID)
	}
	return newOperation(spanCtx, span, logger)
}

func newOperation(ctx context.Context, span trace.Span, logger *Logger) *Operation {
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}
	return &Operation{
		Ctx:    logger.WithContext(ctx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End sets the span status from err and ends it.
func (op *Operation) End(err error) {
	if op.Span == nil {
		return
	}
	if err != nil {
		RecordError(op.Span, err)
	} else {
		RecordSuccess(op.Span)
	}
	op.Span.End()
}
