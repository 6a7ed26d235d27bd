package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Values of the status label on resource_operations_total.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds the service's Prometheus collectors in a private registry.
// When disabled every recorder is a no-op.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec

	resources         prometheus.Gauge
	cascadeDeleteSize prometheus.Histogram
	cyclesRejected    *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
}

func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	m := &Metrics{config: cfg}
	if !cfg.Enabled {
		return m, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m.registry = prometheus.NewRegistry()
	factory := promauto.With(m.registry)
	ns := cfg.Namespace

	m.operations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "resource_operations_total",
		Help: "Resource operations by outcome.",
	}, []string{"operation", "status"})

	m.operationDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: "resource_operation_duration_seconds",
		Help:    "Resource operation latency.",
		Buckets: buckets,
	}, []string{"operation"})

	m.operationErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "resource_operation_errors_total",
		Help: "Failed resource operations by error type.",
	}, []string{"operation", "error_type"})

	m.resources = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "resources",
		Help: "Resources in the store as of the last full read.",
	})

	m.cascadeDeleteSize = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "cascade_delete_size",
		Help:    "Resources removed per cascading delete.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
	})

	m.cyclesRejected = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "cycles_rejected_total",
		Help: "Writes rejected for closing a dependency cycle.",
	}, []string{"operation"})

	m.errorsByClass = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "errors_by_class_total",
		Help: "Engine errors by class.",
	}, []string{"class"})

	m.errorsByCode = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "errors_by_code_total",
		Help: "Engine errors by code.",
	}, []string{"code"})

	m.httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "http_requests_total",
		Help: "HTTP requests by route pattern and status.",
	}, []string{"method", "route", "code"})

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m.registry != nil
}

func (m *Metrics) RecordOperation(operation string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.operations.WithLabelValues(operation, StatusSuccess).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordOperationError(operation, errorType string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.operations.WithLabelValues(operation, StatusError).Inc()
	m.operationErrors.WithLabelValues(operation, errorType).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) SetResourceCount(count int) {
	if m.enabled() {
		m.resources.Set(float64(count))
	}
}

// AddResourceCount adjusts the gauge after writes that did not read the full
// collection.
func (m *Metrics) AddResourceCount(delta int) {
	if m.enabled() {
		m.resources.Add(float64(delta))
	}
}

func (m *Metrics) RecordCascadeDelete(size int) {
	if m.enabled() {
		m.cascadeDeleteSize.Observe(float64(size))
	}
}

func (m *Metrics) RecordCycleRejected(operation string) {
	if m.enabled() {
		m.cyclesRejected.WithLabelValues(operation).Inc()
	}
}

// RecordError counts an engine error by class and, when set, by code.
func (m *Metrics) RecordError(class, code string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// RecordHTTPRequest counts a request. route must be the router pattern so
// resource IDs never become label values.
func (m *Metrics) RecordHTTPRequest(method, route string, code int) {
	if m.enabled() {
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	}
}

// Registry returns nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in OpenMetrics format, or 404 when disabled.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer serves Handler on ListenAddress in the background until
// ctx is cancelled. Without an address it does nothing.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())
	srv := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).WithField("addr", srv.Addr).Error("metrics server stopped")
		}
	}()

	return nil
}

// Timer measures one operation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
