package telemetry

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	logLevels      = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	traceExporters = []string{"otlp", "stdout", "none"}
)

// Config holds settings for every telemetry component.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string // development, test, production

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string // trace through fatal
	Format string // console or json
	Output string // stdout, stderr, discard or a file path

	EnableCaller bool

	// With sampling on, SamplingInitial lines per second pass, then one in
	// every SamplingThereafter.
	EnableSampling     bool
	SamplingInitial    int
	SamplingThereafter int

	TimeFormat string // rfc3339, unix, unixms or unixmicro
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled  bool
	Exporter string // otlp, stdout or none

	// Endpoint is the OTLP collector address, e.g. localhost:4317.
	Endpoint string
	Headers  map[string]string
	Insecure bool

	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress starts a standalone /metrics server. When empty the
	// registry is only exposed through the API router.
	ListenAddress string
	Path          string
	Namespace     string

	DefaultHistogramBuckets []float64
}

// EventsConfig configures the domain event publisher.
type EventsConfig struct {
	Enabled bool

	// EnableAsync queues events and delivers them in batches of up to
	// MaxBatchSize, at least every FlushInterval.
	EnableAsync   bool
	BufferSize    int
	FlushInterval time.Duration
	MaxBatchSize  int
}

// DefaultConfig returns the settings used by boo serve.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "boo-learner",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stdout",
			EnableCaller:       true,
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "stdout",
			Headers:            map[string]string{},
			Insecure:           true,
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "boo",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			EnableAsync:   true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
		},
	}
}

// ProductionConfig logs sampled JSON and exports 10% of traces over OTLP.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "localhost:4317"
	cfg.Tracing.Insecure = false
	cfg.Tracing.SamplingRate = 0.1
	return cfg
}

// QuietConfig is for tests and one-shot commands: warnings and errors go to
// stderr, events are delivered synchronously, and nothing is exported.
func QuietConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "test"
	cfg.Logging.Level = "warn"
	cfg.Logging.Output = "stderr"
	cfg.Logging.EnableCaller = false
	cfg.Metrics.Enabled = false
	cfg.Events.EnableAsync = false
	cfg.Events.FlushInterval = 0
	return cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.ServiceName == "":
		return errors.New("service name is required")
	case c.ServiceVersion == "":
		return errors.New("service version is required")
	case !slices.Contains(logLevels, c.Logging.Level):
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	case c.Logging.Format != "console" && c.Logging.Format != "json":
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	case c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1:
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	case c.Metrics.Enabled && c.Metrics.Path == "":
		return errors.New("metrics path is required when metrics are enabled")
	case c.Events.Enabled && c.Events.BufferSize <= 0:
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}

	if c.Tracing.Enabled {
		if !slices.Contains(traceExporters, c.Tracing.Exporter) {
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
			return errors.New("trace endpoint is required for the otlp exporter")
		}
	}
	return nil
}
