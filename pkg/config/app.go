package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/boolearner/boolearner/pkg/policy"
	"github.com/boolearner/boolearner/pkg/stores"
	"github.com/boolearner/boolearner/pkg/telemetry"
)

// AppConfig is the service configuration. It is read from an optional YAML
// file and then overridden from the environment.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Engine    EngineConfig    `yaml:"engine"`
	Policy    PolicyConfig    `yaml:"policy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" validate:"required"`
	CORSOrigins     []string      `yaml:"cors_origins" validate:"dive,required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

// EngineConfig configures the resource coordinator.
type EngineConfig struct {
	SerializeWrites bool `yaml:"serialize_writes"`
}

// PolicyConfig configures admission policies.
type PolicyConfig struct {
	Enabled              bool     `yaml:"enabled"`
	Paths                []string `yaml:"paths" validate:"dive,required"`
	Watch                bool     `yaml:"watch"`
	MaxNameLength        int      `yaml:"max_name_length" validate:"gte=0"`
	MaxDescriptionLength int      `yaml:"max_description_length" validate:"gte=0"`
	MaxDependencies      int      `yaml:"max_dependencies" validate:"gte=0"`
}

// TelemetryConfig is the file-facing subset of telemetry.Config.
type TelemetryConfig struct {
	Environment   string  `yaml:"environment"`
	LogLevel      string  `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat     string  `yaml:"log_format" validate:"omitempty,oneof=console json"`
	LogOutput     string  `yaml:"log_output"`
	Tracing       bool    `yaml:"tracing"`
	TraceExporter string  `yaml:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TraceEndpoint string  `yaml:"trace_endpoint"`
	SamplingRate  float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	Metrics       bool    `yaml:"metrics"`
	MetricsAddr   string  `yaml:"metrics_addr"`
	Events        bool    `yaml:"events"`
}

// DefaultAppConfig returns the configuration used when no file is given.
func DefaultAppConfig() *AppConfig {
	limits := policy.DefaultLimits()
	return &AppConfig{
		Server: ServerConfig{
			ListenAddr:      ":8000",
			CORSOrigins:     []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:            "boo.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Engine: EngineConfig{
			SerializeWrites: true,
		},
		Policy: PolicyConfig{
			Enabled:              true,
			MaxNameLength:        limits.MaxNameLength,
			MaxDescriptionLength: limits.MaxDescriptionLength,
			MaxDependencies:      limits.MaxDependencies,
		},
		Telemetry: TelemetryConfig{
			Environment:   "development",
			LogLevel:      "info",
			LogFormat:     "console",
			LogOutput:     "stderr",
			TraceExporter: "stdout",
			SamplingRate:  1.0,
			Metrics:       true,
			Events:        true,
		},
	}
}

// LoadAppConfig reads path (when non-empty) over the defaults, applies
// environment overrides and validates the result.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overrides fields from environment variables. lookup is
// os.LookupEnv outside tests.
func (c *AppConfig) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("BOO_DB_PATH"); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := lookup("BOO_LISTEN_ADDR"); ok && v != "" {
		c.Server.ListenAddr = v
	}
	if v, ok := lookup("BOO_CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(v)
	}
	if v, ok := lookup("BOO_POLICY_PATHS"); ok {
		c.Policy.Paths = splitList(v)
	}
	if v, ok := lookup("BOO_POLICY_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BOO_POLICY_ENABLED %q: %w", v, err)
		}
		c.Policy.Enabled = enabled
	}
	if v, ok := lookup("BOO_ENVIRONMENT"); ok && v != "" {
		c.Telemetry.Environment = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Telemetry.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup("BOO_LOG_FORMAT"); ok && v != "" {
		c.Telemetry.LogFormat = v
	}
	if v, ok := lookup("BOO_OTLP_ENDPOINT"); ok && v != "" {
		c.Telemetry.Tracing = true
		c.Telemetry.TraceExporter = "otlp"
		c.Telemetry.TraceEndpoint = v
	}
	return nil
}

// Validate checks struct constraints.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Telemetry.Tracing && c.Telemetry.TraceExporter == "otlp" && c.Telemetry.TraceEndpoint == "" {
		return fmt.Errorf("invalid configuration: trace_endpoint is required for the otlp exporter")
	}
	return nil
}

// StoreConfig returns the SQLite store settings.
func (c *AppConfig) StoreConfig() stores.Config {
	return stores.Config{
		Path:            c.Database.Path,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// PolicyLimits returns the limits exposed to admission policies.
func (c *AppConfig) PolicyLimits() policy.Limits {
	return policy.Limits{
		MaxNameLength:        c.Policy.MaxNameLength,
		MaxDescriptionLength: c.Policy.MaxDescriptionLength,
		MaxDependencies:      c.Policy.MaxDependencies,
	}
}

// TelemetryConfig expands the file settings into a full telemetry.Config.
func (c *AppConfig) TelemetryConfig() *telemetry.Config {
	tc := telemetry.DefaultConfig()
	t := c.Telemetry

	if t.Environment != "" {
		tc.Environment = t.Environment
	}
	if t.LogLevel != "" {
		tc.Logging.Level = t.LogLevel
	}
	if t.LogFormat != "" {
		tc.Logging.Format = t.LogFormat
	}
	if t.LogOutput != "" {
		tc.Logging.Output = t.LogOutput
	}

	tc.Tracing.Enabled = t.Tracing
	if t.TraceExporter != "" {
		tc.Tracing.Exporter = t.TraceExporter
	}
	tc.Tracing.Endpoint = t.TraceEndpoint
	tc.Tracing.SamplingRate = t.SamplingRate

	tc.Metrics.Enabled = t.Metrics
	tc.Metrics.ListenAddress = t.MetricsAddr

	tc.Events.Enabled = t.Events

	return tc
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
