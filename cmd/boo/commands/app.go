package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boolearner/boolearner/pkg/config"
	"github.com/boolearner/boolearner/pkg/engine"
	"github.com/boolearner/boolearner/pkg/policy"
	"github.com/boolearner/boolearner/pkg/stores"
	"github.com/boolearner/boolearner/pkg/telemetry"
)

// app is everything a command needs to operate on the resource graph.
type app struct {
	cfg         *config.AppConfig
	tel         *telemetry.Telemetry
	store       stores.Store
	coordinator *engine.Coordinator
	policies    *policy.Engine
	watcher     *policy.Loader
}

type bootOptions struct {
	// memory uses a MemoryStore instead of SQLite
	memory bool

	// longLived keeps the configured log level, async events and policy
	// watching. One-shot commands log warnings only.
	longLived bool
}

// bootstrap loads configuration and wires telemetry, storage, policies and
// the coordinator together. Callers must Close the result.
func bootstrap(ctx context.Context, opts bootOptions) (*app, error) {
	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	telCfg := cfg.TelemetryConfig()
	telCfg.ServiceVersion = buildVersion
	if !opts.longLived {
		telCfg.Logging.Level = "warn"
		telCfg.Events.EnableAsync = false
		telCfg.Metrics.ListenAddress = ""
	}
	if verbose {
		telCfg.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{cfg: cfg, tel: tel}

	if opts.memory {
		a.store = stores.NewMemoryStore()
	} else {
		store, err := stores.Open(ctx, cfg.StoreConfig())
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.store = store
	}
	stores.AttachAudit(tel.Events, a.store, tel.Logger)

	policies, err := policy.NewEngine(
		tel.Logger.NewComponentLogger("policy").Zerolog(),
		policy.WithLimits(cfg.PolicyLimits()),
		policy.WithEvents(tel.Events),
		policy.WithEnvironment(cfg.Telemetry.Environment),
	)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	a.policies = policies

	coordinatorOpts := []engine.CoordinatorOption{
		engine.WithTelemetry(tel),
		engine.WithSerializedWrites(cfg.Engine.SerializeWrites),
	}

	if cfg.Policy.Enabled {
		if err := a.loadPolicies(ctx, opts.longLived && cfg.Policy.Watch); err != nil {
			_ = a.Close()
			return nil, err
		}
		coordinatorOpts = append(coordinatorOpts, engine.WithAdmitter(policies))
	}

	a.coordinator = engine.NewCoordinator(a.store, coordinatorOpts...)

	tel.Logger.WithFields(map[string]interface{}{
		"database": cfg.Database.Path,
		"memory":   opts.memory,
		"policies": cfg.Policy.Enabled,
	}).Debug("application initialized")

	return a, nil
}

func (a *app) loadPolicies(ctx context.Context, watch bool) error {
	paths := a.cfg.Policy.Paths
	if len(paths) == 0 {
		return nil
	}

	if watch {
		watcher, err := a.policies.Watch(ctx, paths)
		if err != nil {
			return fmt.Errorf("failed to watch policies: %w", err)
		}
		a.watcher = watcher
		return nil
	}

	if err := a.policies.LoadPolicies(ctx, paths); err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return nil
}

// Close stops the policy watcher, flushes telemetry and closes the store.
func (a *app) Close() error {
	var errs []error

	if a.watcher != nil {
		errs = append(errs, a.watcher.StopWatching())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs = append(errs, a.tel.Shutdown(ctx))

	if a.store != nil {
		errs = append(errs, a.store.Close())
	}

	return errors.Join(errs...)
}

// withApp bootstraps a one-shot app, runs fn and closes the app.
func withApp(ctx context.Context, fn func(*app) error) (err error) {
	a, err := bootstrap(ctx, bootOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
