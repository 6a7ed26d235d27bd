package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boolearner/boolearner/pkg/api"
	"github.com/boolearner/boolearner/pkg/config"
)

func newServeCommand() *cobra.Command {
	var (
		memory     bool
		listenAddr string
		seed       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API until interrupted.

The server answers on /api/resources, exposes /health, /ready and /metrics,
and shuts down gracefully on SIGINT or SIGTERM.`,
		Example: `  # Serve the default SQLite database on :8000
  boo serve

  # Serve an in-memory store preloaded with the built-in catalog
  boo serve --memory --seed

  # Serve on another address with a config file
  boo serve --config boo.yaml --listen 127.0.0.1:9000`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			a, err := bootstrap(ctx, bootOptions{memory: memory, longLived: true})
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()

			logger := a.tel.Logger.NewComponentLogger("serve")

			if seed {
				if err := seedBuiltin(cmd, a); err != nil {
					return err
				}
			}

			go func() {
				if err := a.tel.StartMetricsServer(ctx); err != nil {
					logger.WithError(err).Error("metrics server failed")
				}
			}()

			serverCfg := a.cfg.Server
			if listenAddr != "" {
				serverCfg.ListenAddr = listenAddr
			}

			handler := api.NewRouter(a.coordinator,
				api.WithHealthChecker(a.store),
				api.WithPolicies(a.policies),
				api.WithTelemetry(a.tel),
				api.WithCORSOrigins(serverCfg.CORSOrigins),
			).Setup()

			logger.WithFields(map[string]interface{}{
				"address":  serverCfg.ListenAddr,
				"database": a.cfg.Database.Path,
				"memory":   memory,
			}).Info("serving API")

			if err := api.NewServer(serverCfg, handler, a.tel.Logger).Run(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&memory, "memory", false, "use an in-memory store instead of SQLite")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config and BOO_LISTEN_ADDR)")
	cmd.Flags().BoolVar(&seed, "seed", false, "seed the built-in catalog before serving")

	return cmd
}

func seedBuiltin(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()

	catalog, err := config.NewCatalogParser().BuiltinCatalog(ctx)
	if err != nil {
		return err
	}

	result, err := config.Seed(ctx, a.coordinator, catalog, config.SeedOptions{
		Source: config.BuiltinCatalogFile,
		Events: a.tel.Events,
	})
	if err != nil {
		return fmt.Errorf("failed to seed built-in catalog: %w", err)
	}

	a.tel.Logger.WithFields(map[string]interface{}{
		"created": len(result.Created),
		"skipped": len(result.Skipped),
	}).Info("built-in catalog seeded")
	return nil
}
