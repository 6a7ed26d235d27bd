package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boolearner/boolearner/pkg/config"
	"github.com/boolearner/boolearner/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Apply every pending schema migration to the SQLite database.

Migrations are embedded in the binary. Running migrate on an up-to-date
database does nothing.`,
		Example: `  # Migrate the configured database
  boo migrate

  # Migrate a specific file
  boo migrate --db ./data/boo.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.LoadAppConfig(configPath)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}

			store, err := stores.Open(ctx, cfg.StoreConfig())
			if err != nil {
				return err
			}
			defer store.Close()

			version, dirty, err := store.SchemaVersion(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, map[string]interface{}{
					"database": cfg.Database.Path,
					"version":  version,
					"dirty":    dirty,
				})
			}
			fmt.Fprintf(w, "✓ %s is at schema version %d\n", cfg.Database.Path, version)
			return nil
		},
	}

	return cmd
}
