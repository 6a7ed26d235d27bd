package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	dbPath     string
	verbose    bool
	jsonOutput bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "boo",
		Short: "boo - course prerequisite graph service",
		Long: `boo keeps a catalog of courses and the prerequisites between them.

Every write is checked against the whole graph: references must resolve,
no course may depend on itself, and no change may close a cycle. Courses
are always listed with their prerequisites first.

Features:
  - HTTP API for the learning dashboard
  - SQLite storage with versioned migrations
  - CUE, YAML or JSON catalogs for seeding
  - OPA/Rego admission policies
  - Prometheus metrics, OpenTelemetry tracing and an audit trail`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config and BOO_DB_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newSeedCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newSearchCommand())
	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newCreateCommand())
	rootCmd.AddCommand(newUpdateCommand())
	rootCmd.AddCommand(newCompleteCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newPoliciesCommand())
	rootCmd.AddCommand(newAuditCommand())

	return rootCmd
}
