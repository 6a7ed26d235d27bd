package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boolearner/boolearner/pkg/config"
)

func newSeedCommand() *cobra.Command {
	var (
		reset   bool
		builtin bool
	)

	cmd := &cobra.Command{
		Use:   "seed [catalog]",
		Short: "Load a course catalog into the store",
		Long: `Load a course catalog into the store.

Catalogs are CUE, YAML or JSON files listing courses by name with their
prerequisites. Courses are created prerequisites first through the same
checks as API writes. Courses whose name already exists are skipped, so
seeding twice is harmless.`,
		Example: `  # Seed the built-in computer science catalog
  boo seed --builtin

  # Replace everything with a custom catalog
  boo seed --reset ./catalogs/maths.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if builtin == (len(args) == 1) {
				return fmt.Errorf("give either a catalog file or --builtin")
			}

			parser := config.NewCatalogParser()
			var (
				catalog *config.Catalog
				source  string
				err     error
			)
			if builtin {
				source = config.BuiltinCatalogFile
				catalog, err = parser.BuiltinCatalog(ctx)
			} else {
				source = args[0]
				catalog, err = parser.LoadCatalog(ctx, source)
			}
			if err != nil {
				return err
			}

			return withApp(ctx, func(a *app) error {
				result, err := config.Seed(ctx, a.coordinator, catalog, config.SeedOptions{
					Reset:  reset,
					Source: source,
					Events: a.tel.Events,
				})
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(w, result)
				}

				if reset {
					fmt.Fprintf(w, "Removed %d courses\n", result.Removed)
				}
				fmt.Fprintf(w, "Seeded %d courses from %s", len(result.Created), source)
				if len(result.Skipped) > 0 {
					fmt.Fprintf(w, " (%d already present)", len(result.Skipped))
				}
				fmt.Fprintln(w)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "delete every stored course first")
	cmd.Flags().BoolVar(&builtin, "builtin", false, "seed the built-in computer science catalog")

	return cmd
}
