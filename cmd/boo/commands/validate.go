package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/boolearner/boolearner/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <catalog>...",
		Short: "Validate course catalogs without touching the store",
		Long: `Validate course catalogs against the catalog schema.

This command checks:
  - CUE, YAML or JSON syntax
  - Schema conformance (names, prerequisite lists)
  - Duplicate course names
  - Prerequisite cycles inside the catalog`,
		Example: `  # Validate one catalog
  boo validate ./catalogs/maths.cue

  # Validate several, reporting as JSON
  boo validate --json ./catalogs/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			parser := config.NewCatalogParser()

			type report struct {
				File    string   `json:"file"`
				Courses int      `json:"courses"`
				Errors  []string `json:"errors,omitempty"`
			}

			reports := make([]report, 0, len(args))
			failed := 0
			for _, path := range args {
				log.Debug().Str("path", path).Msg("Validating catalog")

				rep := report{File: path}
				parsed, err := parser.ParseFile(ctx, path)
				switch {
				case err != nil:
					rep.Errors = []string{err.Error()}
				case len(parsed.Errors) > 0:
					for _, ve := range parsed.Errors {
						rep.Errors = append(rep.Errors, ve.String())
					}
				default:
					rep.Courses = len(parsed.Catalog.Courses)
					if _, err := config.OrderCatalog(parsed.Catalog); err != nil {
						rep.Errors = []string{err.Error()}
					}
				}

				if len(rep.Errors) > 0 {
					failed++
				}
				reports = append(reports, rep)
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(w, reports); err != nil {
					return err
				}
			} else {
				for _, rep := range reports {
					if len(rep.Errors) == 0 {
						fmt.Fprintf(w, "✓ %s: %d courses\n", rep.File, rep.Courses)
						continue
					}
					fmt.Fprintf(w, "✗ %s\n", rep.File)
					for _, msg := range rep.Errors {
						fmt.Fprintf(w, "    %s\n", msg)
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d catalogs are invalid", failed, len(args))
			}
			return nil
		},
	}

	return cmd
}
