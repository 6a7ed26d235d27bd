package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/boolearner/boolearner/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the prerequisite graph",
		Long: `Show the prerequisite graph.

Formats:
  levels  courses grouped into tiers; tier 0 needs nothing
  dot     Graphviz DOT, completed courses filled green`,
		Example: `  # Learning tiers
  boo graph

  # Render with Graphviz
  boo graph --format dot | dot -Tsvg > courses.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			switch format {
			case "dot":
				return withApp(ctx, func(a *app) error {
					resources, err := a.coordinator.List(ctx)
					if err != nil {
						return err
					}
					dot, err := engine.ToDOT(resources)
					if err != nil {
						return err
					}
					_, err = fmt.Fprint(w, dot)
					return err
				})

			case "levels":
				return withApp(ctx, func(a *app) error {
					levels, err := a.coordinator.Levels(ctx)
					if err != nil {
						return err
					}

					if jsonOutput {
						type level struct {
							Level     int               `json:"level"`
							Resources []engine.Resource `json:"resources"`
						}
						out := make([]level, len(levels))
						for i, l := range levels {
							out[i] = level{Level: i, Resources: l}
						}
						return printJSON(w, out)
					}

					if len(levels) == 0 {
						fmt.Fprintln(w, "No courses found")
						return nil
					}

					t := newTable(w)
					t.AppendHeader(table.Row{"Level", "Courses"})
					for i, l := range levels {
						courseNames := make([]string, len(l))
						for j, r := range l {
							courseNames[j] = r.Name
						}
						t.AppendRow(table.Row{i, strings.Join(courseNames, ", ")})
					}
					t.Render()
					return nil
				})

			default:
				return fmt.Errorf("unknown format %q (want levels or dot)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "levels", "output format: levels or dot")

	return cmd
}
