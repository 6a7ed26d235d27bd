package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List admission policies",
		Long: `List the built-in admission policies and any loaded from the
configured policy paths.

Policies with severity error or critical reject writes; warnings are only
logged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				policies := a.policies.ListPolicies()

				w := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(w, policies)
				}

				t := newTable(w)
				t.AppendHeader(table.Row{"Name", "Severity", "Enabled", "Source", "Description"})
				for _, p := range policies {
					t.AppendRow(table.Row{p.Name, p.Severity, p.Enabled, p.Source, p.Description})
				}
				t.Render()
				return nil
			})
		},
	}

	return cmd
}
