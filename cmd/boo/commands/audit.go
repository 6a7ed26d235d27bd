package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/boolearner/boolearner/pkg/stores"
)

func newAuditCommand() *cobra.Command {
	var (
		action string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail",
		Long: `Show recorded writes, newest first.

Every create, update, delete, rejected write, policy violation and catalog
seed is recorded.`,
		Example: `  # Last 20 entries
  boo audit

  # Only deletions
  boo audit --action resource.deleted`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				var filter *string
				if action != "" {
					filter = &action
				}

				entries, err := a.store.ListAuditEntries(ctx, filter, limit, offset)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if jsonOutput {
					if entries == nil {
						entries = []*stores.AuditEntry{}
					}
					return printJSON(w, entries)
				}

				if len(entries) == 0 {
					fmt.Fprintln(w, "No audit entries found")
					return nil
				}

				t := newTable(w)
				t.AppendHeader(table.Row{"Time", "Action", "Actor", "Target", "Details"})
				for _, e := range entries {
					t.AppendRow(table.Row{
						e.Timestamp.Format("2006-01-02 15:04:05"),
						e.Action,
						e.Actor,
						deref(e.TargetID),
						deref(e.Details),
					})
				}
				t.Render()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "only show this action, e.g. resource.created")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")

	return cmd
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
