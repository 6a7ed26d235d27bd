package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boolearner/boolearner/pkg/engine"
)

// resolveRef accepts a course ID or exact name.
func resolveRef(ctx context.Context, a *app, ref string) (string, error) {
	all, err := a.coordinator.List(ctx)
	if err != nil {
		return "", err
	}
	ids, err := engine.NewSnapshot(all).Resolve([]string{ref})
	if err != nil {
		return "", fmt.Errorf("no single course matches %q: %w", ref, err)
	}
	return ids[0], nil
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List courses, prerequisites first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				resources, err := a.coordinator.List(ctx)
				if err != nil {
					return err
				}
				names := make(map[string]string, len(resources))
				for _, r := range resources {
					names[r.ID] = r.Name
				}
				return printResources(cmd, resources, names)
			})
		},
	}

	return cmd
}

func newSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find courses whose name or description contains query",
		Long: `Find courses whose name or description contains query.

Matching is case-sensitive. Results keep prerequisites ahead of the courses
that need them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				resources, err := a.coordinator.Search(ctx, args[0])
				if err != nil {
					return err
				}
				names, err := nameIndex(ctx, a)
				if err != nil {
					return err
				}
				return printResources(cmd, resources, names)
			})
		},
	}

	return cmd
}

func newGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id|name>",
		Short: "Show one course",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				id, err := resolveRef(ctx, a, args[0])
				if err != nil {
					return err
				}
				r, err := a.coordinator.Get(ctx, id)
				if err != nil {
					return err
				}
				names, err := nameIndex(ctx, a)
				if err != nil {
					return err
				}
				return printResource(cmd, r, names)
			})
		},
	}

	return cmd
}

func newCreateCommand() *cobra.Command {
	var (
		name        string
		description string
		deps        []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a course",
		Long: `Create a course. Prerequisites may be given by ID or exact name.

The write is rejected if a prerequisite does not resolve, or if a policy
forbids it.`,
		Example: `  # A course with no prerequisites
  boo create --name "Programming Basics"

  # A course with two prerequisites
  boo create --name "Algorithms" --dep "Data Structures" --dep "Discrete Math"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			req := engine.CreateRequest{
				Name:         name,
				Dependencies: deps,
			}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}

			return withApp(ctx, func(a *app) error {
				created, err := a.coordinator.Create(ctx, req)
				if err != nil {
					return err
				}
				names, err := nameIndex(ctx, a)
				if err != nil {
					return err
				}
				return printResource(cmd, created, names)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "course name")
	cmd.Flags().StringVar(&description, "description", "", "course description")
	cmd.Flags().StringArrayVar(&deps, "dep", nil, "prerequisite ID or name (repeatable)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newUpdateCommand() *cobra.Command {
	var (
		name        string
		description string
		deps        []string
		clearDeps   bool
	)

	cmd := &cobra.Command{
		Use:   "update <id|name>",
		Short: "Change a course's name, description or prerequisites",
		Long: `Change a course. Only the flags given are applied.

--dep replaces the whole prerequisite list; --clear-deps empties it. The
write is rejected if it would make the course depend on itself or close a
cycle.`,
		Example: `  # Rename a course
  boo update "Algorithms" --name "Algorithms I"

  # Replace prerequisites
  boo update "Algorithms I" --dep "Data Structures"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			flags := cmd.Flags()

			var req engine.UpdateRequest
			if flags.Changed("name") {
				req.Name = &name
			}
			if flags.Changed("description") {
				req.Description = &description
			}
			switch {
			case clearDeps && flags.Changed("dep"):
				return fmt.Errorf("--dep and --clear-deps are mutually exclusive")
			case clearDeps:
				empty := []string{}
				req.Dependencies = &empty
			case flags.Changed("dep"):
				req.Dependencies = &deps
			}

			return withApp(ctx, func(a *app) error {
				id, err := resolveRef(ctx, a, args[0])
				if err != nil {
					return err
				}
				updated, err := a.coordinator.Update(ctx, id, req)
				if err != nil {
					return err
				}
				names, err := nameIndex(ctx, a)
				if err != nil {
					return err
				}
				return printResource(cmd, updated, names)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringArrayVar(&deps, "dep", nil, "prerequisite ID or name (repeatable, replaces the list)")
	cmd.Flags().BoolVar(&clearDeps, "clear-deps", false, "remove every prerequisite")

	return cmd
}

func newCompleteCommand() *cobra.Command {
	var undo bool

	cmd := &cobra.Command{
		Use:   "complete <id|name>",
		Short: "Mark a course completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				id, err := resolveRef(ctx, a, args[0])
				if err != nil {
					return err
				}
				updated, err := a.coordinator.SetCompleted(ctx, id, !undo)
				if err != nil {
					return err
				}
				names, err := nameIndex(ctx, a)
				if err != nil {
					return err
				}
				return printResource(cmd, updated, names)
			})
		},
	}

	cmd.Flags().BoolVar(&undo, "undo", false, "mark the course not completed")

	return cmd
}

func newDeleteCommand() *cobra.Command {
	var cascade bool

	cmd := &cobra.Command{
		Use:     "delete <id|name>",
		Aliases: []string{"rm"},
		Short:   "Delete a course",
		Long: `Delete a course.

Without --cascade only the course is removed and courses that required it
keep a reference to the missing ID. With --cascade every course that
depends on it, directly or transitively, is removed too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				id, err := resolveRef(ctx, a, args[0])
				if err != nil {
					return err
				}
				names, err := nameIndex(ctx, a)
				if err != nil {
					return err
				}

				deleted, err := a.coordinator.Delete(ctx, id, cascade)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(w, map[string]interface{}{
						"deleted": deleted,
						"count":   len(deleted),
					})
				}
				for _, removed := range deleted {
					fmt.Fprintf(w, "Deleted %s (%s)\n", names[removed], removed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&cascade, "cascade", false, "also delete every course that depends on this one")

	return cmd
}
