package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/boolearner/boolearner/pkg/engine"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// nameIndex maps every stored resource ID to its name, for showing
// dependencies by name.
func nameIndex(ctx context.Context, a *app) (map[string]string, error) {
	all, err := a.coordinator.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(all))
	for _, r := range all {
		names[r.ID] = r.Name
	}
	return names, nil
}

func dependencyNames(deps []string, names map[string]string) string {
	out := make([]string, len(deps))
	for i, id := range deps {
		if name, ok := names[id]; ok {
			out[i] = name
		} else {
			out[i] = id + " (missing)"
		}
	}
	return strings.Join(out, ", ")
}

func printResources(cmd *cobra.Command, resources []engine.Resource, names map[string]string) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		if resources == nil {
			resources = []engine.Resource{}
		}
		return printJSON(w, resources)
	}

	if len(resources) == 0 {
		fmt.Fprintln(w, "No courses found")
		return nil
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"#", "ID", "Name", "Prerequisites", "Done"})
	for i, r := range resources {
		done := ""
		if r.Completed {
			done = "yes"
		}
		t.AppendRow(table.Row{i + 1, r.ID, r.Name, dependencyNames(r.Dependencies, names), done})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d courses", len(resources)), "", ""})
	t.Render()
	return nil
}

func printResource(cmd *cobra.Command, r *engine.Resource, names map[string]string) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, r)
	}

	description := ""
	if r.Description != nil {
		description = *r.Description
	}

	t := newTable(w)
	t.AppendRows([]table.Row{
		{"ID", r.ID},
		{"Name", r.Name},
		{"Description", description},
		{"Prerequisites", dependencyNames(r.Dependencies, names)},
		{"Completed", r.Completed},
		{"Created", r.CreatedAt.Format("2006-01-02 15:04:05")},
		{"Updated", r.UpdatedAt.Format("2006-01-02 15:04:05")},
	})
	t.Render()
	return nil
}
