package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ragtune/ragtune/internal/config"
	"github.com/ragtune/ragtune/internal/registry"
	"github.com/ragtune/ragtune/internal/ui"
)

// newListCmd creates the list command.
func newListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the registered component types",
		Long: `List every component type registered for each pipeline slot. These
are the names accepted under pipeline.components in the config.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runList(cmd *cobra.Command, jsonOutput bool) error {
	reg := config.BuiltinRegistry(cmd.Context())

	byCategory := make(map[string][]string, len(registry.Categories()))
	for _, category := range registry.Categories() {
		types := reg.List(category)
		sort.Strings(types)
		byCategory[string(category)] = types
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(byCategory)
	}

	styles := ui.GetStyles(noColor)
	w := cmd.OutOrStdout()
	for _, category := range registry.Categories() {
		fmt.Fprintln(w, styles.Header.Render(string(category)))
		for _, name := range byCategory[string(category)] {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
	return nil
}
