package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragtune/ragtune/configs"
	"github.com/ragtune/ragtune/internal/config"
)

// newInitCmd creates the init command.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter ragtune.yaml",
		Long: `Create a commented starter configuration in the current directory.

The generated file matches the built-in defaults: a BM25 pipeline over
.ragtune with the baseline estimator and the active scheduler. Edit it,
point data.collection_path at your corpus, then run 'ragtune index'.`,
		Example: `  # Create ragtune.yaml in the current directory
  ragtune init

  # Overwrite an existing config (the old file is backed up first)
  ragtune init --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config (backs it up first)")

	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigName
	}

	if _, err := os.Stat(path); err == nil {
		if !force {
			return fmt.Errorf("%s already exists; use --force to overwrite", path)
		}
		backup, err := config.Backup(path)
		if err != nil {
			return fmt.Errorf("back up existing config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backed up existing config to %s\n", backup)
	}

	if err := os.WriteFile(path, []byte(configs.DefaultConfigTemplate), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	// The template must round-trip through the strict loader; a template
	// that does not parse is a packaging bug worth failing loudly on.
	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("generated config does not validate: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Next steps:")
	fmt.Fprintln(cmd.OutOrStdout(), "  1. Point data.collection_path at your JSONL corpus")
	fmt.Fprintln(cmd.OutOrStdout(), "  2. ragtune index")
	fmt.Fprintln(cmd.OutOrStdout(), "  3. ragtune run \"your question\"")
	return nil
}
