package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragtune/ragtune/internal/config"
	"github.com/ragtune/ragtune/internal/registry"
	"github.com/ragtune/ragtune/internal/ui"
)

// newValidateCmd creates the validate command.
func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the pipeline configuration",
		Long: `Load the configuration, check it for shape errors, and verify that
every component slot names a registered type. Nothing is built and no
stores are opened, so this is safe to run anywhere.`,
		Example: `  # Validate ragtune.yaml in the current directory
  ragtune validate

  # Validate a specific file
  ragtune validate -c pipelines/prod.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd)
		},
	}

	return cmd
}

func runValidate(cmd *cobra.Command) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	reg := config.BuiltinRegistry(cmd.Context())
	if err := checkComponentTypes(cfg, reg); err != nil {
		return err
	}

	styles := ui.GetStyles(noColor)
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, styles.Success.Render("Configuration is valid"))
	fmt.Fprintf(out, "  pipeline: %s\n", cfg.Pipeline.Name)
	fmt.Fprintf(out, "  retrieval: depth=%d, reformulations=%d x depth=%d\n",
		cfg.Pipeline.Retrieval.OriginalQueryDepth,
		cfg.Pipeline.Retrieval.NumReformulations,
		cfg.Pipeline.Retrieval.DepthPerReformulation)
	for _, category := range registry.Categories() {
		specs := slotSpecs(cfg, category)
		if len(specs) == 0 {
			continue
		}
		names := make([]string, 0, len(specs))
		for _, spec := range specs {
			names = append(names, spec.Type)
		}
		fmt.Fprintf(out, "  %s: %s\n", category, strings.Join(names, ", "))
	}
	if len(cfg.Pipeline.Budget.Limits) > 0 {
		fmt.Fprintf(out, "  budget: %d limit(s)\n", len(cfg.Pipeline.Budget.Limits))
	}
	return nil
}

// checkComponentTypes verifies every configured type resolves against the
// registry without instantiating anything.
func checkComponentTypes(cfg *config.Config, reg *registry.Registry) error {
	for _, category := range registry.Categories() {
		for _, spec := range slotSpecs(cfg, category) {
			if _, err := reg.Resolve(category, spec.Type); err != nil {
				return err
			}
		}
	}
	return nil
}

// slotSpecs returns the configured specs for one pipeline slot.
func slotSpecs(cfg *config.Config, category registry.Category) config.ComponentList {
	c := cfg.Pipeline.Components
	switch category {
	case registry.CategoryRetriever:
		return c.Retriever
	case registry.CategoryReranker:
		return c.Reranker
	case registry.CategoryReformulator:
		return c.Reformulator
	case registry.CategoryEstimator:
		return c.Estimator
	case registry.CategoryScheduler:
		return c.Scheduler
	case registry.CategoryAssembler:
		return c.Assembler
	case registry.CategoryFeedback:
		return cfg.FeedbackSpecs()
	}
	return nil
}
