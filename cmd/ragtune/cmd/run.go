package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragtune/ragtune/internal/config"
	"github.com/ragtune/ragtune/internal/telemetry"
	"github.com/ragtune/ragtune/internal/ui"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// runOptions holds CLI flags for run.
type runOptions struct {
	budgets    []string
	outputPath string
	record     bool
	jsonOutput bool
	showTrace  bool
}

// newRunCmd creates the run command.
func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Run one query through the pipeline",
		Long: `Run a single query through the configured pipeline and print the
assembled documents, the budget consumed, and how the run ended.

Budget limits from the config can be overridden per invocation with
--budget; the full run output (documents plus trace) can be written to
a JSON file for 'ragtune visualize'.`,
		Example: `  # Run with the configured budget
  ragtune run "how does the scheduler propose batches"

  # Tighten the token budget for this run only
  ragtune run --budget tokens=1500 "explain backoff"

  # Save the full trace for later inspection
  ragtune run --output trace.json --trace "candidate pool states"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.budgets, "budget", nil, "Override a budget limit (resource=value, repeatable)")
	cmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "Write the full run output as JSON to this file")
	cmd.Flags().BoolVar(&opts.record, "record", false, "Record the run in the telemetry store")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the run output as JSON")
	cmd.Flags().BoolVarP(&opts.showTrace, "trace", "t", false, "Print the decision trace")

	return cmd
}

func runRun(ctx context.Context, cmd *cobra.Command, query string, opts runOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	overrides, err := parseBudgetOverrides(opts.budgets)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	buildOpts := []config.BuildOption{}
	if len(overrides) > 0 {
		buildOpts = append(buildOpts, config.WithBudgetOverrides(overrides))
	}

	pipeline, err := config.Build(ctx, cfg, buildOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = pipeline.Close() }()

	start := time.Now()
	out, err := pipeline.Run(ctx, query)
	if err != nil {
		return err
	}
	rec := telemetry.FromOutput(out, pipeline.Name, time.Since(start))

	if opts.record {
		if err := recordRun(ctx, cfg, rec); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not record run: %v\n", err)
		}
	}

	if opts.outputPath != "" {
		if err := writeRunOutput(opts.outputPath, out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run output written to %s\n", opts.outputPath)
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	renderRun(cmd, out, rec, opts.showTrace)
	return nil
}

// parseBudgetOverrides parses repeated resource=value flags.
func parseBudgetOverrides(flags []string) (map[string]float64, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	overrides := make(map[string]float64, len(flags))
	for _, f := range flags {
		resource, value, ok := strings.Cut(f, "=")
		if !ok || resource == "" {
			return nil, fmt.Errorf("invalid --budget %q: expected resource=value", f)
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --budget %q: %w", f, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("invalid --budget %q: limit must be non-negative", f)
		}
		overrides[resource] = v
	}
	return overrides, nil
}

// recordRun persists the run record in the telemetry store under the index
// directory.
func recordRun(ctx context.Context, cfg *config.Config, rec telemetry.RunRecord) error {
	runStore, err := telemetry.OpenRunStore(runStorePath(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = runStore.Close() }()
	return runStore.SaveRun(ctx, rec)
}

// runStorePath is where run telemetry lives, next to the indexes.
func runStorePath(cfg *config.Config) string {
	return filepath.Join(cfg.Pipeline.Index.Dir, "runs.db")
}

func writeRunOutput(path string, out *ragtune.Output) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run output: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write run output: %w", err)
	}
	return nil
}

// renderRun prints the human-readable result.
func renderRun(cmd *cobra.Command, out *ragtune.Output, rec telemetry.RunRecord, showTrace bool) {
	styles := ui.GetStyles(noColor)
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, styles.Header.Render(fmt.Sprintf("Query: %s", out.Query)))
	fmt.Fprintln(w, styles.Dim.Render(fmt.Sprintf("run %s | %d round(s) | %s | %s",
		out.QueryID, rec.Rounds, rec.ExitReason, rec.Duration.Round(time.Millisecond))))
	fmt.Fprintln(w)

	if len(out.Documents) == 0 {
		fmt.Fprintln(w, styles.Warning.Render("No documents returned"))
	}
	for i, doc := range out.Documents {
		fmt.Fprintf(w, "%s %s %s\n",
			styles.Active.Render(fmt.Sprintf("%2d.", i+1)),
			doc.ID,
			styles.Dim.Render(fmt.Sprintf("(score %.4f)", doc.Score)))
		if snippet := oneLineSnippet(doc.Content, 160); snippet != "" {
			fmt.Fprintf(w, "    %s\n", snippet)
		}
	}

	if len(out.FinalBudgetState) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, styles.Label.Render("Budget used:"))
		for _, resource := range sortedKeys(out.FinalBudgetState) {
			fmt.Fprintf(w, "  %-16s %.1f\n", resource, out.FinalBudgetState[resource])
		}
	}

	if showTrace {
		fmt.Fprintln(w)
		fmt.Fprintln(w, styles.Label.Render("Trace:"))
		renderTrace(w, styles, out.Trace)
	}
}

// oneLineSnippet collapses content onto one line, truncated to max runes.
func oneLineSnippet(content string, max int) string {
	snippet := strings.Join(strings.Fields(content), " ")
	runes := []rune(snippet)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return snippet
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
