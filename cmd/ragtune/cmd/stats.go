package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragtune/ragtune/internal/config"
	"github.com/ragtune/ragtune/internal/telemetry"
	"github.com/ragtune/ragtune/internal/ui"
)

// statsOptions holds CLI flags for stats.
type statsOptions struct {
	jsonOutput bool
	days       int
	recent     int
}

// newStatsCmd creates the stats command.
func newStatsCmd() *cobra.Command {
	var opts statsOptions

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize recorded runs",
		Long: `Summarize the runs recorded with 'ragtune run --record': run counts,
average rounds and rerank calls, exit reasons, and budget consumption.

The telemetry store lives next to the indexes (index.dir/runs.db).`,
		Example: `  # Last 7 days
  ragtune stats

  # Everything, as JSON
  ragtune stats --days 0 --json

  # Include the 10 most recent runs
  ragtune stats --recent 10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&opts.days, "days", 7, "Only count runs from the last N days (0 = all)")
	cmd.Flags().IntVar(&opts.recent, "recent", 0, "Also list the N most recent runs")

	return cmd
}

func runStats(cmd *cobra.Command, opts statsOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	path := runStorePath(cfg)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no telemetry store at %s; record runs with 'ragtune run --record'", path)
	}

	runStore, err := telemetry.OpenRunStore(path)
	if err != nil {
		return err
	}
	defer func() { _ = runStore.Close() }()

	var since time.Time
	if opts.days > 0 {
		since = time.Now().AddDate(0, 0, -opts.days)
	}

	summary, err := runStore.Summarize(cmd.Context(), since)
	if err != nil {
		return err
	}

	var recent []telemetry.RunRecord
	if opts.recent > 0 {
		recent, err = runStore.RecentRuns(cmd.Context(), opts.recent)
		if err != nil {
			return err
		}
	}

	if opts.jsonOutput {
		payload := struct {
			Summary *telemetry.Summary    `json:"summary"`
			Recent  []telemetry.RunRecord `json:"recent,omitempty"`
		}{Summary: summary, Recent: recent}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	renderStats(cmd, summary, recent, opts.days)
	return nil
}

func renderStats(cmd *cobra.Command, summary *telemetry.Summary, recent []telemetry.RunRecord, days int) {
	styles := ui.GetStyles(noColor)
	w := cmd.OutOrStdout()

	window := "all time"
	if days > 0 {
		window = fmt.Sprintf("last %d day(s)", days)
	}
	fmt.Fprintln(w, styles.Header.Render(fmt.Sprintf("Run statistics (%s)", window)))

	if summary.Runs == 0 {
		fmt.Fprintln(w, styles.Dim.Render("No recorded runs in this window"))
		return
	}

	fmt.Fprintf(w, "  runs:             %d (%d distinct queries)\n", summary.Runs, summary.DistinctQueries)
	fmt.Fprintf(w, "  zero-doc runs:    %d\n", summary.ZeroDocRuns)
	fmt.Fprintf(w, "  avg duration:     %.0f ms\n", summary.AvgDurationMS)
	fmt.Fprintf(w, "  avg rounds:       %.1f\n", summary.AvgRounds)
	fmt.Fprintf(w, "  avg rerank calls: %.1f\n", summary.AvgRerankCalls)
	fmt.Fprintf(w, "  avg documents:    %.1f\n", summary.AvgDocuments)

	if len(summary.ExitReasons) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, styles.Label.Render("Exit reasons:"))
		for _, reason := range sortedCountKeys(summary.ExitReasons) {
			fmt.Fprintf(w, "  %-18s %d\n", reason, summary.ExitReasons[reason])
		}
	}

	if len(summary.BudgetUsed) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, styles.Label.Render("Avg budget used per run:"))
		for _, resource := range sortedKeys(summary.BudgetUsed) {
			fmt.Fprintf(w, "  %-16s %.1f\n", resource, summary.BudgetUsed[resource])
		}
	}

	if len(recent) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, styles.Label.Render("Recent runs:"))
		for _, rec := range recent {
			fmt.Fprintf(w, "  %s  %s  %d round(s), %d doc(s), %s, %s\n",
				rec.StartedAt.Format("2006-01-02 15:04:05"),
				styles.Dim.Render(shortID(rec.ID)),
				rec.Rounds, rec.Documents, rec.ExitReason,
				rec.Duration.Round(time.Millisecond))
		}
	}
}

func sortedCountKeys(m map[string]int64) []string {
	asFloat := make(map[string]float64, len(m))
	for k, v := range m {
		asFloat[k] = float64(v)
	}
	return sortedKeys(asFloat)
}

// shortID abbreviates a run id for tabular output.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
