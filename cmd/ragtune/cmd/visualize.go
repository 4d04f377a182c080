package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragtune/ragtune/internal/ui"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// newVisualizeCmd creates the visualize command.
func newVisualizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "visualize <run.json>",
		Short: "Render a saved run trace",
		Long: `Render the decision trace of a saved run: the timeline of retrievals,
estimates, proposed batches, rerank calls, and budget charges, plus a
per-action summary and the final budget state.

The input is the JSON file written by 'ragtune run --output'.`,
		Example: `  ragtune run --output trace.json "my query"
  ragtune visualize trace.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVisualize(cmd, args[0])
		},
	}

	return cmd
}

func runVisualize(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read run output: %w", err)
	}

	var out ragtune.Output
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("parse run output %s: %w", path, err)
	}
	if out.QueryID == "" {
		return fmt.Errorf("%s does not look like a saved run (no query_id)", path)
	}

	styles := ui.GetStyles(noColor)
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, styles.Header.Render(fmt.Sprintf("Run %s", out.QueryID)))
	fmt.Fprintln(w, styles.Dim.Render(fmt.Sprintf("query: %s", out.Query)))
	fmt.Fprintln(w)

	fmt.Fprintln(w, styles.Label.Render("Timeline:"))
	renderTrace(w, styles, out.Trace)

	counts := actionCounts(out.Trace)
	if len(counts) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, styles.Label.Render("Actions:"))
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %-22s %d\n", name, counts[name])
		}
	}

	if len(out.FinalBudgetState) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, styles.Label.Render("Final budget state:"))
		for _, resource := range sortedKeys(out.FinalBudgetState) {
			fmt.Fprintf(w, "  %-16s %.1f\n", resource, out.FinalBudgetState[resource])
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d document(s), %d trace event(s)\n", len(out.Documents), len(out.Trace))
	return nil
}

// renderTrace prints trace events with offsets relative to the first event.
func renderTrace(w io.Writer, styles ui.Styles, events []ragtune.TraceEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, styles.Dim.Render("  (empty trace)"))
		return
	}

	origin := events[0].Timestamp
	for _, ev := range events {
		offset := ev.Timestamp.Sub(origin).Round(time.Millisecond)
		line := fmt.Sprintf("  %8s  %-22s %s",
			fmt.Sprintf("+%s", offset), ev.Action, ev.Component)
		if detail := formatDetails(ev); detail != "" {
			line += styles.Dim.Render("  " + detail)
		}
		style := styles.Stage
		switch ev.Action {
		case ragtune.ActionBudgetDeny, ragtune.ActionRetrieveError,
			ragtune.ActionRerankError, ragtune.ActionReformulateFailed:
			style = styles.Warning
		case ragtune.ActionLoopExit, ragtune.ActionAssembly:
			style = styles.Success
		}
		fmt.Fprintln(w, style.Render(line))
	}
}

// actionCounts tallies trace events per action.
func actionCounts(events []ragtune.TraceEvent) map[string]int {
	counts := make(map[string]int, len(events))
	for _, ev := range events {
		counts[ev.Action]++
	}
	return counts
}

// formatDetails renders the most informative detail fields compactly.
func formatDetails(ev ragtune.TraceEvent) string {
	if len(ev.Details) == 0 {
		return ""
	}
	// A stable, curated subset reads better than dumping the whole map.
	preferred := []string{
		"reason", "resource", "amount", "count", "batch_size",
		"num_results", "round", "query", "error",
	}
	var parts []string
	for _, key := range preferred {
		if v, ok := ev.Details[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	if len(parts) == 0 {
		keys := make([]string, 0, len(ev.Details))
		for k := range ev.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, ev.Details[k]))
			if len(parts) == 3 {
				break
			}
		}
	}
	joined := ""
	for i, p := range parts {
		if i > 0 {
			joined += " "
		}
		joined += p
	}
	return joined
}
