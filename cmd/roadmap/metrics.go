package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roadmapper/roadmap/internal/metrics"
	"github.com/roadmapper/roadmap/internal/timeparsing"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show metrics of past sync runs",
	Long: `Show the persisted metrics of past sync runs, newest first.

--since accepts compact durations (7d, 3h), dates (2026-01-15) and natural
language (last monday).

Examples:
  roadmap metrics
  roadmap metrics --since 7d --limit 5
  roadmap metrics --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceFlag, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")

		var since time.Time
		if sinceFlag != "" {
			t, err := timeparsing.ParseSince(sinceFlag, time.Now())
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			since = t
		}

		ws, err := openWorkspace(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()
		if err := ws.requireCache(); err != nil {
			return err
		}

		runs, err := metrics.History(rootCtx, ws.store, since, limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(runs)
			return nil
		}
		if len(runs) == 0 {
			fmt.Println("No sync runs recorded.")
			return nil
		}

		fmt.Printf("%-20s %-8s %8s %6s %6s %9s %6s %5s\n",
			"STARTED", "BACKEND", "DURATION", "PUSHED", "PULLED", "CONFLICTS", "ERRORS", "DRY")
		for _, m := range runs {
			dry := ""
			if m.DryRun {
				dry = "yes"
			}
			fmt.Printf("%-20s %-8s %7.1fs %6d %6d %9d %6d %5s\n",
				m.StartTime.Local().Format("2006-01-02 15:04:05"), m.BackendType, m.Duration,
				m.Pushed, m.Pulled, m.ConflictsDetected, m.Errors, dry)
		}
		return nil
	},
}

func init() {
	metricsCmd.Flags().String("since", "", "Only runs at or after this time (e.g. 7d, 2026-01-15)")
	metricsCmd.Flags().Int("limit", 20, "Maximum runs to show (0 for all)")
	rootCmd.AddCommand(metricsCmd)
}
