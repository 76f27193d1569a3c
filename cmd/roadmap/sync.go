package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roadmapper/roadmap/internal/conflict"
	"github.com/roadmapper/roadmap/internal/lockfile"
	"github.com/roadmapper/roadmap/internal/metrics"
	"github.com/roadmapper/roadmap/internal/tracker"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize local records with the remote tracker",
	Long: `Fetch both sides, deduplicate, and propagate every field that changed on
exactly one side since the last sync.

Fields changed on both sides are reported as conflicts and left untouched on
both sides. Use --dry-run to preview the plan without writing anything.

Examples:
  roadmap sync
  roadmap sync --dry-run
  roadmap sync --backend github --auto-resolve theirs
  roadmap sync --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		full, _ := cmd.Flags().GetBool("full")
		watch, _ := cmd.Flags().GetBool("watch")
		backendFlag, _ := cmd.Flags().GetString("backend")
		autoResolve, _ := cmd.Flags().GetString("auto-resolve")

		opts := tracker.SyncOptions{DryRun: dryRun, Full: full}
		if autoResolve != "" {
			side, err := conflict.ParseSide(autoResolve)
			if err != nil {
				return err
			}
			opts.AutoResolve = side
		}
		if watch && dryRun {
			return errors.New("--watch cannot be combined with --dry-run")
		}

		ws, err := openWorkspace(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		engine, err := ws.newEngine(rootCtx, backendName(backendFlag))
		if err != nil {
			return err
		}

		if watch {
			return watchRecords(rootCtx, ws.records.Dir, func(ctx context.Context) error {
				return runSync(ctx, engine, opts)
			})
		}
		return runSync(rootCtx, engine, opts)
	},
}

// runSync performs one run and prints its result.
func runSync(ctx context.Context, engine *tracker.Engine, opts tracker.SyncOptions) error {
	result, err := engine.Sync(ctx, opts)
	if jsonOutput {
		if result != nil {
			outputJSON(result)
		}
		return err
	}
	if result != nil {
		printSyncResult(result)
	}
	return err
}

func printSyncResult(r *tracker.SyncResult) {
	if r.DryRun {
		fmt.Printf("\n%s\n", bold("Planned changes (dry run):"))
		if len(r.Preview) == 0 {
			fmt.Println("  nothing to do")
		}
		for _, c := range r.Preview {
			fmt.Printf("  %s\n", c.String())
		}
	}

	s := r.Stats
	if r.Success {
		fmt.Printf("\n%s Sync %s\n", green("✓"), r.State)
	} else {
		fmt.Printf("\n%s Sync %s\n", red("✗"), r.State)
	}
	fmt.Printf("  Baselines: %s", r.Baseline)
	if r.FullRebuild {
		fmt.Printf(" (full rebuild)")
	}
	fmt.Println()
	fmt.Printf("  Fetched: %d  Local: %d → %d  Remote: %d → %d\n",
		s.Fetched, s.LocalBefore, s.LocalAfter, s.RemoteBefore, s.RemoteAfter)
	if !r.DryRun {
		fmt.Printf("  Pushed: %d  Pulled: %d  Created: %d  Updated: %d\n", s.Pushed, s.Pulled, s.Created, s.Updated)
	}
	if s.Duplicates > 0 || s.CrossSet > 0 {
		fmt.Printf("  Duplicates: %d  Cross-set: %d\n", s.Duplicates, s.CrossSet)
	}
	if s.Errors > 0 {
		fmt.Printf("  %s %d\n", red("Errors:"), s.Errors)
	}

	if len(r.Conflicts) > 0 {
		fmt.Printf("\n%s %d issue(s) changed on both sides:\n", yellow("⚠"), len(r.Conflicts))
		for _, c := range r.Conflicts {
			fmt.Printf("  %s %s: %v\n", cyan(c.IssueID), c.Title, c.Fields)
		}
	}
	if len(r.ConflictFiles) > 0 {
		fmt.Printf("\n%s %d file(s) contain conflict markers:\n", yellow("⚠"), len(r.ConflictFiles))
		for _, f := range r.ConflictFiles {
			fmt.Printf("  %s\n", f)
		}
		fmt.Println("\nResolve with: roadmap conflicts resolve --keep ours|theirs")
	}
	if r.Error != "" {
		fmt.Printf("\n%s %s\n", red("Error:"), r.Error)
	}
}

// syncStatus is the JSON shape of `sync status`.
type syncStatus struct {
	Backend        string               `json:"backend"`
	LastSync       *time.Time           `json:"last_sync,omitempty"`
	HasConflicts   bool                 `json:"has_conflicts"`
	ConflictFiles  []string             `json:"conflict_files,omitempty"`
	FieldConflicts []string             `json:"field_conflicts,omitempty"`
	Lock           *lockfile.LockInfo   `json:"lock,omitempty"`
	LastRun        *metrics.SyncMetrics `json:"last_run,omitempty"`
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last sync time, pending conflicts and lock holder",
	RunE: func(cmd *cobra.Command, args []string) error {
		backendFlag, _ := cmd.Flags().GetString("backend")
		ws, err := openWorkspace(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()
		if err := ws.requireCache(); err != nil {
			return err
		}

		st := syncStatus{Backend: backendName(backendFlag)}
		last, err := ws.tracker.LastSync(rootCtx, st.Backend)
		if err != nil {
			return err
		}
		if !last.IsZero() {
			st.LastSync = &last
		}
		st.HasConflicts = ws.tracker.HasConflicts(rootCtx)
		if st.ConflictFiles, err = ws.tracker.GetConflictFiles(rootCtx); err != nil {
			return err
		}
		if st.FieldConflicts, err = ws.tracker.FieldConflicts(rootCtx); err != nil {
			return err
		}
		st.Lock = lockfile.Holder(ws.dir)
		runs, err := metrics.History(rootCtx, ws.store, time.Time{}, 1)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			st.LastRun = runs[0]
		}

		if jsonOutput {
			outputJSON(st)
			return nil
		}
		printSyncStatus(&st)
		return nil
	},
}

func printSyncStatus(st *syncStatus) {
	fmt.Printf("%s %s\n", bold("Backend:"), st.Backend)
	if st.LastSync != nil {
		fmt.Printf("%s %s (%s ago)\n", bold("Last sync:"),
			st.LastSync.Local().Format(time.RFC3339), time.Since(*st.LastSync).Round(time.Second))
	} else {
		fmt.Printf("%s never\n", bold("Last sync:"))
	}
	if st.Lock != nil {
		fmt.Printf("%s pid %d since %s\n", yellow("Running:"), st.Lock.PID, st.Lock.StartedAt.Local().Format(time.RFC3339))
	}
	if st.LastRun != nil {
		m := st.LastRun
		fmt.Printf("%s pushed %d, pulled %d, conflicts %d, errors %d in %.1fs\n",
			bold("Last run:"), m.Pushed, m.Pulled, m.ConflictsDetected, m.Errors, m.Duration)
	}
	if len(st.FieldConflicts) > 0 {
		fmt.Printf("\n%s %d issue(s) with field conflicts:\n", yellow("⚠"), len(st.FieldConflicts))
		for _, id := range st.FieldConflicts {
			fmt.Printf("  %s\n", id)
		}
	}
	if st.HasConflicts {
		fmt.Printf("\n%s conflict markers in:\n", yellow("⚠"))
		for _, f := range st.ConflictFiles {
			fmt.Printf("  %s\n", f)
		}
	}
	if len(st.FieldConflicts) == 0 && !st.HasConflicts {
		fmt.Printf("%s no pending conflicts\n", green("✓"))
	}
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "Preview changes without writing anything")
	syncCmd.Flags().Bool("full", false, "Ignore the hash cache and read every baseline")
	syncCmd.Flags().Bool("watch", false, "Keep running and sync whenever a record changes")
	syncCmd.Flags().String("auto-resolve", "", "Resolve conflict markers automatically: ours or theirs")
	syncCmd.PersistentFlags().String("backend", "", "Remote backend (default from config)")

	syncCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}
