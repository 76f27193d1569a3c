package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roadmapper/roadmap/internal/conflict"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List record files with conflict markers and issues with field conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		files, err := conflict.DetectConflictMarkers(ws.records.Dir)
		if err != nil {
			return err
		}
		var fields []string
		if ws.tracker != nil {
			if fields, err = ws.tracker.FieldConflicts(rootCtx); err != nil {
				return err
			}
		}

		if jsonOutput {
			outputJSON(map[string][]string{
				"conflict_files":  files,
				"field_conflicts": fields,
			})
			return nil
		}
		if len(files) == 0 && len(fields) == 0 {
			fmt.Printf("%s no conflicts\n", green("✓"))
			return nil
		}
		if len(files) > 0 {
			fmt.Printf("%s\n", bold("Files with conflict markers:"))
			for _, f := range files {
				fmt.Printf("  %s\n", f)
			}
		}
		if len(fields) > 0 {
			fmt.Printf("%s\n", bold("Issues changed on both sides:"))
			for _, id := range fields {
				fmt.Printf("  %s\n", cyan(id))
			}
			fmt.Println("\nEdit the local record to the intended values and run roadmap sync again.")
		}
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve [file...]",
	Short: "Resolve conflict markers by keeping one side",
	Long: `Rewrite conflicted record files keeping either our side (the local
record) or theirs (the incoming version) of every marker hunk.

With no files, every conflicted file under the records directory is resolved.

Examples:
  roadmap conflicts resolve --keep theirs
  roadmap conflicts resolve issues/rm-1a2b3c.md --keep ours`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keepFlag, _ := cmd.Flags().GetString("keep")
		if keepFlag == "" {
			return errors.New("--keep is required (ours or theirs)")
		}
		keep, err := conflict.ParseSide(keepFlag)
		if err != nil {
			return err
		}

		ws, err := openWorkspace(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		if len(args) == 0 {
			clean, err := ws.resolver.AutoResolveAll(rootCtx, keep)
			if err != nil {
				return err
			}
			return reportRemaining(ws.records.Dir, clean)
		}

		var failed []string
		for _, arg := range args {
			path := recordPath(ws.records.Dir, arg)
			if !ws.resolver.Resolve(path, keep) {
				failed = append(failed, path)
				continue
			}
			if !jsonOutput {
				fmt.Printf("%s resolved %s\n", green("✓"), path)
			}
		}
		remaining, err := conflict.DetectConflictMarkers(ws.records.Dir)
		if err != nil {
			return err
		}
		if ws.tracker != nil {
			if len(remaining) == 0 {
				err = ws.tracker.ClearConflicts(rootCtx)
			} else {
				err = ws.tracker.MarkConflictsDetected(rootCtx, remaining)
			}
			if err != nil {
				return err
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("could not resolve %d file(s): %v", len(failed), failed)
		}
		return reportRemaining(ws.records.Dir, len(remaining) == 0)
	},
}

// recordPath accepts a path relative to the working directory, an absolute
// path or a bare file name inside the records directory.
func recordPath(dir, arg string) string {
	if filepath.IsAbs(arg) {
		return arg
	}
	if _, err := os.Stat(arg); err == nil {
		abs, err := filepath.Abs(arg)
		if err == nil {
			return abs
		}
	}
	return filepath.Join(dir, arg)
}

func reportRemaining(dir string, clean bool) error {
	remaining, err := conflict.DetectConflictMarkers(dir)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"resolved": clean, "remaining": remaining})
		return nil
	}
	if clean {
		fmt.Printf("%s all conflict markers resolved\n", green("✓"))
		return nil
	}
	fmt.Printf("%s %d file(s) still conflicted:\n", yellow("⚠"), len(remaining))
	for _, f := range remaining {
		fmt.Printf("  %s\n", f)
	}
	return nil
}

func init() {
	conflictsResolveCmd.Flags().String("keep", "", "Side to keep: ours or theirs")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
