// Command roadmap synchronizes a directory of Markdown issue records with a
// remote issue tracker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roadmapper/roadmap/internal/config"
	"github.com/roadmapper/roadmap/internal/debug"
	"github.com/roadmapper/roadmap/internal/telemetry"

	// Backends register themselves with the tracker registry.
	_ "github.com/roadmapper/roadmap/internal/tracker/github"
)

var (
	// Version is overridden by ldflags at build time.
	Version = "0.1.0"

	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "roadmap",
	Short: "roadmap - sync Markdown issue records with a remote tracker",
	Long: `roadmap keeps a directory of Markdown issue records and a remote issue
tracker in step. Each run fetches both sides, removes duplicates, compares
every issue against its last-synced baseline and pushes or pulls the fields
that changed on one side only. Fields edited on both sides are reported as
conflicts and left alone.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("roadmap version %s\n", Version)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)

		if err := config.Initialize(); err != nil {
			return err
		}
		if err := telemetry.Init(rootCtx, telemetrySettings()); err != nil {
			WarnError("telemetry disabled: %v", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			debug.Logf("Debug: telemetry shutdown: %v\n", err)
		}
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

func telemetrySettings() telemetry.Settings {
	return telemetry.Settings{
		Enabled:        config.GetBool("telemetry.enabled"),
		ServiceName:    "roadmap",
		Version:        Version,
		Stdout:         config.GetBool("telemetry.stdout"),
		Output:         os.Stderr,
		Endpoint:       config.GetString("telemetry.endpoint"),
		MetricInterval: config.GetDuration("telemetry.metric_interval"),
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			outputJSONError(err, "")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
