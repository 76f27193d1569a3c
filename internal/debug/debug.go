// Package debug provides env-gated diagnostic output and the process-wide
// structured logger.
package debug

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	enabled     = os.Getenv("ROADMAP_DEBUG") != ""
	verboseMode = false
	quietMode   = false

	loggerMu sync.Mutex
	logger   *slog.Logger
	logOut   io.Writer = os.Stderr
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
	resetLogger()
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled
// Use this for normal informational output that should be suppressed in quiet mode
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// Logger returns the structured logger shared by the sync engine. It logs at
// Debug level when debug output is enabled, Info otherwise, and Warn in quiet
// mode.
func Logger() *slog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level()}))
	}
	return logger
}

// SetLogOutput redirects the structured logger, mainly for tests.
func SetLogOutput(w io.Writer) {
	loggerMu.Lock()
	logOut = w
	logger = nil
	loggerMu.Unlock()
}

func level() slog.Level {
	switch {
	case enabled || verboseMode:
		return slog.LevelDebug
	case quietMode:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

func resetLogger() {
	loggerMu.Lock()
	logger = nil
	loggerMu.Unlock()
}
