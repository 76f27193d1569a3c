package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roadmapper/roadmap/internal/config"
	"github.com/roadmapper/roadmap/internal/debug"
)

// watchRecords runs fn once, then again after every burst of record edits
// in dir, until ctx is cancelled. Runs never overlap: events arriving during
// a run restart the debounce window once it finishes.
func watchRecords(ctx context.Context, dir string, fn func(context.Context) error) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create records directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }() // Best effort cleanup

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	if err := fn(ctx); err != nil {
		WarnError("%v", err)
	}
	fmt.Fprintf(os.Stderr, "\nWatching %s for changes... (Press Ctrl+C to exit)\n", dir)

	delay := config.GetDuration("sync.watch_debounce")
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	debounce := time.NewTimer(delay)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "\nStopped watching.\n")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isRecordEvent(event) {
				continue
			}
			debug.Logf("Debug: %s %s\n", event.Op, event.Name)
			debounce.Reset(delay)
		case <-debounce.C:
			if err := fn(ctx); err != nil {
				WarnError("%v", err)
			}
			fmt.Fprintf(os.Stderr, "\nWatching %s for changes... (Press Ctrl+C to exit)\n", dir)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			WarnError("watcher: %v", err)
		}
	}
}

// isRecordEvent reports whether event touches a record file. Temp files from
// atomic writes are dot-prefixed and ignored; their rename target is not.
func isRecordEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	base := filepath.Base(event.Name)
	return strings.HasSuffix(base, ".md") && !strings.HasPrefix(base, ".")
}
