package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ConfigWarnings controls whether warnings are logged for invalid config values.
var ConfigWarnings = true

// ConfigWarningWriter is the destination for config warnings.
var ConfigWarningWriter io.Writer = os.Stderr

func logConfigWarning(format string, args ...interface{}) {
	if ConfigWarnings && ConfigWarningWriter != nil {
		_, _ = fmt.Fprintf(ConfigWarningWriter, format, args...)
	}
}

// ConflictPolicy says how textual conflict markers are resolved after a run.
type ConflictPolicy string

const (
	ConflictPolicyManual ConflictPolicy = "manual" // leave flagged
	ConflictPolicyOurs   ConflictPolicy = "ours"
	ConflictPolicyTheirs ConflictPolicy = "theirs"
)

var validConflictPolicies = map[ConflictPolicy]bool{
	ConflictPolicyManual: true,
	ConflictPolicyOurs:   true,
	ConflictPolicyTheirs: true,
}

// DedupAction says what happens to local duplicates removed by the deduplicator.
type DedupAction string

const (
	DedupActionIgnore  DedupAction = "ignore" // exclude from this run only
	DedupActionArchive DedupAction = "archive"
	DedupActionDelete  DedupAction = "delete"
)

var validDedupActions = map[DedupAction]bool{
	DedupActionIgnore:  true,
	DedupActionArchive: true,
	DedupActionDelete:  true,
}

// BaselineSource selects the baseline provider.
type BaselineSource string

const (
	BaselineHistory  BaselineSource = "history"
	BaselineSnapshot BaselineSource = "snapshot"
)

var validBaselineSources = map[BaselineSource]bool{
	BaselineHistory:  true,
	BaselineSnapshot: true,
}

// GetConflictPolicy returns conflict.auto_resolve, falling back to manual
// with a warning on invalid values.
func GetConflictPolicy() ConflictPolicy {
	value := GetString("conflict.auto_resolve")
	if value == "" {
		return ConflictPolicyManual
	}
	p := ConflictPolicy(strings.ToLower(strings.TrimSpace(value)))
	if !validConflictPolicies[p] {
		logConfigWarning("Warning: invalid conflict.auto_resolve %q in config (valid: manual, ours, theirs), using default 'manual'\n", value)
		return ConflictPolicyManual
	}
	return p
}

// GetDedupAction returns dedup.action, falling back to ignore with a warning
// on invalid values.
func GetDedupAction() DedupAction {
	value := GetString("dedup.action")
	if value == "" {
		return DedupActionIgnore
	}
	a := DedupAction(strings.ToLower(strings.TrimSpace(value)))
	if !validDedupActions[a] {
		logConfigWarning("Warning: invalid dedup.action %q in config (valid: ignore, archive, delete), using default 'ignore'\n", value)
		return DedupActionIgnore
	}
	return a
}

// GetBaselineSource returns sync.baseline_source, falling back to history
// with a warning on invalid values.
func GetBaselineSource() BaselineSource {
	value := GetString("sync.baseline_source")
	if value == "" {
		return BaselineHistory
	}
	s := BaselineSource(strings.ToLower(strings.TrimSpace(value)))
	if !validBaselineSources[s] {
		logConfigWarning("Warning: invalid sync.baseline_source %q in config (valid: history, snapshot), using default 'history'\n", value)
		return BaselineHistory
	}
	return s
}

// GetDedupThreshold returns dedup.threshold clamped to (0, 1].
func GetDedupThreshold() float64 {
	t := GetFloat64("dedup.threshold")
	if t <= 0 || t > 1 {
		if t != 0 {
			logConfigWarning("Warning: dedup.threshold %v out of range (0, 1], using default 0.9\n", t)
		}
		return 0.9
	}
	return t
}

// GetDedupWindow returns dedup.window, defaulting to 24h.
func GetDedupWindow() time.Duration {
	w := GetDuration("dedup.window")
	if w <= 0 {
		return 24 * time.Hour
	}
	return w
}

// GetFullRebuildThreshold returns sync.full_rebuild_threshold, defaulting to 50.
func GetFullRebuildThreshold() int {
	n := GetInt("sync.full_rebuild_threshold")
	if n <= 0 {
		return 50
	}
	return n
}
