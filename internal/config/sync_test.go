package config

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func withConfig(t *testing.T) *bytes.Buffer {
	t.Helper()
	ResetForTesting()
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	var buf bytes.Buffer
	old := ConfigWarningWriter
	ConfigWarningWriter = &buf
	t.Cleanup(func() {
		ConfigWarningWriter = old
		ResetForTesting()
	})
	return &buf
}

func TestGetConflictPolicy(t *testing.T) {
	tests := []struct {
		name           string
		configValue    string
		expected       ConflictPolicy
		expectsWarning bool
	}{
		{"default is manual", "", ConflictPolicyManual, false},
		{"ours is valid", "ours", ConflictPolicyOurs, false},
		{"mixed case is normalized", "Theirs", ConflictPolicyTheirs, false},
		{"whitespace is trimmed", "  ours  ", ConflictPolicyOurs, false},
		{"invalid value returns default with warning", "newest", ConflictPolicyManual, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := withConfig(t)
			if tt.configValue != "" {
				Set("conflict.auto_resolve", tt.configValue)
			}

			if got := GetConflictPolicy(); got != tt.expected {
				t.Errorf("GetConflictPolicy() = %q, want %q", got, tt.expected)
			}
			hasWarning := strings.Contains(buf.String(), "Warning:")
			if hasWarning != tt.expectsWarning {
				t.Errorf("warning = %v, want %v (output=%q)", hasWarning, tt.expectsWarning, buf.String())
			}
		})
	}
}

func TestGetDedupAction(t *testing.T) {
	tests := []struct {
		configValue    string
		expected       DedupAction
		expectsWarning bool
	}{
		{"", DedupActionIgnore, false},
		{"archive", DedupActionArchive, false},
		{"DELETE", DedupActionDelete, false},
		{"shred", DedupActionIgnore, true},
	}

	for _, tt := range tests {
		t.Run(tt.configValue, func(t *testing.T) {
			buf := withConfig(t)
			if tt.configValue != "" {
				Set("dedup.action", tt.configValue)
			}
			if got := GetDedupAction(); got != tt.expected {
				t.Errorf("GetDedupAction() = %q, want %q", got, tt.expected)
			}
			if hasWarning := strings.Contains(buf.String(), "Warning:"); hasWarning != tt.expectsWarning {
				t.Errorf("warning = %v, want %v", hasWarning, tt.expectsWarning)
			}
		})
	}
}

func TestGetBaselineSource(t *testing.T) {
	buf := withConfig(t)
	if got := GetBaselineSource(); got != BaselineHistory {
		t.Errorf("default = %q, want history", got)
	}
	Set("sync.baseline_source", "snapshot")
	if got := GetBaselineSource(); got != BaselineSnapshot {
		t.Errorf("got %q, want snapshot", got)
	}
	Set("sync.baseline_source", "svn")
	if got := GetBaselineSource(); got != BaselineHistory {
		t.Errorf("invalid value: got %q, want history", got)
	}
	if !strings.Contains(buf.String(), "Warning:") {
		t.Error("expected warning for invalid baseline source")
	}
}

func TestDedupDefaults(t *testing.T) {
	buf := withConfig(t)
	if got := GetDedupThreshold(); got != 0.9 {
		t.Errorf("GetDedupThreshold() = %v, want 0.9", got)
	}
	if got := GetDedupWindow(); got != 24*time.Hour {
		t.Errorf("GetDedupWindow() = %v, want 24h", got)
	}
	if got := GetFullRebuildThreshold(); got != 50 {
		t.Errorf("GetFullRebuildThreshold() = %v, want 50", got)
	}

	Set("dedup.threshold", 1.5)
	if got := GetDedupThreshold(); got != 0.9 {
		t.Errorf("out of range threshold = %v, want 0.9", got)
	}
	if !strings.Contains(buf.String(), "Warning:") {
		t.Error("expected warning for out of range threshold")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ROADMAP_DEDUP_WINDOW", "2h")
	withConfig(t)
	if got := GetDedupWindow(); got != 2*time.Hour {
		t.Errorf("GetDedupWindow() = %v, want 2h from env", got)
	}
}
