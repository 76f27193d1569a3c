package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"

	"github.com/roadmapper/roadmap/internal/config"
	"github.com/roadmapper/roadmap/internal/conflict"
)

func TestIsRecordEvent(t *testing.T) {
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write record", fsnotify.Event{Name: "/r/issues/rm-1.md", Op: fsnotify.Write}, true},
		{"rename into place", fsnotify.Event{Name: "/r/issues/rm-1.md", Op: fsnotify.Create}, true},
		{"removed record", fsnotify.Event{Name: "/r/issues/rm-1.md", Op: fsnotify.Remove}, true},
		{"temp file", fsnotify.Event{Name: "/r/issues/.rm-1.md.tmp-123", Op: fsnotify.Write}, false},
		{"hidden md", fsnotify.Event{Name: "/r/issues/.draft.md", Op: fsnotify.Write}, false},
		{"other file", fsnotify.Event{Name: "/r/issues/notes.txt", Op: fsnotify.Write}, false},
		{"chmod only", fsnotify.Event{Name: "/r/issues/rm-1.md", Op: fsnotify.Chmod}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRecordEvent(tt.event); got != tt.want {
				t.Errorf("isRecordEvent(%v) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestPolicySide(t *testing.T) {
	tests := []struct {
		policy config.ConflictPolicy
		want   conflict.Side
	}{
		{config.ConflictPolicyOurs, conflict.Ours},
		{config.ConflictPolicyTheirs, conflict.Theirs},
		{config.ConflictPolicyManual, ""},
	}
	for _, tt := range tests {
		if got := policySide(tt.policy); got != tt.want {
			t.Errorf("policySide(%q) = %q, want %q", tt.policy, got, tt.want)
		}
	}
}

func TestBackendName(t *testing.T) {
	if got := backendName("jira"); got != "jira" {
		t.Errorf("backendName(flag) = %q, want jira", got)
	}
}

func TestRecordPath(t *testing.T) {
	dir := t.TempDir()
	if got := recordPath(dir, "rm-1.md"); got != filepath.Join(dir, "rm-1.md") {
		t.Errorf("bare name = %q", got)
	}
	abs := filepath.Join(dir, "x.md")
	if got := recordPath(dir, abs); got != abs {
		t.Errorf("absolute = %q", got)
	}

	wd := t.TempDir()
	t.Chdir(wd)
	if err := os.WriteFile("local.md", []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.Abs("local.md")
	if got := recordPath(dir, "local.md"); got != want {
		t.Errorf("relative = %q, want %q", got, want)
	}
}

func TestRedactSecrets(t *testing.T) {
	got := redactSecrets(map[string]interface{}{
		"backend": "github",
		"github": map[string]interface{}{
			"token": "ghp_secret",
			"owner": "acme",
		},
		"empty_token": "",
	})
	gh := got["github"].(map[string]interface{})
	if gh["token"] != "********" {
		t.Errorf("token = %v, want redacted", gh["token"])
	}
	if gh["owner"] != "acme" || got["backend"] != "github" {
		t.Errorf("non-secret values changed: %v", got)
	}
	if got["empty_token"] != "" {
		t.Errorf("empty token = %v, want empty", got["empty_token"])
	}
}

func TestOpenWorkspaceWithoutCache(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, config.DirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	// The cache path runs through a regular file, so the store cannot open.
	if err := os.WriteFile(filepath.Join(dir, "blocker"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := "cache:\n  path: blocker/cache.db\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(root)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	config.ResetForTesting()
	t.Cleanup(config.ResetForTesting)
	if err := config.Initialize(); err != nil {
		t.Fatal(err)
	}

	ws, err := openWorkspace(context.Background())
	if err != nil {
		t.Fatalf("openWorkspace() error = %v, want a cacheless workspace", err)
	}
	if ws.store != nil || ws.tracker != nil {
		t.Errorf("store = %v, tracker = %v, want nil", ws.store, ws.tracker)
	}
	if ws.engineStore() != nil {
		t.Error("engineStore() should be a nil interface without a cache")
	}
	if ws.resolver == nil {
		t.Error("resolver should still work on the record files")
	}
	if err := ws.requireCache(); err == nil {
		t.Error("requireCache() should fail without a cache")
	}
	if err := ws.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestOpenWorkspaceWithCache(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, config.DirName), 0o750); err != nil {
		t.Fatal(err)
	}
	t.Chdir(root)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	config.ResetForTesting()
	t.Cleanup(config.ResetForTesting)
	if err := config.Initialize(); err != nil {
		t.Fatal(err)
	}

	ws, err := openWorkspace(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ws.Close() }()
	if ws.engineStore() == nil || ws.tracker == nil {
		t.Error("cache should be open")
	}
	if err := ws.requireCache(); err != nil {
		t.Errorf("requireCache() = %v", err)
	}
}
