package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roadmapper/roadmap/internal/debug"
)

// DirName is the per-project directory holding config, cache, lock and records.
const DirName = ".roadmap"

var v *viper.Viper

// Initialize sets up the viper configuration singleton
// Should be called once at application startup
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Precedence: project .roadmap/config.yaml > ~/.config/roadmap/config.yaml
	configFileSet := false

	if root, err := FindProjectRoot(); err == nil {
		configPath := filepath.Join(root, DirName, "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			configFileSet = true
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "roadmap", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables take precedence over config file, e.g.
	// ROADMAP_DEDUP_THRESHOLD maps to "dedup.threshold".
	v.SetEnvPrefix("ROADMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("json", false)
	v.SetDefault("backend", "github")
	v.SetDefault("records.dir", "issues")
	v.SetDefault("cache.path", "cache.db")
	v.SetDefault("lock-timeout", "30s")

	v.SetDefault("sync.full_rebuild_threshold", 50)
	v.SetDefault("sync.baseline_source", string(BaselineHistory))
	v.SetDefault("sync.watch_debounce", "500ms")

	v.SetDefault("conflict.auto_resolve", string(ConflictPolicyManual))

	v.SetDefault("dedup.threshold", 0.9)
	v.SetDefault("dedup.window", "24h")
	v.SetDefault("dedup.action", string(DedupActionIgnore))

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.stdout", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.metric_interval", "30s")
	_ = v.BindEnv("telemetry.enabled", "ROADMAP_TELEMETRY_ENABLED", "ROADMAP_OTEL_ENABLED")
	_ = v.BindEnv("telemetry.endpoint", "ROADMAP_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("github.owner", "")
	v.SetDefault("github.repo", "")
	_ = v.BindEnv("github.token", "GITHUB_TOKEN", "ROADMAP_GITHUB_TOKEN")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debug.Logf("Debug: loaded config from %s\n", v.ConfigFileUsed())
	} else {
		debug.Logf("Debug: no config.yaml found; using defaults and environment variables\n")
	}

	return nil
}

// ResetForTesting clears the config state, allowing Initialize() to be called again.
// WARNING: Not thread-safe. Only call from single-threaded test contexts.
func ResetForTesting() {
	v = nil
}

// FindProjectRoot walks up from the working directory to the first directory
// containing .roadmap/.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, DirName)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a roadmap project (no %s directory found)", DirName)
		}
		dir = parent
	}
}

// ProjectPath resolves a config path value relative to dir/.roadmap unless it
// is absolute.
func ProjectPath(root, value string) string {
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(root, DirName, value)
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetFloat64 retrieves a float configuration value
func GetFloat64(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// ConfigFileUsed returns the path to the config file that was loaded.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}
