package tracker

import (
	"fmt"
	"os"
	"strings"
)

// ConfigSource looks up a fully qualified config key such as "github.token".
// It returns "" for unset keys.
type ConfigSource func(key string) string

// Config gives a backend access to its own config section, with environment
// variable fallback.
type Config struct {
	// Prefix is the config key prefix for this backend (e.g. "github").
	Prefix string
	Source ConfigSource
}

// NewConfig returns a config for prefix backed by src. src may be nil.
func NewConfig(prefix string, src ConfigSource) *Config {
	return &Config{Prefix: prefix, Source: src}
}

// Get returns prefix.key from the source, falling back to the PREFIX_KEY
// environment variable.
func (c *Config) Get(key string) string {
	if c.Source != nil {
		if v := c.Source(c.Prefix + "." + key); v != "" {
			return v
		}
	}
	return os.Getenv(c.envVarName(key))
}

// GetRequired is like Get but fails with a setup hint when the value is empty.
func (c *Config) GetRequired(key string) (string, error) {
	if v := c.Get(key); v != "" {
		return v, nil
	}
	fullKey := c.Prefix + "." + key
	return "", fmt.Errorf("%s not configured\nSet %s in .roadmap/config.yaml\nOr: export %s=VALUE",
		fullKey, fullKey, c.envVarName(key))
}

// envVarName converts a key to its environment variable name, e.g.
// "github" + "api_url" -> "GITHUB_API_URL".
func (c *Config) envVarName(key string) string {
	envKey := strings.ToUpper(c.Prefix + "_" + key)
	return strings.NewReplacer(".", "_", "-", "_").Replace(envKey)
}
