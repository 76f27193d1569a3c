package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	t.Run("empty registry", func(t *testing.T) {
		assert.Empty(t, r.List())
		assert.Nil(t, r.Get("github"))
		_, err := r.NewBackend("github", nil)
		assert.Error(t, err)
	})

	t.Run("list returns sorted names", func(t *testing.T) {
		r.Register("zebra", func(*Config) (Backend, error) { return nil, nil })
		r.Register("alpha", func(*Config) (Backend, error) { return nil, nil })
		assert.Equal(t, []string{"alpha", "zebra"}, r.List())
	})

	t.Run("factory receives config", func(t *testing.T) {
		var got *Config
		r.Register("mock", func(cfg *Config) (Backend, error) {
			got = cfg
			return newMockBackend(), nil
		})
		b, err := r.NewBackend("mock", nil)
		require.NoError(t, err)
		assert.Equal(t, "mock", b.Name())
		require.NotNil(t, got)
		assert.Equal(t, "mock", got.Prefix)
	})
}

func TestConfig(t *testing.T) {
	src := func(key string) string {
		if key == "github.owner" {
			return "acme"
		}
		return ""
	}
	cfg := NewConfig("github", src)

	assert.Equal(t, "acme", cfg.Get("owner"))

	t.Setenv("GITHUB_API_URL", "http://localhost:9999")
	assert.Equal(t, "http://localhost:9999", cfg.Get("api_url"))

	t.Setenv("GITHUB_REPO", "")
	_, err := cfg.GetRequired("repo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_REPO")
}
