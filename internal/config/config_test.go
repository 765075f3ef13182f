package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

// clearEnv blanks the overrides so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	for _, k := range []string{"REDIS_URL", "REDIS_PASSWORD", "GITHUB_TOKEN", "GITHUB_OWNER", "GITHUB_REPO",
		"OPENAI_API_KEY", "GEMINI_API_KEY", "ENCRYPTION_KEY", "API_JWT_SECRET"} {
		t.Setenv(k, "")
	}
}

const minimal = `
redis:
  url: "localhost:6379"
github:
  token: "ghp_x"
  owner: "acme"
  repo: "research"
  path_prefix: "/ideas/"
ai:
  openai_key: "sk-test"
`

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(writeYAML(t, minimal), false)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "main", cfg.GitHub.Branch)
	assert.Equal(t, "ideas", cfg.GitHub.PathPrefix)
	assert.Equal(t, "openai", cfg.AI.DefaultProvider)
	assert.Equal(t, 4, cfg.Worker.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Worker.LeaseTTL)
	assert.Equal(t, 10*time.Second, cfg.Webhook.AttemptTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.Redis.StepTTL)
	assert.False(t, cfg.Runtime.Dev)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_TOKEN", "ghp_env")
	t.Setenv("API_JWT_SECRET", "env-secret")

	cfg, err := LoadConfig(writeYAML(t, minimal), false)
	require.NoError(t, err)
	assert.Equal(t, "ghp_env", cfg.GitHub.Token)
	assert.Equal(t, "env-secret", cfg.Security.JWTSecret)
}

func TestLoadConfigValidation(t *testing.T) {
	clearEnv(t)
	t.Run("missing github repo", func(t *testing.T) {
		_, err := LoadConfig(writeYAML(t, "redis:\n  url: x\ngithub:\n  token: t\n  owner: o\nai:\n  openai_key: k\n"), false)
		assert.ErrorContains(t, err, "github.owner and github.repo")
	})

	t.Run("no ai key outside dev", func(t *testing.T) {
		body := "redis:\n  url: x\ngithub:\n  token: t\n  owner: o\n  repo: r\n"
		_, err := LoadConfig(writeYAML(t, body), false)
		assert.ErrorContains(t, err, "no AI provider")

		cfg, err := LoadConfig(writeYAML(t, body), true)
		require.NoError(t, err)
		assert.True(t, cfg.Runtime.Dev)
	})

	t.Run("bad encryption key length", func(t *testing.T) {
		_, err := LoadConfig(writeYAML(t, minimal+"security:\n  encryption_key: short\n"), false)
		assert.ErrorContains(t, err, "encryption_key")
	})

	t.Run("missing file outside dev", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), false)
		assert.ErrorContains(t, err, "read config")
	})
}
