package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puyokura/orbitchat/model"
)

func TestConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orbitchat.yaml")
	cfg := NewConfig(path)
	require.NoError(t, cfg.Load())

	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8999", cfg.Addr())
	assert.Equal(t, "pebble", cfg.Storage.Driver)
	assert.Equal(t, "1", cfg.ConsoleAccount)
	assert.Nil(t, cfg.Catalog)

	again := NewConfig(path)
	require.NoError(t, again.Load())
	assert.Equal(t, cfg.WelcomeMessage, again.WelcomeMessage)
	assert.Equal(t, cfg.RateLimit, again.RateLimit)
}

func TestConfigReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orbitchat.yaml")
	doc := `
server_name: Test Orbit
port: "9100"
storage:
  driver: file
  path: state.json
rate_limit:
  rps: 2
  burst: 3
catalog:
  - id: "a"
    name: Comet Frame
    price: 25
    category: avatar_frame
    render_hint: "☄️"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg := NewConfig(path)
	require.NoError(t, cfg.Load())
	assert.Equal(t, "Test Orbit", cfg.ServerName)
	assert.Equal(t, "localhost:9100", cfg.Addr())
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, "default", cfg.Storage.Session, "unset keys keep their defaults")
	assert.Equal(t, RateLimitConfig{RPS: 2, Burst: 3}, cfg.RateLimit)
	require.Len(t, cfg.Catalog, 1)
	assert.Equal(t, model.CategoryAvatarFrame, cfg.Catalog[0].Category)
	assert.EqualValues(t, 25, cfg.Catalog[0].Price)
}

func TestConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orbitchat.yaml")
	t.Setenv("ORBITCHAT_PORT", "9200")
	t.Setenv("ORBITCHAT_STORAGE_DRIVER", "memory")
	t.Setenv("ORBITCHAT_RATE_RPS", "0.5")
	t.Setenv("ORBITCHAT_SEED_CREDENTIAL", "launchpad")

	cfg := NewConfig(path)
	require.NoError(t, cfg.Load())
	assert.Equal(t, "localhost:9200", cfg.Addr())
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 0.5, cfg.RateLimit.RPS)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, "launchpad", cfg.SeedCredential)

	// Overrides are not persisted.
	fresh := NewConfig(path)
	os.Unsetenv("ORBITCHAT_PORT")
	os.Unsetenv("ORBITCHAT_STORAGE_DRIVER")
	require.NoError(t, fresh.Load())
	assert.Equal(t, "pebble", fresh.Storage.Driver)
}

func TestConfigValidation(t *testing.T) {
	tests := map[string]string{
		"unknown driver": "storage:\n  driver: redis\n",
		"bad catalog":    "catalog:\n  - id: \"x\"\n    name: Free\n    price: 0\n    category: emoji\n",
		"broken yaml":    "port: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "orbitchat.yaml")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
			assert.Error(t, NewConfig(path).Load())
		})
	}
}

func TestConfigBans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orbitchat.yaml")
	t.Setenv("ORBITCHAT_SEED_CREDENTIAL", "topsecret-env")
	t.Setenv("ORBITCHAT_PORT", "1234")
	cfg := NewConfig(path)
	require.NoError(t, cfg.Load())
	assert.Equal(t, "1234", cfg.Port)

	require.NoError(t, cfg.Ban("4"))
	require.NoError(t, cfg.Ban("4"))
	assert.True(t, cfg.IsBanned("4"))
	assert.Equal(t, []string{"4"}, cfg.BannedAccounts)

	// Saving the ban list must not leak environment overrides into the file.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "topsecret-env")
	assert.NotContains(t, string(data), "1234")
	assert.Contains(t, string(data), `port: "8999"`)
	assert.Equal(t, "topsecret-env", cfg.SeedCredential, "overrides stay live in memory")

	reloaded := NewConfig(path)
	require.NoError(t, reloaded.Load())
	assert.True(t, reloaded.IsBanned("4"))

	require.NoError(t, reloaded.Unban("4"))
	assert.False(t, reloaded.IsBanned("4"))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "topsecret-env")
	assert.Contains(t, string(data), "banned_accounts: []")
}
