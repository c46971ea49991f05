package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/webworker/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	cfg, err := loadServiceConfig("ex.config.toml")
	require.NoError(t, err)

	assert.Equal(t, "greeter", cfg.Name)
	assert.Equal(t, "#greeter", cfg.Source)
	assert.Equal(t, service.ModeInProcess, cfg.Mode)
	assert.True(t, cfg.AutoStart)
	assert.Equal(t, []any{"world"}, cfg.StartArgs)
	assert.True(t, cfg.ExitOnTerminate)
	assert.False(t, cfg.LegacyActions)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "127.0.0.1:7020", cfg.AdminListenAddr)
	assert.Equal(t, "dev-token", cfg.AdminToken)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CorsOrigins)
	assert.Equal(t, ":memory:", cfg.JournalDSN)
	require.Contains(t, cfg.Scripts, "#greeter")
	assert.Contains(t, cfg.Scripts["#greeter"], "self.close(true);")

	// untouched keys keep their defaults
	def := service.DefaultServiceConfig()
	assert.Equal(t, def.WorkerdPath, cfg.WorkerdPath)
	require.NoError(t, cfg.Validate())
}

func TestLoadServiceConfigMinimal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.toml")
	require.NoError(t, os.WriteFile(path, []byte("source = \"https://example.com/w.js\"\nlegacy_actions = true\n"), 0o600))

	cfg, err := loadServiceConfig(path)
	require.NoError(t, err)
	def := service.DefaultServiceConfig()
	assert.Equal(t, def.Name, cfg.Name)
	assert.Equal(t, def.HeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, "https://example.com/w.js", cfg.Source)
	assert.True(t, cfg.LegacyActions)
	assert.Empty(t, cfg.Scripts)
}

func TestLoadServiceConfigErrors(t *testing.T) {
	cases := map[string]string{
		"bad duration": "heartbeat = \"often\"\n",
		"unknown key":  "sauce = \"#a\"\n",
		"bad toml":     "name = [\n",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "c.toml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		_, err := loadServiceConfig(path)
		assert.Error(t, err, name)
	}

	_, err := loadServiceConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
