package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sshlure.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint16(DefaultPortSSH), cfg.SSH.Port)
	assert.Equal(t, 3, cfg.SSH.MaxAuthAttempts)
	assert.Equal(t, time.Second, cfg.Geo.RateLimit)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
ssh:
  port: 2022
  banner: "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.6"
  session_timeout: 45s
geo:
  rate_limit: 250ms
  ipstack_api_key: abc123
sinks:
  db_driver: sqlite3
  db_dsn: /tmp/attacks.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint16(2022), cfg.SSH.Port)
	assert.Equal(t, "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.6", cfg.SSH.Banner)
	assert.Equal(t, 45*time.Second, cfg.SSH.SessionTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Geo.RateLimit)
	assert.Equal(t, "abc123", cfg.Geo.IPStackAPIKey)
	assert.Equal(t, "sqlite3", cfg.Sinks.DBDriver)

	// Untouched settings keep their defaults.
	assert.Equal(t, DefaultReadTimeout, cfg.SSH.ReadTimeout)
	assert.Equal(t, DefaultIPAPICoURL, cfg.Geo.IPAPICoURL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "ssh:\n  port: 2022\n")
	t.Setenv("SSHLURE_SSH_PORT", "2200")
	t.Setenv("SSHLURE_SSH_BIND_ADDRESS", "127.0.0.1")
	t.Setenv("SSHLURE_GEO_CACHE_TTL", "1h")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(2200), cfg.SSH.Port)
	assert.Equal(t, "127.0.0.1", cfg.SSH.BindAddress)
	assert.Equal(t, time.Hour, cfg.Geo.CacheTTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "ssh.bind_address", envKey("SSHLURE_SSH_BIND_ADDRESS"))
	assert.Equal(t, "geo.ipstack_api_key", envKey("SSHLURE_GEO_IPSTACK_API_KEY"))
	assert.Equal(t, "log.level", envKey("SSHLURE_LOG_LEVEL"))
}

func TestValidateReportsEachSetting(t *testing.T) {
	cfg := Default()
	cfg.SSH.BindAddress = "not-an-ip"
	cfg.SSH.Banner = "OpenSSH"
	cfg.SSH.MaxAuthAttempts = 0
	cfg.Log.Level = "verbose"

	err := cfg.Validate()
	require.Error(t, err)

	keys := map[string]bool{}
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var ve *ValidationError
		require.True(t, errors.As(e, &ve))
		keys[ve.Key] = true
	}
	assert.True(t, keys["ssh.bind_address"])
	assert.True(t, keys["ssh.banner"])
	assert.True(t, keys["ssh.max_auth_attempts"])
	assert.True(t, keys["log.level"])
}

func TestValidateCrossFieldRules(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		key    string
	}{
		{"monitor port clash", func(c *Config) { c.Monitor.Port = c.SSH.Port }, "monitor.port"},
		{"db dsn missing", func(c *Config) { c.Sinks.DBDriver = "postgres" }, "sinks.db_dsn"},
		{"unknown db driver", func(c *Config) { c.Sinks.DBDriver = "mysql"; c.Sinks.DBDSN = "x" }, "sinks.db_driver"},
		{"pushover half configured", func(c *Config) { c.Sinks.PushoverToken = "tok" }, "sinks.pushover_recipient"},
		{"negative delay", func(c *Config) { c.SSH.KexDelay = -time.Second }, "ssh.kex_delay"},
		{"zero read timeout", func(c *Config) { c.SSH.ReadTimeout = 0 }, "ssh.read_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.key, ve.Key)
		})
	}
}

func TestMonitorPortIgnoredWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.Monitor.Enabled = false
	cfg.Monitor.Port = cfg.SSH.Port
	assert.NoError(t, cfg.Validate())
}
