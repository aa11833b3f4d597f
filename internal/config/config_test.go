package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatescan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithEnv("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  url: http://localhost:3000/api/v1
  timeout: 5s
  session_cookie: session=abc123
store:
  path: /var/lib/gatescan/scan.db
  driver: sqlite
scanner:
  debounce: 1500ms
  offline_mode: true
sync:
  download_attempts: 2
`)

	cfg, err := LoadWithEnv(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000/api/v1", cfg.Server.URL)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "/var/lib/gatescan/scan.db", cfg.Store.Path)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 1500*time.Millisecond, cfg.Scanner.Debounce)
	assert.True(t, cfg.Scanner.OfflineMode)
	assert.Equal(t, 2, cfg.Sync.DownloadAttempts)

	// Unset keys keep their defaults.
	assert.Equal(t, Default().API, cfg.API)
	assert.Equal(t, Default().Sync.RetryInterval, cfg.Sync.RetryInterval)

	cookie, err := cfg.SessionCookie()
	require.NoError(t, err)
	require.NotNil(t, cookie)
	assert.Equal(t, "session", cookie.Name)
	assert.Equal(t, "abc123", cookie.Value)
}

func TestLoad_PathFromEnvironment(t *testing.T) {
	path := writeConfig(t, "store:\n  path: from-env.db\n")

	cfg, err := LoadWithEnv("", env(map[string]string{EnvConfigPath: path}))
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Store.Path)
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := LoadWithEnv(path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, "server:\n  ur1: http://typo\n")

	_, err := LoadWithEnv(path, env(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ur1")
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "store:\n  path: file.db\n")

	cfg, err := LoadWithEnv(path, env(map[string]string{
		"GATESCAN_DB":            "env.db",
		"GATESCAN_SERVER_URL":    "https://tickets.example.com/api/v1",
		"GATESCAN_DRIVER":        "sqlite",
		"GATESCAN_LISTEN":        "127.0.0.1:9000",
		"GATESCAN_OTLP_ENDPOINT": "localhost:4317",
		"GATESCAN_TIMEOUT":       "10s",
		"GATESCAN_OFFLINE_MODE":  "true",
		"GATESCAN_SESSION":       "session=xyz",
		"GATESCAN_ONLINE":        "false",
	}))
	require.NoError(t, err)

	assert.Equal(t, "env.db", cfg.Store.Path)
	assert.Equal(t, "https://tickets.example.com/api/v1", cfg.Server.URL)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "127.0.0.1:9000", cfg.API.Listen)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, 10*time.Second, cfg.Server.Timeout)
	assert.True(t, cfg.Scanner.OfflineMode)
	assert.Equal(t, "session=xyz", cfg.Server.SessionCookie)
	assert.True(t, cfg.Scanner.Disconnected)
}

func TestLoad_BadEnvironmentValues(t *testing.T) {
	_, err := LoadWithEnv("", env(map[string]string{"GATESCAN_TIMEOUT": "soon"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATESCAN_TIMEOUT")

	_, err = LoadWithEnv("", env(map[string]string{"GATESCAN_OFFLINE_MODE": "maybe"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATESCAN_OFFLINE_MODE")
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "url scheme", mutate: func(c *Config) { c.Server.URL = "ftp://tickets.example.com" }, field: "server.url"},
		{name: "zero timeout", mutate: func(c *Config) { c.Server.Timeout = 0 }, field: "server.timeout"},
		{name: "malformed cookie", mutate: func(c *Config) { c.Server.SessionCookie = "no-equals-sign" }, field: "server.session_cookie"},
		{name: "empty db path", mutate: func(c *Config) { c.Store.Path = "" }, field: "store.path"},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "postgres" }, field: "store.driver"},
		{name: "negative debounce", mutate: func(c *Config) { c.Scanner.Debounce = -time.Second }, field: "scanner.debounce"},
		{name: "zero attempts", mutate: func(c *Config) { c.Sync.DownloadAttempts = 0 }, field: "sync.download_attempts"},
		{name: "listen without port", mutate: func(c *Config) { c.API.Listen = "localhost" }, field: "api.listen"},
		{name: "empty service name", mutate: func(c *Config) { c.Telemetry.ServiceName = "" }, field: "telemetry.service_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := Validate(cfg)
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tt.field)
		})
	}
}

func TestMarshal_RoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Scanner.OfflineMode = true

	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "debounce: 2.1s")

	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, cfg, back)
}

func TestSessionCookie_Unset(t *testing.T) {
	cookie, err := Default().SessionCookie()
	require.NoError(t, err)
	assert.Nil(t, cookie)
}
