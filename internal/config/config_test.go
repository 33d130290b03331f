package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3*time.Second, cfg.Discovery.ExpirationWindow)
	assert.Equal(t, 50, cfg.Discovery.KnownGoodLimit)
	assert.Equal(t, 30*time.Second, cfg.Jobs.DiscoveryTimeout)
	assert.Equal(t, []string{"_ipp._tcp", "_pdl-datastream._tcp"}, cfg.Discovery.MDNSServices)
}

func TestLoadOverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netprint.yaml")
	data := `
server:
  port: 9000
discovery:
  expiration_window: 5s
  mdns_enabled: false
  manual_printers:
    - name: Front desk
      address: 192.168.1.20:9100
      uuid: 6d1f2a3e-0000-4000-8000-000000000001
      formats: [application/pdf]
jobs:
  discovery_timeout: 10s
webhooks:
  - url: http://hooks.local/print
    secret: s3cret
    events: [job_completed]
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Discovery.ExpirationWindow)
	assert.False(t, cfg.Discovery.MDNSEnabled)
	require.Len(t, cfg.Discovery.ManualPrinters, 1)
	assert.Equal(t, "192.168.1.20:9100", cfg.Discovery.ManualPrinters[0].Address)
	assert.Equal(t, []string{"application/pdf"}, cfg.Discovery.ManualPrinters[0].Formats)
	assert.Equal(t, 10*time.Second, cfg.Jobs.DiscoveryTimeout)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"job_completed"}, cfg.Webhooks[0].Events)
	assert.Equal(t, 9100, cfg.Backend.Port, "unset keys keep defaults")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not, a, map"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NETPRINT_PORT", "9999")
	t.Setenv("NETPRINT_DB_PATH", "/var/lib/netprint/db.sqlite")
	t.Setenv("NETPRINT_LOG_LEVEL", "warn")
	t.Setenv("NETPRINT_LOG_FORMAT", "console")

	cfg := LoadFromEnv()
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "/var/lib/netprint/db.sqlite", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server port must be between"},
		{"no db path", func(c *Config) { c.Database.Path = "" }, "database path is required"},
		{"zero expiration", func(c *Config) { c.Discovery.ExpirationWindow = 0 }, "expiration window must be positive"},
		{"zero known-good", func(c *Config) { c.Discovery.KnownGoodLimit = 0 }, "known-good limit"},
		{"manual without port", func(c *Config) {
			c.Discovery.ManualPrinters = []ManualPrinter{{Address: "10.0.0.1"}}
		}, "manual printer 0: invalid address"},
		{"zero connect attempts", func(c *Config) { c.Backend.MaxConnectAttempts = 0 }, "max connect attempts"},
		{"webhook without url", func(c *Config) { c.Webhooks = []WebhookConfig{{}} }, "webhook 0: url is required"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger(LoggingConfig{Level: "verbose", Format: "json"})
	assert.Error(t, err)

	_, err = NewLogger(LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
