// ABOUTME: Tests for configuration loading
// ABOUTME: Defaults, YAML overrides and validation
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ftbuffer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost:1972", cfg.Addr())
	assert.Equal(t, 5*time.Second, cfg.GracePeriod)
	assert.Empty(t, cfg.WebSocket)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
host: 0.0.0.0
port: 2000
grace_period: 750ms
websocket: ":2001"
metrics: ":9090"
nats:
  url: nats://127.0.0.1:4222
mdns:
  enabled: true
  name: lab
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:2000", cfg.Addr())
	assert.Equal(t, 750*time.Millisecond, cfg.GracePeriod)
	assert.Equal(t, ":2001", cfg.WebSocket)
	assert.Equal(t, ":9090", cfg.Metrics)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "ftbuffer", cfg.NATS.Subject, "unset keys keep their defaults")
	assert.True(t, cfg.MDNS.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "port too large", body: "port: 70000"},
		{name: "port zero", body: "port: 0"},
		{name: "negative grace", body: "grace_period: -1s"},
		{name: "zero max payload", body: "max_payload: 0"},
		{name: "not yaml", body: "port: [1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
