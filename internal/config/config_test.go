// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownGrace)
	assert.Equal(t, "data/vigil.db", cfg.Database.Path)
	assert.Equal(t, 7*24*time.Hour, cfg.Database.HistoryRetention)
	assert.Equal(t, 10, cfg.Monitoring.Workers)
	assert.Equal(t, 1000, cfg.Monitoring.QueueSize)
	assert.Equal(t, 60*time.Second, cfg.Monitoring.DefaultInterval)
	assert.Equal(t, 0.1, cfg.Monitoring.JitterFraction)
	assert.Equal(t, 3, cfg.Notifications.MaxAttempts)
	assert.Equal(t, "https://api.telegram.org", cfg.Notifications.TelegramAPIBase)
	assert.Equal(t, 587, cfg.Notifications.SMTP.Port)
	assert.Equal(t, "/metrics", cfg.Prometheus.MetricsPath)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: ":8443"
  shutdown_grace: 30s
database:
  path: /var/lib/vigil/vigil.db
  history_retention: 72h
monitoring:
  workers: 4
  queue_size: 100
  default_interval: 15s
  jitter_fraction: 0.2
notifications:
  max_attempts: 5
  backoff: 1s
  telegram_bot_token: daemon-token
  smtp:
    host: smtp.example.com
    from: alerts@example.com
prometheus:
  enabled: true
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownGrace)
	assert.Equal(t, "/var/lib/vigil/vigil.db", cfg.Database.Path)
	assert.Equal(t, 72*time.Hour, cfg.Database.HistoryRetention)
	assert.Equal(t, 4, cfg.Monitoring.Workers)
	assert.Equal(t, 15*time.Second, cfg.Monitoring.DefaultInterval)
	assert.Equal(t, 0.2, cfg.Monitoring.JitterFraction)
	assert.Equal(t, 5, cfg.Notifications.MaxAttempts)
	assert.Equal(t, "daemon-token", cfg.Notifications.TelegramBotToken)
	assert.Equal(t, "smtp.example.com", cfg.Notifications.SMTP.Host)
	assert.True(t, cfg.Prometheus.Enabled)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative workers", "monitoring:\n  workers: -1\n"},
		{"negative queue size", "monitoring:\n  queue_size: -5\n"},
		{"jitter out of range", "monitoring:\n  jitter_fraction: 0.9\n"},
		{"negative max attempts", "notifications:\n  max_attempts: -2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [not a mapping"))
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, validate(cfg))
}
