// internal/config/config.go - File-based configuration for the vigil daemon
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Prometheus    PrometheusConfig    `yaml:"prometheus"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Port          string        `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type DatabaseConfig struct {
	Path             string        `yaml:"path"`
	HistoryRetention time.Duration `yaml:"history_retention"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
}

type MonitoringConfig struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	DefaultInterval time.Duration `yaml:"default_interval"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	JitterFraction  float64       `yaml:"jitter_fraction"`
	SSLTimeout      time.Duration `yaml:"ssl_timeout"`
}

type NotificationsConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	Backoff          time.Duration `yaml:"backoff"`
	Timeout          time.Duration `yaml:"timeout"`
	SMTP             SMTPConfig    `yaml:"smtp"`
	WhatsAppGateway  string        `yaml:"whatsapp_gateway"`
	TelegramAPIBase  string        `yaml:"telegram_api_base"`
	TelegramBotToken string        `yaml:"telegram_bot_token"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	setDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with all defaults applied, suitable for
// embedding the engine without a config file.
func Default() *Config {
	config := &Config{}
	setDefaults(config)
	return config
}

func setDefaults(config *Config) {
	if config.Server.Port == "" {
		config.Server.Port = ":8080"
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 15 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 15 * time.Second
	}
	if config.Server.ShutdownGrace == 0 {
		config.Server.ShutdownGrace = 10 * time.Second
	}

	if config.Database.Path == "" {
		config.Database.Path = "data/vigil.db"
	}
	if config.Database.HistoryRetention == 0 {
		config.Database.HistoryRetention = 7 * 24 * time.Hour
	}
	if config.Database.CleanupInterval == 0 {
		config.Database.CleanupInterval = 6 * time.Hour
	}

	if config.Monitoring.Workers == 0 {
		config.Monitoring.Workers = 10
	}
	if config.Monitoring.QueueSize == 0 {
		config.Monitoring.QueueSize = 1000
	}
	if config.Monitoring.DefaultInterval == 0 {
		config.Monitoring.DefaultInterval = 60 * time.Second
	}
	if config.Monitoring.DefaultTimeout == 0 {
		config.Monitoring.DefaultTimeout = 10 * time.Second
	}
	if config.Monitoring.JitterFraction == 0 {
		config.Monitoring.JitterFraction = 0.1
	}
	if config.Monitoring.SSLTimeout == 0 {
		config.Monitoring.SSLTimeout = 10 * time.Second
	}

	if config.Notifications.MaxAttempts == 0 {
		config.Notifications.MaxAttempts = 3
	}
	if config.Notifications.Backoff == 0 {
		config.Notifications.Backoff = 2 * time.Second
	}
	if config.Notifications.Timeout == 0 {
		config.Notifications.Timeout = 30 * time.Second
	}
	if config.Notifications.TelegramAPIBase == "" {
		config.Notifications.TelegramAPIBase = "https://api.telegram.org"
	}
	if config.Notifications.SMTP.Port == 0 {
		config.Notifications.SMTP.Port = 587
	}

	if config.Prometheus.MetricsPath == "" {
		config.Prometheus.MetricsPath = "/metrics"
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
}

func validate(config *Config) error {
	if config.Monitoring.Workers < 1 {
		return fmt.Errorf("monitoring.workers must be at least 1, got %d", config.Monitoring.Workers)
	}
	if config.Monitoring.QueueSize < 1 {
		return fmt.Errorf("monitoring.queue_size must be at least 1, got %d", config.Monitoring.QueueSize)
	}
	if config.Monitoring.JitterFraction < 0 || config.Monitoring.JitterFraction > 0.5 {
		return fmt.Errorf("monitoring.jitter_fraction must be between 0 and 0.5, got %v", config.Monitoring.JitterFraction)
	}
	if config.Notifications.MaxAttempts < 1 {
		return fmt.Errorf("notifications.max_attempts must be at least 1, got %d", config.Notifications.MaxAttempts)
	}
	if config.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
