// Package config defines the application configuration surface, loaded from
// YAML and environment variables via pkg/config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

// AppConfig holds all application configuration.
type AppConfig struct {
	// Service configuration
	ServiceName string `env:"SERVICE_NAME" yaml:"service_name" default:"line-assistant-bridge"`
	Version     string `env:"VERSION" yaml:"version" default:"dev"`
	Environment string `env:"ENVIRONMENT" yaml:"environment" default:"development"`

	// Webhook server configuration
	Port           int           `env:"PORT" yaml:"port" default:"8080"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" yaml:"request_timeout" default:"30s"`

	Line     LineConfig     `yaml:"line,inline"`
	Backend  BackendConfig  `yaml:"backend,inline"`
	Quota    QuotaConfig    `yaml:"quota,inline"`
	Session  SessionConfig  `yaml:"session,inline"`
	Database DatabaseConfig `yaml:"database,inline"`

	Logging    LoggingConfig    `yaml:"logging,inline"`
	Monitoring MonitoringConfig `yaml:"monitoring,inline"`
	Health     HealthConfig     `yaml:"health,inline"`
	Security   SecurityConfig   `yaml:"security,inline"`
}

// Validate validates the configuration and returns an error if invalid
func (c *AppConfig) Validate() error {
	var result error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		result = multierror.Append(result, fmt.Errorf("log_level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		result = multierror.Append(result, fmt.Errorf("log_format must be either 'json' or 'text', got %q", c.Logging.Format))
	}

	if c.Port < 1 || c.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}

	if c.RequestTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("request_timeout must be greater than 0"))
	}

	if err := c.Backend.validate(); err != nil {
		result = multierror.Append(result, err)
	}

	if c.Quota.DailyLimit <= 0 {
		result = multierror.Append(result, fmt.Errorf("quota_daily_limit must be greater than 0, got %d", c.Quota.DailyLimit))
	}

	if err := c.Session.validate(); err != nil {
		result = multierror.Append(result, err)
	}

	if c.Database.URL != "" && c.Database.MaxConnections <= 0 {
		result = multierror.Append(result, fmt.Errorf("database_max_connections must be greater than 0 when database is configured"))
	}

	return result
}

// GetLogLevel returns the parsed logger level
func (c *AppConfig) GetLogLevel() logger.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return logger.DebugLevel
	case "warn", "warning":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// LogConfig logs the current configuration (without sensitive data)
func (c *AppConfig) LogConfig(log logger.Logger) {
	log.Info("Application configuration loaded",
		logger.StringField("service_name", c.ServiceName),
		logger.StringField("version", c.Version),
		logger.StringField("environment", c.Environment),
		logger.IntField("port", c.Port),
		logger.StringField("qa_provider", c.Backend.Provider),
		logger.IntField("quota_daily_limit", c.Quota.DailyLimit),
		logger.DurationField("session_idle_timeout", c.Session.IdleTimeout),
		logger.StringField("log_level", c.Logging.Level),
		logger.StringField("log_format", c.Logging.Format),
		logger.BoolField("metrics_enabled", c.Monitoring.MetricsEnabled),
		logger.BoolField("database_configured", c.Database.URL != ""),
	)
}
