package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// SessionConfig holds AI session lifecycle settings, including the
// reconciler's loop intervals.
type SessionConfig struct {
	ActivationPhrase string        `env:"SESSION_ACTIVATION_PHRASE" yaml:"activation_phrase" default:"hi ai"`
	IdleTimeout      time.Duration `env:"SESSION_IDLE_TIMEOUT" yaml:"idle_timeout" default:"5m"`
	IdleNotification string        `env:"SESSION_IDLE_NOTIFICATION" yaml:"idle_notification"`

	SweepInterval      time.Duration `env:"SESSION_SWEEP_INTERVAL" yaml:"sweep_interval" default:"5s"`
	ResetCheckInterval time.Duration `env:"QUOTA_RESET_CHECK_INTERVAL" yaml:"reset_check_interval" default:"30s"`

	// Timezone determines which midnight triggers the daily quota reset.
	Timezone string `env:"QUOTA_RESET_TIMEZONE" yaml:"reset_timezone" default:"Local"`
}

// Location resolves the configured reset timezone.
func (c *SessionConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func (c *SessionConfig) validate() error {
	var result error

	if c.ActivationPhrase == "" {
		result = multierror.Append(result, fmt.Errorf("session_activation_phrase must not be empty"))
	}
	if c.IdleTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("session_idle_timeout must be greater than 0"))
	}
	if c.SweepInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("session_sweep_interval must be greater than 0"))
	}
	if c.ResetCheckInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("quota_reset_check_interval must be greater than 0"))
	}
	if _, err := c.Location(); err != nil {
		result = multierror.Append(result, fmt.Errorf("quota_reset_timezone is invalid: %w", err))
	}

	return result
}
