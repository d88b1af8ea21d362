package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgconfig "github.com/lewisedginton/line_assistant_bridge/pkg/config"
	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LINE_CHANNEL_SECRET", "secret")
	t.Setenv("LINE_CHANNEL_ACCESS_TOKEN", "token")
	t.Setenv("CHATPDF_API_KEY", "key")
	t.Setenv("CHATPDF_SOURCE_ID", "src")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	var cfg AppConfig
	require.NoError(t, pkgconfig.GetConfigFromEnvVars(&cfg))

	assert.Equal(t, "line-assistant-bridge", cfg.ServiceName)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ProviderChatPDF, cfg.Backend.Provider)
	assert.Equal(t, 50, cfg.Quota.DailyLimit)
	assert.Equal(t, "hi ai", cfg.Session.ActivationPhrase)
	assert.Equal(t, 5*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.Session.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.Session.ResetCheckInterval)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Monitoring.MetricsEnabled)
}

func TestLoadMissingCredentials(t *testing.T) {
	var cfg AppConfig
	err := pkgconfig.GetConfigFromEnvVars(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LINE_CHANNEL_SECRET")
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QUOTA_DAILY_LIMIT", "10")
	t.Setenv("SESSION_IDLE_TIMEOUT", "1m")
	t.Setenv("SESSION_ACTIVATION_PHRASE", "yo bot")
	t.Setenv("LOG_LEVEL", "debug")

	var cfg AppConfig
	require.NoError(t, pkgconfig.GetConfigFromEnvVars(&cfg))

	assert.Equal(t, 10, cfg.Quota.DailyLimit)
	assert.Equal(t, time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, "yo bot", cfg.Session.ActivationPhrase)
	assert.Equal(t, logger.DebugLevel, cfg.GetLogLevel())
}

func TestValidate(t *testing.T) {
	valid := func() AppConfig {
		return AppConfig{
			Port:           8080,
			RequestTimeout: 30 * time.Second,
			Backend: BackendConfig{
				Provider: ProviderChatPDF,
				ChatPDF:  ChatPDFConfig{APIKey: "k", SourceID: "s"},
			},
			Quota: QuotaConfig{DailyLimit: 50},
			Session: SessionConfig{
				ActivationPhrase:   "hi ai",
				IdleTimeout:        5 * time.Minute,
				SweepInterval:      5 * time.Second,
				ResetCheckInterval: 30 * time.Second,
				Timezone:           "UTC",
			},
			Logging: LoggingConfig{Level: "info", Format: "json"},
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		cfg := valid()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := valid()
		cfg.Backend.Provider = "llama"
		assert.Error(t, cfg.Validate())
	})

	t.Run("openai provider needs key", func(t *testing.T) {
		cfg := valid()
		cfg.Backend.Provider = ProviderOpenAI
		require.Error(t, cfg.Validate())

		cfg.Backend.OpenAI.APIKey = "k"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("bad timezone", func(t *testing.T) {
		cfg := valid()
		cfg.Session.Timezone = "Mars/Olympus_Mons"
		assert.Error(t, cfg.Validate())
	})

	t.Run("collects multiple errors", func(t *testing.T) {
		cfg := valid()
		cfg.Port = 0
		cfg.Quota.DailyLimit = -1
		cfg.Logging.Level = "verbose"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port")
		assert.Contains(t, err.Error(), "quota_daily_limit")
		assert.Contains(t, err.Error(), "log_level")
	})
}
