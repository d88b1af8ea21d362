package config

// QuotaConfig holds daily quota settings.
type QuotaConfig struct {
	DailyLimit    int    `env:"QUOTA_DAILY_LIMIT" yaml:"daily_limit" default:"50"`
	ExceededReply string `env:"QUOTA_EXCEEDED_REPLY" yaml:"exceeded_reply"`
}
