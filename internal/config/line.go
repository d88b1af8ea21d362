package config

// LineConfig holds LINE channel credentials.
type LineConfig struct {
	ChannelSecret string `env:"LINE_CHANNEL_SECRET" yaml:"channel_secret" required:"true"`
	ChannelToken  string `env:"LINE_CHANNEL_ACCESS_TOKEN" yaml:"channel_access_token" required:"true"`
}
