package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// QA backend providers.
const (
	ProviderChatPDF = "chatpdf"
	ProviderOpenAI  = "openai"
)

// BackendConfig holds QA backend selection and credentials.
type BackendConfig struct {
	Provider      string `env:"QA_PROVIDER" yaml:"provider" default:"chatpdf"`
	FallbackReply string `env:"QA_FALLBACK_REPLY" yaml:"fallback_reply"`

	ChatPDF ChatPDFConfig `yaml:"chatpdf,inline"`
	OpenAI  OpenAIConfig  `yaml:"openai,inline"`
}

// ChatPDFConfig holds ChatPDF-specific configuration.
type ChatPDFConfig struct {
	APIKey   string        `env:"CHATPDF_API_KEY" yaml:"api_key"`
	SourceID string        `env:"CHATPDF_SOURCE_ID" yaml:"source_id"`
	BaseURL  string        `env:"CHATPDF_API_URL" yaml:"api_base_url" default:"https://api.chatpdf.com"`
	Timeout  time.Duration `env:"CHATPDF_TIMEOUT" yaml:"timeout" default:"30s"`
}

// OpenAIConfig holds OpenAI-specific configuration.
type OpenAIConfig struct {
	APIKey       string `env:"OPENAI_API_KEY" yaml:"api_key"`
	Model        string `env:"OPENAI_MODEL" yaml:"model" default:"gpt-3.5-turbo"`
	SystemPrompt string `env:"OPENAI_SYSTEM_PROMPT" yaml:"system_prompt"`
	MaxTokens    int64  `env:"OPENAI_MAX_TOKENS" yaml:"max_tokens" default:"100"`
}

func (c *BackendConfig) validate() error {
	var result error

	switch c.Provider {
	case ProviderChatPDF:
		if c.ChatPDF.APIKey == "" {
			result = multierror.Append(result, fmt.Errorf("chatpdf_api_key is required when qa_provider is %q", ProviderChatPDF))
		}
		if c.ChatPDF.SourceID == "" {
			result = multierror.Append(result, fmt.Errorf("chatpdf_source_id is required when qa_provider is %q", ProviderChatPDF))
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			result = multierror.Append(result, fmt.Errorf("openai_api_key is required when qa_provider is %q", ProviderOpenAI))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("qa_provider must be one of [%s, %s], got %q", ProviderChatPDF, ProviderOpenAI, c.Provider))
	}

	return result
}
