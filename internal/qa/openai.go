package qa

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

const openAIProvider = "openai"

// defaultSystemPrompt sets the assistant persona for the chat backend.
const defaultSystemPrompt = "You're a humorous services assistant who can speak both English and Chinese(TW) fluently."

// OpenAIConfig holds configuration for the OpenAI chat backend.
type OpenAIConfig struct {
	APIKey       string
	Model        string
	SystemPrompt string
	MaxTokens    int64
}

// OpenAI answers questions with a single-turn chat completion.
type OpenAI struct {
	client       *openai.Client
	model        string
	systemPrompt string
	maxTokens    int64
	log          logger.Logger
}

// NewOpenAI creates an OpenAI chat backend.
func NewOpenAI(cfg OpenAIConfig, log logger.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT3_5Turbo
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 100
	}

	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))

	return &OpenAI{
		client:       &client,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		log:          log,
	}, nil
}

// Ask sends the question as a single-turn chat completion and returns the
// first choice's content.
func (o *OpenAI) Ask(ctx context.Context, question string) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     o.model,
		MaxTokens: openai.Int(o.maxTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(o.systemPrompt),
			openai.UserMessage(question),
		},
	})
	if err != nil {
		return "", &BackendError{Provider: openAIProvider, Err: fmt.Errorf("chat completion: %w", err)}
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", &BackendError{Provider: openAIProvider, Err: fmt.Errorf("empty completion")}
	}

	answer := completion.Choices[0].Message.Content
	o.log.Debug("OpenAI answered", logger.IntField("answer_length", len(answer)))
	return answer, nil
}
