package qa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

const chatPDFProvider = "chatpdf"

// ChatPDFConfig holds configuration for the ChatPDF backend.
type ChatPDFConfig struct {
	APIKey   string
	SourceID string
	BaseURL  string
	Timeout  time.Duration
}

// ChatPDF answers questions against a single uploaded document through the
// ChatPDF HTTP API. There is no official Go SDK, so this is a thin client
// over the one endpoint the bridge needs.
type ChatPDF struct {
	apiKey   string
	sourceID string
	baseURL  string
	client   *http.Client
	log      logger.Logger
}

type chatPDFRequest struct {
	SourceID string           `json:"sourceId"`
	Messages []chatPDFMessage `json:"messages"`
}

type chatPDFMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPDFResponse struct {
	Content string `json:"content"`
}

// NewChatPDF creates a ChatPDF backend.
func NewChatPDF(cfg ChatPDFConfig, log logger.Logger) (*ChatPDF, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("chatpdf API key is required")
	}
	if cfg.SourceID == "" {
		return nil, fmt.Errorf("chatpdf source ID is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.chatpdf.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &ChatPDF{
		apiKey:   cfg.APIKey,
		sourceID: cfg.SourceID,
		baseURL:  cfg.BaseURL,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log,
	}, nil
}

// Ask sends a single-message chat to the ChatPDF API and returns the answer.
func (c *ChatPDF) Ask(ctx context.Context, question string) (string, error) {
	payload, err := json.Marshal(chatPDFRequest{
		SourceID: c.sourceID,
		Messages: []chatPDFMessage{{Role: "user", Content: question}},
	})
	if err != nil {
		return "", &BackendError{Provider: chatPDFProvider, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chats/message", bytes.NewReader(payload))
	if err != nil {
		return "", &BackendError{Provider: chatPDFProvider, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &BackendError{Provider: chatPDFProvider, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &BackendError{Provider: chatPDFProvider, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &BackendError{
			Provider: chatPDFProvider,
			Err:      fmt.Errorf("API error (status %d): %s", resp.StatusCode, body),
		}
	}

	var answer chatPDFResponse
	if err := json.Unmarshal(body, &answer); err != nil {
		return "", &BackendError{Provider: chatPDFProvider, Err: fmt.Errorf("parse response: %w", err)}
	}
	if answer.Content == "" {
		return "", &BackendError{Provider: chatPDFProvider, Err: fmt.Errorf("empty answer in response")}
	}

	c.log.Debug("ChatPDF answered", logger.IntField("answer_length", len(answer.Content)))
	return answer.Content, nil
}
