// Package line connects the bridge to the LINE Messaging API: it parses
// webhook events, resolves user profiles, and delivers replies and push
// notifications.
package line

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/lewisedginton/line_assistant_bridge/internal/router"
	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

// Config holds LINE channel credentials.
type Config struct {
	ChannelSecret string
	ChannelToken  string
}

// messagingClient is the slice of the LINE messaging API the connector uses.
type messagingClient interface {
	ReplyMessage(req *messaging_api.ReplyMessageRequest) (*messaging_api.ReplyMessageResponse, error)
	PushMessage(req *messaging_api.PushMessageRequest, xLineRetryKey string) (*messaging_api.PushMessageResponse, error)
	GetProfile(userID string) (*messaging_api.UserProfileResponse, error)
}

// Connector receives LINE webhook deliveries and routes each text message
// through the message router. It also implements the reconciler's Notifier.
type Connector struct {
	channelSecret string
	client        messagingClient
	router        *router.Router
	log           logger.Logger
}

// New creates a LINE connector.
func New(cfg Config, r *router.Router, log logger.Logger) (*Connector, error) {
	if cfg.ChannelSecret == "" {
		return nil, fmt.Errorf("LINE channel secret is required")
	}
	client, err := messaging_api.NewMessagingApiAPI(cfg.ChannelToken)
	if err != nil {
		return nil, fmt.Errorf("create messaging API client: %w", err)
	}
	return newWithClient(cfg.ChannelSecret, client, r, log), nil
}

func newWithClient(channelSecret string, client messagingClient, r *router.Router, log logger.Logger) *Connector {
	return &Connector{
		channelSecret: channelSecret,
		client:        client,
		router:        r,
		log:           log,
	}
}

// WebhookHandler returns the HTTP handler for LINE webhook deliveries.
//
// Every parsed delivery is acknowledged with 200 no matter what happens
// while processing its events: a retried delivery would consume quota a
// second time, so failures are logged and swallowed instead. Only a
// signature mismatch is rejected, with 400.
func (c *Connector) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cb, err := webhook.ParseRequest(c.channelSecret, r)
		if err != nil {
			if errors.Is(err, webhook.ErrInvalidSignature) {
				c.log.Warn("Invalid webhook signature")
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			c.log.Error("Failed to parse webhook request", logger.ErrorField(err))
			w.WriteHeader(http.StatusOK)
			return
		}

		for _, event := range cb.Events {
			c.handleEvent(r.Context(), event)
		}
		w.WriteHeader(http.StatusOK)
	}
}

// handleEvent processes one webhook event. Anything other than a text
// message from a user chat is ignored.
func (c *Connector) handleEvent(ctx context.Context, event webhook.EventInterface) {
	msgEvent, ok := event.(webhook.MessageEvent)
	if !ok {
		return
	}
	textMsg, ok := msgEvent.Message.(webhook.TextMessageContent)
	if !ok {
		return
	}
	source, ok := msgEvent.Source.(webhook.UserSource)
	if !ok {
		return
	}
	userID := source.UserId

	displayName, err := c.GetDisplayName(ctx, userID)
	if err != nil {
		c.log.Error("Failed to look up user profile",
			logger.UserIDField(userID), logger.ErrorField(err))
		return
	}

	reply, err := c.router.Handle(ctx, userID, displayName, textMsg.Text)
	if err != nil {
		c.log.Error("Failed to handle message",
			logger.UserIDField(userID), logger.ErrorField(err))
		return
	}

	if err := c.reply(msgEvent.ReplyToken, reply); err != nil {
		c.log.Error("Failed to deliver reply",
			logger.UserIDField(userID), logger.ErrorField(err))
	}
}

// GetDisplayName resolves the user's current profile name.
func (c *Connector) GetDisplayName(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	profile, err := c.client.GetProfile(userID)
	if err != nil {
		return "", fmt.Errorf("get profile for user %s: %w", userID, err)
	}
	return profile.DisplayName, nil
}

func (c *Connector) reply(replyToken, text string) error {
	_, err := c.client.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	})
	return err
}

// PushText sends a message outside the reply flow, used for idle-session
// sign-off notifications.
func (c *Connector) PushText(ctx context.Context, userID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.client.PushMessage(&messaging_api.PushMessageRequest{
		To: userID,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	}, "")
	if err != nil {
		return fmt.Errorf("push message to user %s: %w", userID, err)
	}
	return nil
}
