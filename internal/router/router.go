// Package router classifies each inbound message and drives the quota and
// session components to produce the reply text.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/lewisedginton/line_assistant_bridge/internal/qa"
	"github.com/lewisedginton/line_assistant_bridge/internal/quota"
	"github.com/lewisedginton/line_assistant_bridge/internal/session"
	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

const (
	// DefaultQuotaExceededReply is sent when the daily allowance is spent.
	DefaultQuotaExceededReply = "We're sorry, but you've reached the message limit of the day. Please ask again tomorrow."

	// DefaultFallbackReply substitutes for the answer when the QA backend
	// fails.
	DefaultFallbackReply = "Sorry, it seems that there is something wrong with the AI right now. Please ask AI later, thank you."
)

// Config holds router reply texts.
type Config struct {
	QuotaExceededReply string
	FallbackReply      string
}

// Router decides the reply for one inbound message: echo for idle users,
// a QA-backend answer for AI-mode traffic, or the quota-exceeded notice.
type Router struct {
	quota              *quota.Manager
	sessions           *session.Machine
	backend            qa.Asker
	quotaExceededReply string
	fallbackReply      string
	log                logger.Logger
}

// New creates a message router.
func New(q *quota.Manager, sessions *session.Machine, backend qa.Asker, cfg Config, log logger.Logger) *Router {
	if cfg.QuotaExceededReply == "" {
		cfg.QuotaExceededReply = DefaultQuotaExceededReply
	}
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = DefaultFallbackReply
	}
	return &Router{
		quota:              q,
		sessions:           sessions,
		backend:            backend,
		quotaExceededReply: cfg.QuotaExceededReply,
		fallbackReply:      cfg.FallbackReply,
		log:                log,
	}
}

// Handle processes one inbound text message and returns the reply text.
//
// Messages that neither start the activation phrase nor belong to an active
// AI session are echoed verbatim and consume no quota. AI-bound messages
// first pass the quota gate; a denial closes the session and returns the
// quota-exceeded notice. Allowed messages refresh the session and are
// forwarded to the QA backend with no record lock held; backend failures
// degrade to the fallback reply. A non-nil error means persistence failed
// and no reply should be delivered.
func (r *Router) Handle(ctx context.Context, userID, displayName, text string) (string, error) {
	isActivation := r.sessions.IsActivation(text)

	active, err := r.sessions.IsActive(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("classify message: %w", err)
	}

	if !isActivation && !active {
		return text, nil
	}

	result, err := r.quota.TryConsume(ctx, userID, displayName)
	if err != nil {
		return "", fmt.Errorf("consume quota: %w", err)
	}

	if result == quota.Denied {
		if err := r.sessions.ForceIdle(ctx, userID); err != nil {
			r.log.Error("Failed to close session after quota denial",
				logger.UserIDField(userID), logger.ErrorField(err))
		}
		r.log.Info("Quota exhausted", logger.UserIDField(userID))
		return r.quotaExceededReply, nil
	}

	if err := r.sessions.MarkActive(ctx, userID); err != nil {
		return "", err
	}

	answer, err := r.backend.Ask(ctx, text)
	if err != nil {
		var backendErr *qa.BackendError
		if !errors.As(err, &backendErr) {
			r.log.Error("QA backend returned an unclassified error",
				logger.UserIDField(userID), logger.ErrorField(err))
		} else {
			r.log.Error("QA backend failed",
				logger.UserIDField(userID),
				logger.StringField("provider", backendErr.Provider),
				logger.ErrorField(err))
		}
		return r.fallbackReply, nil
	}

	return answer, nil
}
