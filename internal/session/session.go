// Package session governs the per-user AI conversation state: entry on the
// activation phrase, refresh on each message, and exit on idle timeout or
// quota denial.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lewisedginton/line_assistant_bridge/internal/store"
	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

const (
	// DefaultActivationPhrase is the greeting that summons the assistant.
	DefaultActivationPhrase = "hi ai"

	// DefaultIdleTimeout is how long an AI session may sit without a new
	// message before the sweeper exits it.
	DefaultIdleTimeout = 5 * time.Minute
)

// errStillActive aborts an expiry update when the session was refreshed
// after the sweeper read its snapshot.
var errStillActive = errors.New("session still active")

// Config holds session machine settings.
type Config struct {
	// ActivationPhrase is matched case-insensitively against the start of
	// each message. Empty uses DefaultActivationPhrase.
	ActivationPhrase string

	// IdleTimeout is the maximum idle duration before auto-exit. Zero uses
	// DefaultIdleTimeout.
	IdleTimeout time.Duration

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Machine is the two-state session machine (idle / AI-active) persisted in
// the user record store. All transitions run inside the store's per-user
// critical section.
type Machine struct {
	store       store.Store
	phrase      string
	idleTimeout time.Duration
	now         func() time.Time
	log         logger.Logger
}

// NewMachine creates a session machine over the given store.
func NewMachine(s store.Store, cfg Config, log logger.Logger) *Machine {
	phrase := strings.ToLower(cfg.ActivationPhrase)
	if phrase == "" {
		phrase = DefaultActivationPhrase
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Machine{
		store:       s,
		phrase:      phrase,
		idleTimeout: idleTimeout,
		now:         now,
		log:         log,
	}
}

// IdleTimeout returns the configured idle timeout.
func (m *Machine) IdleTimeout() time.Duration {
	return m.idleTimeout
}

// IsActivation reports whether the message summons the assistant. The check
// is a case-insensitive compare over exactly the first len(phrase)
// characters, so "hi aishiteru" matches while "hi a" does not.
func (m *Machine) IsActivation(text string) bool {
	if len(text) < len(m.phrase) {
		return false
	}
	return strings.ToLower(text[:len(m.phrase)]) == m.phrase
}

// IsActive reports whether the user is currently in AI mode. Unknown users
// are idle by definition.
func (m *Machine) IsActive(ctx context.Context, userID string) (bool, error) {
	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read session state for user %s: %w", userID, err)
	}
	return rec.AIMode, nil
}

// MarkActive enters AI mode, or refreshes the interaction timestamp when the
// user is already active. Sending the activation phrase mid-session is a
// self-loop: no side effect beyond the timestamp update.
func (m *Machine) MarkActive(ctx context.Context, userID string) error {
	_, err := m.store.Update(ctx, userID, func(rec *store.UserRecord) error {
		rec.AIMode = true
		rec.LastAIMessageAt = m.now()
		return nil
	})
	if err != nil {
		return fmt.Errorf("activate session for user %s: %w", userID, err)
	}
	return nil
}

// ForceIdle exits AI mode unconditionally. Used when a quota denial closes
// the session. A missing record is already idle.
func (m *Machine) ForceIdle(ctx context.Context, userID string) error {
	_, err := m.store.Update(ctx, userID, func(rec *store.UserRecord) error {
		rec.AIMode = false
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deactivate session for user %s: %w", userID, err)
	}
	return nil
}

// ExpireIfIdle exits AI mode if the session's last interaction is older than
// the idle timeout, re-checked under the record lock so a message that
// arrives mid-sweep keeps the session alive. Returns true when the session
// was expired by this call.
func (m *Machine) ExpireIfIdle(ctx context.Context, userID string) (bool, error) {
	cutoff := m.now().Add(-m.idleTimeout)

	_, err := m.store.Update(ctx, userID, func(rec *store.UserRecord) error {
		if !rec.AIMode || rec.LastAIMessageAt.After(cutoff) {
			return errStillActive
		}
		rec.AIMode = false
		return nil
	})
	switch {
	case err == nil:
		m.log.Info("Expired idle AI session", logger.UserIDField(userID))
		return true, nil
	case errors.Is(err, errStillActive), errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("expire session for user %s: %w", userID, err)
	}
}
