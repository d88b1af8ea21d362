// Package quota enforces the per-user daily message allowance.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/lewisedginton/line_assistant_bridge/internal/store"
	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

// DefaultMaxQuota is the daily message allowance restored by the reset.
const DefaultMaxQuota = 50

// Result is the outcome of a consume attempt. Denial is a normal result, not
// an error.
type Result int

const (
	// Denied means the user has no quota left; nothing was mutated.
	Denied Result = iota
	// Allowed means one quota unit was consumed (or the user was just
	// created with the first unit already spent).
	Allowed
)

// String returns the result name for logs.
func (r Result) String() string {
	if r == Allowed {
		return "allowed"
	}
	return "denied"
}

// errExhausted aborts the store update when the quota hit zero, so the
// denied path never mutates the record.
var errExhausted = errors.New("quota exhausted")

// Manager mutates and enforces the daily allowance. The check-and-decrement
// is a single atomic unit: it runs inside the store's per-user critical
// section, so two concurrent messages can never both spend the last unit.
type Manager struct {
	store    store.Store
	maxQuota int
	log      logger.Logger
}

// NewManager creates a quota manager over the given store.
func NewManager(s store.Store, maxQuota int, log logger.Logger) *Manager {
	if maxQuota <= 0 {
		maxQuota = DefaultMaxQuota
	}
	return &Manager{
		store:    s,
		maxQuota: maxQuota,
		log:      log,
	}
}

// MaxQuota returns the configured daily ceiling.
func (m *Manager) MaxQuota() int {
	return m.maxQuota
}

// TryConsume spends one quota unit for the user. A first-time user is
// created with maxQuota-1 remaining, since the triggering message itself
// consumes one unit. An existing user whose display name drifted from the
// platform-reported value is renamed as a side effect; the rename never
// affects the quota decision.
func (m *Manager) TryConsume(ctx context.Context, userID, displayName string) (Result, error) {
	for {
		_, err := m.store.Update(ctx, userID, func(rec *store.UserRecord) error {
			if displayName != "" && rec.DisplayName != displayName {
				rec.DisplayName = displayName
			}
			if rec.QuotaRemaining <= 0 {
				return errExhausted
			}
			rec.QuotaRemaining--
			return nil
		})

		switch {
		case err == nil:
			return Allowed, nil

		case errors.Is(err, errExhausted):
			return Denied, nil

		case errors.Is(err, store.ErrNotFound):
			createErr := m.store.Create(ctx, store.UserRecord{
				UserID:         userID,
				DisplayName:    displayName,
				QuotaRemaining: m.maxQuota - 1,
			})
			if createErr == nil {
				m.log.Info("Created user record",
					logger.UserIDField(userID),
					logger.IntField("quota_remaining", m.maxQuota-1))
				return Allowed, nil
			}
			if errors.Is(createErr, store.ErrAlreadyExists) {
				// Lost the race against a concurrent first message;
				// retry as an existing user.
				continue
			}
			return Denied, fmt.Errorf("create user %s: %w", userID, createErr)

		default:
			return Denied, fmt.Errorf("consume quota for user %s: %w", userID, err)
		}
	}
}

// ResetAll restores every user's allowance to the daily ceiling. Safe to run
// repeatedly within the same reset window.
func (m *Manager) ResetAll(ctx context.Context) error {
	if err := m.store.ResetAllQuotas(ctx, m.maxQuota); err != nil {
		return fmt.Errorf("reset all quotas: %w", err)
	}
	return nil
}
