// Package store provides the user record store: durable keyed storage for
// per-user quota and session state. All implementations serialize mutations
// per user so that read-modify-write cycles are atomic for a given user while
// unrelated users never block each other.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when no record exists for the user identifier.
	ErrNotFound = errors.New("user record not found")

	// ErrAlreadyExists is returned by Create when a record for the user
	// identifier is already present.
	ErrAlreadyExists = errors.New("user record already exists")
)

// UserRecord is the per-user state tracked by the bridge. One exists for
// every user identifier that has ever sent a message; records are never
// deleted.
type UserRecord struct {
	// UserID is the opaque platform identifier, immutable primary key.
	UserID string

	// DisplayName is the last-observed profile name, synced opportunistically.
	DisplayName string

	// QuotaRemaining is the remaining daily message allowance.
	QuotaRemaining int

	// AIMode reports whether the user is in an active AI conversation.
	AIMode bool

	// LastAIMessageAt is the time of the most recent AI-mode interaction.
	// Only meaningful while AIMode is true.
	LastAIMessageAt time.Time
}

// UpdateFunc mutates a record in place inside the store's per-user critical
// section. Returning an error aborts the update: the stored record is left
// untouched and the error is propagated to the caller unchanged.
type UpdateFunc func(*UserRecord) error

// Store is the single source of truth for user records. Implementations must
// be safe for concurrent use; callers must not cache a record across a
// blocking call without re-reading it.
type Store interface {
	// Get returns the record for the user, or ErrNotFound.
	Get(ctx context.Context, userID string) (UserRecord, error)

	// Create inserts a new record, or returns ErrAlreadyExists.
	Create(ctx context.Context, rec UserRecord) error

	// Update runs fn on the current record under per-user exclusion and
	// persists the result. Returns the updated record, ErrNotFound if the
	// user is absent, or fn's error verbatim if fn aborted.
	Update(ctx context.Context, userID string, fn UpdateFunc) (UserRecord, error)

	// ScanAll returns a snapshot of every record.
	ScanAll(ctx context.Context) ([]UserRecord, error)

	// ScanActive returns a snapshot of the records currently in AI mode.
	ScanActive(ctx context.Context) ([]UserRecord, error)

	// ResetAllQuotas sets QuotaRemaining to quota on every record.
	// Idempotent within a reset window.
	ResetAllQuotas(ctx context.Context, quota int) error
}
