package store

import (
	"context"
	"sync"
)

// Memory is an in-memory Store guarded by a per-record mutex, so concurrent
// consumers of the same user serialize while different users proceed in
// parallel. Used when no database is configured, and by tests.
type Memory struct {
	mu    sync.RWMutex
	users map[string]*memoryEntry
}

type memoryEntry struct {
	mu  sync.Mutex
	rec UserRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]*memoryEntry),
	}
}

func (m *Memory) entry(userID string) (*memoryEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.users[userID]
	return e, ok
}

// Get returns a copy of the record for the user, or ErrNotFound.
func (m *Memory) Get(_ context.Context, userID string) (UserRecord, error) {
	e, ok := m.entry(userID)
	if !ok {
		return UserRecord{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

// Create inserts a new record, or returns ErrAlreadyExists.
func (m *Memory) Create(_ context.Context, rec UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[rec.UserID]; ok {
		return ErrAlreadyExists
	}
	m.users[rec.UserID] = &memoryEntry{rec: rec}
	return nil
}

// Update runs fn on a working copy under the record's mutex. If fn errors
// the stored record is untouched and the error is returned unchanged.
func (m *Memory) Update(_ context.Context, userID string, fn UpdateFunc) (UserRecord, error) {
	e, ok := m.entry(userID)
	if !ok {
		return UserRecord{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	working := e.rec
	if err := fn(&working); err != nil {
		return UserRecord{}, err
	}
	working.UserID = e.rec.UserID // the key is immutable
	e.rec = working
	return working, nil
}

// ScanAll returns a point-in-time copy of every record.
func (m *Memory) ScanAll(_ context.Context) ([]UserRecord, error) {
	m.mu.RLock()
	entries := make([]*memoryEntry, 0, len(m.users))
	for _, e := range m.users {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	// Records are copied entry by entry so a slow caller never holds the
	// map lock while record mutations continue.
	records := make([]UserRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		records = append(records, e.rec)
		e.mu.Unlock()
	}
	return records, nil
}

// ScanActive returns a point-in-time copy of the records in AI mode.
func (m *Memory) ScanActive(_ context.Context) ([]UserRecord, error) {
	m.mu.RLock()
	entries := make([]*memoryEntry, 0, len(m.users))
	for _, e := range m.users {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var records []UserRecord
	for _, e := range entries {
		e.mu.Lock()
		if e.rec.AIMode {
			records = append(records, e.rec)
		}
		e.mu.Unlock()
	}
	return records, nil
}

// ResetAllQuotas sets every record's quota to the given ceiling.
func (m *Memory) ResetAllQuotas(_ context.Context, quota int) error {
	m.mu.RLock()
	entries := make([]*memoryEntry, 0, len(m.users))
	for _, e := range m.users {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		e.rec.QuotaRemaining = quota
		e.mu.Unlock()
	}
	return nil
}
