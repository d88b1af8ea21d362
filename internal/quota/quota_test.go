package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/line_assistant_bridge/internal/store"
	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

func newTestManager(t *testing.T) (*Manager, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Format: "json"})
	return NewManager(s, DefaultMaxQuota, log), s
}

func TestTryConsumeNewUser(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)

	res, err := m.TryConsume(ctx, "U1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, Allowed, res)

	rec, err := s.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 49, rec.QuotaRemaining)
	assert.Equal(t, "Alice", rec.DisplayName)
	assert.False(t, rec.AIMode)
}

func TestTryConsumeDecrementsExisting(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	require.NoError(t, s.Create(ctx, store.UserRecord{UserID: "U1", DisplayName: "Alice", QuotaRemaining: 3}))

	for want := 2; want >= 0; want-- {
		res, err := m.TryConsume(ctx, "U1", "Alice")
		require.NoError(t, err)
		assert.Equal(t, Allowed, res)

		rec, err := s.Get(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, want, rec.QuotaRemaining)
	}
}

func TestTryConsumeDeniedAtZero(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	require.NoError(t, s.Create(ctx, store.UserRecord{UserID: "U1", DisplayName: "Alice", QuotaRemaining: 0}))

	res, err := m.TryConsume(ctx, "U1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, Denied, res)

	// Denial never mutates
	rec, err := s.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.QuotaRemaining)
}

func TestTryConsumeSyncsDisplayName(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	require.NoError(t, s.Create(ctx, store.UserRecord{UserID: "U1", DisplayName: "Alice", QuotaRemaining: 5}))

	t.Run("renamed on drift", func(t *testing.T) {
		res, err := m.TryConsume(ctx, "U1", "Alicia")
		require.NoError(t, err)
		assert.Equal(t, Allowed, res)

		rec, err := s.Get(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, "Alicia", rec.DisplayName)
	})

	t.Run("empty platform name kept out", func(t *testing.T) {
		_, err := m.TryConsume(ctx, "U1", "")
		require.NoError(t, err)

		rec, err := s.Get(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, "Alicia", rec.DisplayName)
	})
}

func TestTryConsumeConcurrentNeverOverspends(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)

	const startQuota = 5
	const workers = 40
	require.NoError(t, s.Create(ctx, store.UserRecord{UserID: "U1", DisplayName: "Alice", QuotaRemaining: startQuota}))

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.TryConsume(ctx, "U1", "Alice")
			assert.NoError(t, err)
			if res == Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(startQuota), allowed.Load())

	rec, err := s.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.QuotaRemaining)
}

func TestTryConsumeConcurrentFirstContact(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.TryConsume(ctx, "U1", "Alice")
			assert.NoError(t, err)
			assert.Equal(t, Allowed, res)
		}()
	}
	wg.Wait()

	// Exactly one unit spent per message, regardless of who created the record
	rec, err := s.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxQuota-workers, rec.QuotaRemaining)
}

func TestResetAll(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	require.NoError(t, s.Create(ctx, store.UserRecord{UserID: "U1", QuotaRemaining: 0}))
	require.NoError(t, s.Create(ctx, store.UserRecord{UserID: "U2", QuotaRemaining: 12}))

	require.NoError(t, m.ResetAll(ctx))

	// A previously exhausted user can consume again
	res, err := m.TryConsume(ctx, "U1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, Allowed, res)

	rec, err := s.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxQuota-1, rec.QuotaRemaining)
}
