package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("get on empty store", func(t *testing.T) {
		m := NewMemory()
		_, err := m.Get(ctx, "U1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create then get", func(t *testing.T) {
		m := NewMemory()
		rec := UserRecord{UserID: "U1", DisplayName: "Alice", QuotaRemaining: 49}
		require.NoError(t, m.Create(ctx, rec))

		got, err := m.Get(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("duplicate create", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.Create(ctx, UserRecord{UserID: "U1"}))
		err := m.Create(ctx, UserRecord{UserID: "U1"})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})
}

func TestMemoryUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("missing user", func(t *testing.T) {
		m := NewMemory()
		_, err := m.Update(ctx, "U1", func(r *UserRecord) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("mutation persists", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.Create(ctx, UserRecord{UserID: "U1", QuotaRemaining: 10}))

		updated, err := m.Update(ctx, "U1", func(r *UserRecord) error {
			r.QuotaRemaining--
			r.AIMode = true
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 9, updated.QuotaRemaining)
		assert.True(t, updated.AIMode)

		got, err := m.Get(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, updated, got)
	})

	t.Run("aborted update leaves record untouched", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.Create(ctx, UserRecord{UserID: "U1", QuotaRemaining: 10}))

		abort := errors.New("abort")
		_, err := m.Update(ctx, "U1", func(r *UserRecord) error {
			r.QuotaRemaining = 0
			return abort
		})
		assert.ErrorIs(t, err, abort)

		got, err := m.Get(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, 10, got.QuotaRemaining)
	})

	t.Run("key is immutable", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.Create(ctx, UserRecord{UserID: "U1"}))

		updated, err := m.Update(ctx, "U1", func(r *UserRecord) error {
			r.UserID = "U2"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "U1", updated.UserID)
	})
}

func TestMemoryUpdateConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, UserRecord{UserID: "U1", QuotaRemaining: 0}))

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Update(ctx, "U1", func(r *UserRecord) error {
				r.QuotaRemaining++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, workers, got.QuotaRemaining)
}

func TestMemoryScanAll(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	records, err := m.ScanAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	now := time.Now()
	require.NoError(t, m.Create(ctx, UserRecord{UserID: "U1", QuotaRemaining: 50}))
	require.NoError(t, m.Create(ctx, UserRecord{UserID: "U2", AIMode: true, LastAIMessageAt: now}))

	records, err = m.ScanAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	ids := []string{records[0].UserID, records[1].UserID}
	assert.ElementsMatch(t, []string{"U1", "U2"}, ids)
}

func TestMemoryScanActive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	records, err := m.ScanActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	now := time.Now()
	require.NoError(t, m.Create(ctx, UserRecord{UserID: "U1", QuotaRemaining: 50}))
	require.NoError(t, m.Create(ctx, UserRecord{UserID: "U2", AIMode: true, LastAIMessageAt: now}))
	require.NoError(t, m.Create(ctx, UserRecord{UserID: "U3", AIMode: true, LastAIMessageAt: now}))

	records, err = m.ScanActive(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.True(t, rec.AIMode)
	}
	assert.ElementsMatch(t, []string{"U2", "U3"}, []string{records[0].UserID, records[1].UserID})
}

func TestMemoryResetAllQuotas(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, UserRecord{UserID: "U1", QuotaRemaining: 0}))
	require.NoError(t, m.Create(ctx, UserRecord{UserID: "U2", QuotaRemaining: 17}))

	require.NoError(t, m.ResetAllQuotas(ctx, 50))

	records, err := m.ScanAll(ctx)
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, 50, rec.QuotaRemaining)
	}

	// Repeating the reset is harmless
	require.NoError(t, m.ResetAllQuotas(ctx, 50))
	got, err := m.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.QuotaRemaining)
}
