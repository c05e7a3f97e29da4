package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLockAllOrNothing(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	require.NoError(t, m.TryLock(ctx, "reservations", []string{"r2"}, "holder-a", time.Minute))

	err := m.TryLock(ctx, "reservations", []string{"r1", "r2", "r3"}, "holder-b", time.Minute)
	assert.ErrorIs(t, err, ErrLocksUnavailable)

	// r1 and r3 must remain free for a third party.
	assert.NoError(t, m.TryLock(ctx, "reservations", []string{"r1", "r3"}, "holder-c", time.Minute))
}

func TestTryLockReentrantForSameToken(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	require.NoError(t, m.TryLock(ctx, "availability", []string{"p1", "p2"}, "tok", time.Minute))
	assert.NoError(t, m.TryLock(ctx, "availability", []string{"p1", "p2"}, "tok", time.Minute))
}

func TestUnlockIdempotent(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	require.NoError(t, m.TryLock(ctx, "reservations", []string{"p1"}, "tok", time.Minute))
	require.NoError(t, m.Unlock(ctx, "reservations", []string{"p1"}, "tok"))

	// Releasing an absent record succeeds.
	assert.NoError(t, m.Unlock(ctx, "reservations", []string{"p1"}, "tok"))
}

func TestUnlockForeignTokenMismatch(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	require.NoError(t, m.TryLock(ctx, "reservations", []string{"p1"}, "holder-a", time.Minute))

	err := m.Unlock(ctx, "reservations", []string{"p1"}, "holder-b")
	assert.ErrorIs(t, err, ErrLockValueMismatch)

	// The original holder is unaffected.
	assert.NoError(t, m.Unlock(ctx, "reservations", []string{"p1"}, "holder-a"))
}

func TestLockTTLExpiry(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	now := time.Now()
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.TryLock(ctx, "reservations", []string{"p1"}, "crashed", time.Second))

	m.SetClock(func() time.Time { return now.Add(2 * time.Second) })
	assert.NoError(t, m.TryLock(ctx, "reservations", []string{"p1"}, "successor", time.Minute))
}

func TestAcquireRetriesUntilReleased(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	require.NoError(t, m.TryLock(ctx, "reservations", []string{"p1"}, "holder-a", time.Minute))

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = m.Unlock(context.Background(), "reservations", []string{"p1"}, "holder-a")
	}()

	retries := 0
	b := Backoff{Start: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 1.5, MaxAttempts: 50}
	err := Acquire(ctx, m, "reservations", []string{"p1"}, "holder-b", time.Minute, b, func() { retries++ })
	require.NoError(t, err)
	assert.Greater(t, retries, 0)
}

func TestAcquireGivesUp(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	require.NoError(t, m.TryLock(ctx, "reservations", []string{"p1"}, "holder-a", time.Minute))

	b := Backoff{Start: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 1.5, MaxAttempts: 3}
	err := Acquire(ctx, m, "reservations", []string{"p1"}, "holder-b", time.Minute, b, nil)
	assert.ErrorIs(t, err, ErrLocksUnavailable)
}
