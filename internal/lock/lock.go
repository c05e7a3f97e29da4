// Package lock provides a multi-key distributed lock manager. A lock
// operation covers an arbitrary set of record ids inside a named collection
// and is all-or-nothing: either every record ends up held by the caller's
// token, or none does.
package lock

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrLocksUnavailable is returned by TryLock when at least one of the
	// requested records is held by a different token. No records are
	// modified in that case.
	ErrLocksUnavailable = errors.New("lock: records unavailable")

	// ErrLockValueMismatch is returned by Unlock when at least one record is
	// held by a different token. Retrying cannot succeed and risks releasing
	// a lock a new holder legitimately owns.
	ErrLockValueMismatch = errors.New("lock: token mismatch on release")
)

// Manager acquires and releases named locks over sets of record ids.
type Manager interface {
	// TryLock atomically acquires all records in the collection for token,
	// with a TTL that frees them if the holder crashes. Records already held
	// by the same token are re-acquired (TTL refreshed).
	TryLock(ctx context.Context, collection string, recordIDs []string, token string, ttl time.Duration) error

	// Unlock atomically releases all records held by token. Records that are
	// already absent count as released; the call is idempotent.
	Unlock(ctx context.Context, collection string, recordIDs []string, token string) error
}

// Backoff configures the retry loop used when a resource lock is contended.
type Backoff struct {
	Start       time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      time.Duration
	MaxAttempts int
}

// DefaultBackoff bounds the wait for a contended resource lock well below
// typical message-redelivery delays.
var DefaultBackoff = Backoff{
	Start:       50 * time.Millisecond,
	Max:         time.Second,
	Multiplier:  1.5,
	Jitter:      25 * time.Millisecond,
	MaxAttempts: 20,
}

// Acquire retries TryLock with bounded exponential backoff until it
// succeeds, a non-contention error occurs, attempts run out, or ctx is done.
// onRetry, if non-nil, is invoked once per retry.
func Acquire(ctx context.Context, m Manager, collection string, recordIDs []string, token string, ttl time.Duration, b Backoff, onRetry func()) error {
	delay := b.Start
	for attempt := 0; ; attempt++ {
		err := m.TryLock(ctx, collection, recordIDs, token, ttl)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLocksUnavailable) {
			return err
		}
		if attempt+1 >= b.MaxAttempts {
			return errors.Wrapf(ErrLocksUnavailable, "gave up on collection %s after %d attempts", collection, attempt+1)
		}
		if onRetry != nil {
			onRetry()
		}

		wait := delay
		if b.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(b.Jitter)))
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * b.Multiplier)
		if delay > b.Max {
			delay = b.Max
		}
	}
}
