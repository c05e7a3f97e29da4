package lock

import (
	"context"
	"sync"
	"time"
)

type memoryHolder struct {
	token     string
	expiresAt time.Time
}

// MemoryManager is an in-process Manager with the same semantics as the
// Redis implementation. It backs unit tests and single-node deployments.
type MemoryManager struct {
	mu    sync.Mutex
	locks map[string]map[string]memoryHolder // collection -> recordID -> holder
	now   func() time.Time
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		locks: make(map[string]map[string]memoryHolder),
		now:   time.Now,
	}
}

// SetClock overrides the time source; tests use it to force TTL expiry.
func (m *MemoryManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryManager) TryLock(ctx context.Context, collection string, recordIDs []string, token string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.locks[collection]
	if coll == nil {
		coll = make(map[string]memoryHolder)
		m.locks[collection] = coll
	}

	now := m.now()
	for _, id := range recordIDs {
		holder, ok := coll[id]
		if !ok || !holder.expiresAt.After(now) {
			continue
		}
		if holder.token != token {
			return ErrLocksUnavailable
		}
	}
	for _, id := range recordIDs {
		coll[id] = memoryHolder{token: token, expiresAt: now.Add(ttl)}
	}
	return nil
}

func (m *MemoryManager) Unlock(ctx context.Context, collection string, recordIDs []string, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.locks[collection]
	now := m.now()
	for _, id := range recordIDs {
		holder, ok := coll[id]
		if !ok || !holder.expiresAt.After(now) {
			continue // already released or expired
		}
		if holder.token != token {
			return ErrLockValueMismatch
		}
	}
	for _, id := range recordIDs {
		delete(coll, id)
	}
	return nil
}
