package lock

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"stockhold/internal/pkg/redis"
)

const (
	tryLockScriptName = "lock_try"
	unlockScriptName  = "lock_release"
)

// RedisManager implements Manager on Redis. Each record lock is one string
// key "lock:{collection}:{recordID}" holding the owner's token with a TTL.
// Both operations run as a single Lua script over the full key set, so the
// check-and-set is atomic across all records; a check-then-set in two round
// trips would race with concurrent acquirers.
type RedisManager struct {
	client *redis.Client
}

// NewRedisManager registers the lock scripts on the given client.
func NewRedisManager(client *redis.Client) (*RedisManager, error) {
	if err := client.LoadScriptFromContent(tryLockScriptName, tryLockScript); err != nil {
		return nil, errors.Wrap(err, "load try-lock script")
	}
	if err := client.LoadScriptFromContent(unlockScriptName, unlockScript); err != nil {
		return nil, errors.Wrap(err, "load unlock script")
	}
	return &RedisManager{client: client}, nil
}

func (m *RedisManager) TryLock(ctx context.Context, collection string, recordIDs []string, token string, ttl time.Duration) error {
	if len(recordIDs) == 0 {
		return nil
	}
	res, err := m.client.RunScript(ctx, tryLockScriptName, m.keys(collection, recordIDs), token, ttl.Milliseconds())
	if err != nil {
		return err
	}
	code, ok := res.(int64)
	if !ok {
		return errors.Errorf("unexpected try-lock script result type %T", res)
	}
	if code == 0 {
		return ErrLocksUnavailable
	}
	return nil
}

func (m *RedisManager) Unlock(ctx context.Context, collection string, recordIDs []string, token string) error {
	if len(recordIDs) == 0 {
		return nil
	}
	res, err := m.client.RunScript(ctx, unlockScriptName, m.keys(collection, recordIDs), token)
	if err != nil {
		return err
	}
	code, ok := res.(int64)
	if !ok {
		return errors.Errorf("unexpected unlock script result type %T", res)
	}
	if code == 0 {
		return ErrLockValueMismatch
	}
	return nil
}

func (m *RedisManager) keys(collection string, recordIDs []string) []string {
	keys := make([]string, len(recordIDs))
	for i, id := range recordIDs {
		keys[i] = "lock:" + collection + ":" + id
	}
	return keys
}

// ARGV[1] = token, ARGV[2] = TTL in milliseconds. Returns 1 when every key
// was acquired, 0 when any key is held by a foreign token (nothing written).
var tryLockScript = `
for i, key in ipairs(KEYS) do
    local holder = redis.call('get', key)
    if holder and holder ~= ARGV[1] then
        return 0
    end
end
for i, key in ipairs(KEYS) do
    redis.call('set', key, ARGV[1], 'PX', ARGV[2])
end
return 1
`

// ARGV[1] = token. Absent keys count as already released. Returns 1 when
// every key was released, 0 when any key is held by a foreign token
// (nothing deleted).
var unlockScript = `
for i, key in ipairs(KEYS) do
    local holder = redis.call('get', key)
    if holder and holder ~= ARGV[1] then
        return 0
    end
end
for i, key in ipairs(KEYS) do
    redis.call('del', key)
end
return 1
`
