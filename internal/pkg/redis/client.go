package redis

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Client wraps the go-redis client with a named Lua script registry. Scripts
// are registered once at adapter construction and executed through EvalSha
// with an automatic Eval fallback (go-redis Script handles both).
type Client struct {
	rdb *goredis.Client

	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient connects to the Redis instance at addr and verifies the
// connection with a ping.
func NewClient(ctx context.Context, addr string) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(err, "ping redis at %s", addr)
	}
	return &Client{rdb: rdb, scripts: make(map[string]*goredis.Script)}, nil
}

// LoadScriptFromContent registers a Lua script under the given name,
// replacing any previous registration.
func (c *Client) LoadScriptFromContent(name, content string) error {
	if content == "" {
		return errors.Errorf("script %q has empty content", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = goredis.NewScript(content)
	return nil
}

// RunScript executes a previously registered script.
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("script %q is not registered", name)
	}
	res, err := script.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "run script %q", name)
	}
	return res, nil
}

// GetClient exposes the underlying go-redis client for plain key-value
// operations.
func (c *Client) GetClient() *goredis.Client {
	return c.rdb
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
