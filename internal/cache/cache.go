// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/pkg/types"
)

// ResponseCache maps cache keys to successful outcomes. Storage failures
// never fail a search: they are logged and treated as misses.
type ResponseCache struct {
	store Storage
	log   *logrus.Entry
}

// New wraps a storage backend. A nil store behaves like Null.
func New(store Storage, log *logrus.Entry) *ResponseCache {
	if store == nil {
		store = Null{}
	}
	return &ResponseCache{store: store, log: logging.OrDiscard(log)}
}

// Lookup returns the stored outcome for key.
func (c *ResponseCache) Lookup(ctx context.Context, key string) (types.Outcome, bool) {
	if c == nil {
		return types.Outcome{}, false
	}
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.WithError(err).WithField("cache_key", key).Warn("cache read failed")
		return types.Outcome{}, false
	}
	if !ok {
		return types.Outcome{}, false
	}
	var out types.Outcome
	if err := json.Unmarshal(data, &out); err != nil || !out.OK() {
		c.log.WithField("cache_key", key).Warn("discarding unreadable cache entry")
		_ = c.store.Delete(ctx, key)
		return types.Outcome{}, false
	}
	out.FromCache = true
	return out, true
}

// Store saves a successful outcome. Failures are not cached.
func (c *ResponseCache) Store(ctx context.Context, key string, out types.Outcome) {
	if c == nil || !out.OK() {
		return
	}
	out.FromCache = false
	data, err := json.Marshal(out)
	if err != nil {
		c.log.WithError(err).WithField("cache_key", key).Warn("cache encode failed")
		return
	}
	if err := c.store.Set(ctx, key, data); err != nil {
		c.log.WithError(err).WithField("cache_key", key).Warn("cache write failed")
	}
}

// Delete removes one entry.
func (c *ResponseCache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Keys lists stored keys.
func (c *ResponseCache) Keys(ctx context.Context) ([]string, error) {
	return c.store.Keys(ctx)
}

// Clear removes every entry.
func (c *ResponseCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Close releases the storage backend.
func (c *ResponseCache) Close() error {
	return c.store.Close()
}

// Open builds the storage selected by cfg.
func Open(ctx context.Context, cfg types.CacheConfig) (Storage, error) {
	switch cfg.Backend {
	case types.CacheMemory, "":
		return NewMemory(cfg.TTL), nil
	case types.CacheNone:
		return Null{}, nil
	case types.CacheSQLite:
		return NewSQLite(cfg.Path, cfg.TTL)
	case types.CacheRedis:
		addr := cfg.RedisAddr
		if addr == "" {
			addr = RedisAddrFromEnv()
		}
		password := cfg.RedisPassword
		if password == "" {
			password = os.Getenv("REDIS_PASSWORD")
		}
		return DialRedis(ctx, addr, password, RedisDBFromEnv(cfg.RedisDB), WithPrefix(cfg.Prefix), WithTTL(cfg.TTL))
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
