// pkg/upstreams/rediscache.go
package upstreams

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// cachedProvider is a read-through Redis cache over any Provider. Resolution
// happens on every proxied request, so keeping the hot path off Postgres matters.
type cachedProvider struct {
	inner Provider
	rdb   *redis.Client
	ttl   time.Duration
	log   *zap.SugaredLogger
}

func NewCachedProvider(inner Provider, rdb *redis.Client, ttl time.Duration, log *zap.SugaredLogger) Provider {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &cachedProvider{inner: inner, rdb: rdb, ttl: ttl, log: log}
}

func (c *cachedProvider) ResolveByHost(ctx context.Context, host string) (Upstream, error) {
	key := "crewgate:upstream:host:" + host
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(raw) > 0 {
		var u Upstream
		if json.Unmarshal(raw, &u) == nil {
			return u, nil
		}
	}
	u, err := c.inner.ResolveByHost(ctx, host)
	if err != nil {
		return Upstream{}, err
	}
	if raw, err := json.Marshal(u); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.log.Warnw("upstream cache write failed", "host", host, "err", err)
		}
	}
	return u, nil
}

func (c *cachedProvider) ResolveByID(ctx context.Context, id string) (Upstream, error) {
	// ID lookups are rare (admin paths); skip the cache.
	return c.inner.ResolveByID(ctx, id)
}
