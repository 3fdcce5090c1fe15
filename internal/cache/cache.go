// Package cache memoizes serialized listing responses per owner.
//
// Keys have the form
//
//	{prefix}:{namespace}:list:{owner_id}:{cursor|none}:{skip}:{limit}
//
// so every listing of one owner shares the prefix that InvalidateOwner removes.
// Backend failures are logged and treated as misses.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/metrics"
)

const noCursor = "none"

type Config struct {
	Prefix    string
	Namespace string
	TTL       time.Duration
}

// ListQuery identifies one listing response.
type ListQuery struct {
	OwnerID uuid.UUID
	Cursor  *time.Time
	Skip    int
	Limit   int
}

type ResponseCache struct {
	backend Backend
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New returns a response cache over backend. log and m may be nil.
func New(backend Backend, cfg Config, log *logger.Logger, m *metrics.Metrics) *ResponseCache {
	if log == nil {
		log = logger.Nop()
	}
	return &ResponseCache{
		backend: backend,
		cfg:     cfg,
		log:     log,
		metrics: m,
	}
}

func (c *ResponseCache) ownerPrefix(owner uuid.UUID) string {
	return fmt.Sprintf("%s:%s:list:%s:", c.cfg.Prefix, c.cfg.Namespace, owner)
}

// ListKey derives the cache key of a listing. Equal queries give equal keys.
func (c *ResponseCache) ListKey(q ListQuery) string {
	cursor := noCursor
	if q.Cursor != nil {
		cursor = q.Cursor.UTC().Format(time.RFC3339Nano)
	}
	return c.ownerPrefix(q.OwnerID) + cursor + ":" + strconv.Itoa(q.Skip) + ":" + strconv.Itoa(q.Limit)
}

func (c *ResponseCache) Fetch(ctx context.Context, key string) ([]byte, bool) {
	body, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.fail("get", key, err)
		return nil, false
	}
	if c.metrics != nil {
		if ok {
			c.metrics.CacheHits.Inc()
		} else {
			c.metrics.CacheMisses.Inc()
		}
	}
	return body, ok
}

func (c *ResponseCache) Store(ctx context.Context, key string, body []byte) {
	if err := c.backend.Set(ctx, key, body, c.cfg.TTL); err != nil {
		c.fail("set", key, err)
	}
}

// InvalidateOwner drops every cached listing of owner.
func (c *ResponseCache) InvalidateOwner(ctx context.Context, owner uuid.UUID) {
	prefix := c.ownerPrefix(owner)
	n, err := c.backend.DeletePrefix(ctx, prefix)
	if err != nil {
		c.fail("invalidate", prefix, err)
		return
	}
	if c.metrics != nil {
		c.metrics.CacheInvalidations.Inc()
	}
	if n > 0 {
		c.log.Debug("cache invalidated", "owner_id", owner.String(), "keys", n)
	}
}

func (c *ResponseCache) fail(op, key string, err error) {
	if c.metrics != nil {
		c.metrics.CacheErrors.WithLabelValues(op).Inc()
	}
	c.log.Error(err, "response cache "+op+" failed", "key", key)
}
