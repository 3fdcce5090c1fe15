package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-service/pkg/metrics"
)

var testConfig = Config{Prefix: "notify-cache", Namespace: "notifications", TTL: time.Minute}

func TestListKeyIsDeterministic(t *testing.T) {
	c := New(NewMemoryBackend(time.Minute), testConfig, nil, nil)
	owner := uuid.MustParse("0b0e5d4e-8a41-4a57-9f0b-9c1b1f3f7d11")
	cursor := time.Date(2024, 1, 2, 3, 4, 5, 600, time.FixedZone("X", 3600))

	assert.Equal(t,
		"notify-cache:notifications:list:0b0e5d4e-8a41-4a57-9f0b-9c1b1f3f7d11:none:1:10",
		c.ListKey(ListQuery{OwnerID: owner, Skip: 1, Limit: 10}))
	assert.Equal(t,
		"notify-cache:notifications:list:0b0e5d4e-8a41-4a57-9f0b-9c1b1f3f7d11:2024-01-02T02:04:05.0000006Z:0:5",
		c.ListKey(ListQuery{OwnerID: owner, Cursor: &cursor, Limit: 5}))
	assert.NotEqual(t,
		c.ListKey(ListQuery{OwnerID: owner, Limit: 5}),
		c.ListKey(ListQuery{OwnerID: owner, Limit: 6}))
}

func exerciseBackend(t *testing.T, backend Backend) {
	t.Helper()
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	c := New(backend, testConfig, nil, m)

	alice, bob := uuid.New(), uuid.New()
	aliceKeys := []string{
		c.ListKey(ListQuery{OwnerID: alice, Limit: 10}),
		c.ListKey(ListQuery{OwnerID: alice, Skip: 10, Limit: 10}),
	}
	bobKey := c.ListKey(ListQuery{OwnerID: bob, Limit: 10})

	_, ok := c.Fetch(ctx, aliceKeys[0])
	assert.False(t, ok)

	for _, k := range append(aliceKeys, bobKey) {
		c.Store(ctx, k, []byte(`[]`))
	}
	body, ok := c.Fetch(ctx, aliceKeys[0])
	require.True(t, ok)
	assert.Equal(t, `[]`, string(body))

	c.InvalidateOwner(ctx, alice)

	for _, k := range aliceKeys {
		_, ok := c.Fetch(ctx, k)
		assert.False(t, ok, k)
	}
	_, ok = c.Fetch(ctx, bobKey)
	assert.True(t, ok, "other owners keep their entries")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheInvalidations))
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemoryBackend(time.Minute))
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	exerciseBackend(t, NewRedisBackend(client))
}

func TestRedisEntriesExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	c := New(NewRedisBackend(client), testConfig, nil, nil)
	ctx := context.Background()

	key := c.ListKey(ListQuery{OwnerID: uuid.New(), Limit: 10})
	c.Store(ctx, key, []byte(`[]`))
	mr.FastForward(61 * time.Second)

	_, ok := c.Fetch(ctx, key)
	assert.False(t, ok)
}

func TestBackendErrorsAreMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	m := metrics.New(prometheus.NewRegistry())
	c := New(NewRedisBackend(client), testConfig, nil, m)
	ctx := context.Background()

	mr.Close()

	key := c.ListKey(ListQuery{OwnerID: uuid.New(), Limit: 10})
	c.Store(ctx, key, []byte(`[]`))
	_, ok := c.Fetch(ctx, key)
	assert.False(t, ok)
	c.InvalidateOwner(ctx, uuid.New())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheErrors.WithLabelValues("get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheErrors.WithLabelValues("set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheErrors.WithLabelValues("invalidate")))
}
