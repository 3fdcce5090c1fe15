package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-service/pkg/circuitbreaker"
)

func newTestBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	b, err := NewRedisBroker(context.Background(), client, Config{
		KeyPrefix:    "queue:",
		BlockTimeout: 100 * time.Millisecond,
		RetryBackoff: 10 * time.Millisecond,
		Breaker:      circuitbreaker.Settings{MaxFailures: 2, Timeout: time.Hour},
	}, nil)
	require.NoError(t, err)
	return b.(*RedisBroker), mr
}

func TestPublishSubscribeFIFO(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Publish(ctx, "tasks", []byte("one")))
	require.NoError(t, b.Publish(ctx, "tasks", []byte("two")))

	msgs, err := b.Subscribe(ctx, "tasks")
	require.NoError(t, err)

	for _, want := range []string{"one", "two"} {
		select {
		case got := <-msgs:
			assert.Equal(t, want, string(got))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())

	msgs, err := b.Subscribe(ctx, "tasks")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestPublishOpensBreaker(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()
	mr.Close()

	assert.Error(t, b.Publish(ctx, "tasks", []byte("x")))
	assert.Error(t, b.Publish(ctx, "tasks", []byte("x")))
	assert.ErrorIs(t, b.Publish(ctx, "tasks", []byte("x")), circuitbreaker.ErrOpen)
}

func TestNewRedisBrokerRequiresConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	_, err := NewRedisBroker(context.Background(), client, Config{}, nil)
	assert.Error(t, err)
}
