package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneplatforms/reviewmycoach/pkg/logger"
)

// ---------------------------------------------------------------------------
// MemoryIdempotencyStore
// ---------------------------------------------------------------------------

func TestMemoryIdempotencyStore_AddAndContains(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	ctx := context.Background()

	ok, err := store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Add(ctx, "evt-1"))
	ok, err = store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryIdempotencyStore_Expiry(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Add(context.Background(), "evt-1"))
	now = now.Add(2 * time.Minute)

	ok, err := store.Contains(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, store.Len())
}

// ---------------------------------------------------------------------------
// RedisIdempotencyStore
// ---------------------------------------------------------------------------

func newRedisStore(t *testing.T) (*RedisIdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisIdempotencyStore(client, "idem:test:", time.Hour), mr
}

func TestRedisIdempotencyStore(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	ok, err := store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Add(ctx, "evt-1"))
	assert.True(t, mr.Exists("idem:test:evt-1"))
	assert.Equal(t, time.Hour, mr.TTL("idem:test:evt-1"))

	ok, err = store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Hour)
	ok, err = store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisIdempotencyStore_Unavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, err := store.Contains(context.Background(), "evt-1")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// IdempotentHandler
// ---------------------------------------------------------------------------

type failingStore struct{}

func (failingStore) Contains(context.Context, string) (bool, error) {
	return false, errors.New("store down")
}
func (failingStore) Add(context.Context, string) error { return errors.New("store down") }

func countingHandler(calls *int, err error) Handler {
	return func(context.Context, *Event) error {
		*calls++
		return err
	}
}

func TestIdempotentHandler_SkipsDuplicates(t *testing.T) {
	var calls int
	h := IdempotentHandler(NewMemoryIdempotencyStore(time.Minute), countingHandler(&calls, nil), logger.Discard())
	event := &Event{EventID: "evt-1", EventType: "review.created"}

	require.NoError(t, h(context.Background(), event))
	require.NoError(t, h(context.Background(), event))
	assert.Equal(t, 1, calls)
}

func TestIdempotentHandler_FailureNotRecorded(t *testing.T) {
	var calls int
	store := NewMemoryIdempotencyStore(time.Minute)
	h := IdempotentHandler(store, countingHandler(&calls, errors.New("boom")), logger.Discard())
	event := &Event{EventID: "evt-1"}

	assert.Error(t, h(context.Background(), event))
	assert.Error(t, h(context.Background(), event))
	assert.Equal(t, 2, calls)
	assert.Zero(t, store.Len())
}

func TestIdempotentHandler_StoreFailurePassesThrough(t *testing.T) {
	var calls int
	h := IdempotentHandler(failingStore{}, countingHandler(&calls, nil), logger.Discard())

	require.NoError(t, h(context.Background(), &Event{EventID: "evt-1"}))
	require.NoError(t, h(context.Background(), &Event{EventID: "evt-1"}))
	assert.Equal(t, 2, calls)
}

func TestIdempotentHandler_NoEventID(t *testing.T) {
	var calls int
	store := NewMemoryIdempotencyStore(time.Minute)
	h := IdempotentHandler(store, countingHandler(&calls, nil), logger.Discard())

	require.NoError(t, h(context.Background(), &Event{}))
	require.NoError(t, h(context.Background(), &Event{}))
	assert.Equal(t, 2, calls)
	assert.Zero(t, store.Len())
}
