package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

func setupTestRedis(t *testing.T) (*RatingCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRatingCache(client, 10*time.Minute), mr
}

func aggregateOf(ratings ...int) domain.RatingAggregate {
	reviews := make([]domain.Review, len(ratings))
	for i, r := range ratings {
		reviews[i] = domain.Review{Rating: r, CreatedAt: time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC)}
	}
	return domain.ComputeAggregate("coach-1", reviews)
}

func TestRatingCache_Miss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	_, ok, err := cache.Get(context.Background(), "coach-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRatingCache_SetGet(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	agg := aggregateOf(5, 3, 4, 2, 5)

	applied, err := cache.Set(ctx, agg)
	require.NoError(t, err)
	assert.True(t, applied)

	got, ok, err := cache.Get(ctx, "coach-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, agg, got)
	assert.Equal(t, 10*time.Minute, mr.TTL("rating:coach-1"))
}

func TestRatingCache_KeepsNewerVersion(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	newer := aggregateOf(5, 4, 3)
	older := aggregateOf(5)

	_, err := cache.Set(ctx, newer)
	require.NoError(t, err)

	applied, err := cache.Set(ctx, older)
	require.NoError(t, err)
	assert.False(t, applied)

	got, _, err := cache.Get(ctx, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
}

func TestRatingCache_Expiry(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	_, err := cache.Set(ctx, aggregateOf(4))
	require.NoError(t, err)
	mr.FastForward(11 * time.Minute)

	_, ok, err := cache.Get(ctx, "coach-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRatingCache_CorruptEntry(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.HSet("rating:coach-1", "version", "1", "data", "{not json")

	_, _, err := cache.Get(context.Background(), "coach-1")
	assert.ErrorContains(t, err, "unmarshal rating")
	assert.False(t, mr.Exists("rating:coach-1"), "corrupt entry is evicted")

	applied, err := cache.Set(context.Background(), aggregateOf(1))
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestRatingCache_Delete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	_, err := cache.Set(ctx, aggregateOf(4))
	require.NoError(t, err)
	require.NoError(t, cache.Delete(ctx, "coach-1"))
	assert.False(t, mr.Exists("rating:coach-1"))
}

func TestRatingCache_Unavailable(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.Close()

	_, _, err := cache.Get(context.Background(), "coach-1")
	assert.Error(t, err)
	_, err = cache.Set(context.Background(), aggregateOf(1))
	assert.Error(t, err)
}
