package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

const keyPrefix = "rating:"

// setIfNewer stores the aggregate unless the cached copy carries a higher
// version, so a slow writer cannot roll the cache back.
var setIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RatingCache caches coach rating aggregates for profile reads.
type RatingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRatingCache creates a Redis-backed rating cache.
func NewRatingCache(client *redis.Client, ttl time.Duration) *RatingCache {
	return &RatingCache{client: client, ttl: ttl}
}

func key(coachID string) string {
	return keyPrefix + coachID
}

// Get returns the cached aggregate and whether it was present.
func (c *RatingCache) Get(ctx context.Context, coachID string) (domain.RatingAggregate, bool, error) {
	data, err := c.client.HGet(ctx, key(coachID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RatingAggregate{}, false, nil
	}
	if err != nil {
		return domain.RatingAggregate{}, false, fmt.Errorf("redis get rating: %w", err)
	}

	var agg domain.RatingAggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		// Drop the entry so the next write is not held back by its version.
		if derr := c.Delete(ctx, coachID); derr != nil {
			err = errors.Join(err, derr)
		}
		return domain.RatingAggregate{}, false, fmt.Errorf("unmarshal rating: %w", err)
	}
	return agg, true, nil
}

// Set caches agg. It reports false when a newer version was already cached.
func (c *RatingCache) Set(ctx context.Context, agg domain.RatingAggregate) (bool, error) {
	data, err := json.Marshal(agg)
	if err != nil {
		return false, fmt.Errorf("marshal rating: %w", err)
	}

	res, err := setIfNewer.Run(ctx, c.client, []string{key(agg.CoachID)},
		agg.Version, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis set rating: %w", err)
	}
	return res == 1, nil
}

// Delete drops the cached aggregate of a coach.
func (c *RatingCache) Delete(ctx context.Context, coachID string) error {
	if err := c.client.Del(ctx, key(coachID)).Err(); err != nil {
		return fmt.Errorf("redis del rating: %w", err)
	}
	return nil
}
