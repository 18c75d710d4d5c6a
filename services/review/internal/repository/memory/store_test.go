package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

var t0 = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func review(id string, rating int, at time.Time) *domain.Review {
	return &domain.Review{
		ID: id, CoachID: "coach-1", AuthorID: "a", AuthorDisplayName: "a",
		Rating: rating, Text: "Solid sessions every week", CreatedAt: at,
	}
}

func TestStore_AppendClampsClockSkew(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, review("r1", 5, t0)))
	late := review("r2", 4, t0.Add(-time.Minute))
	require.NoError(t, s.Append(ctx, late))

	assert.Equal(t, t0, late.CreatedAt)

	all, err := s.ListByCoach(ctx, "coach-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[1].CreatedAt.Before(all[0].CreatedAt))
}

func TestStore_ListRecent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, review(fmt.Sprintf("r%d", i), 3, t0.Add(time.Duration(i)*time.Second))))
	}

	recent, err := s.ListRecent(ctx, "coach-1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "r4", recent[0].ID)
	assert.Equal(t, "r2", recent[2].ID)

	all, err := s.ListRecent(ctx, "coach-1", 50)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := s.ListRecent(ctx, "coach-2", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ListByCoachReturnsCopy(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, review("r1", 5, t0)))

	list, err := s.ListByCoach(ctx, "coach-1")
	require.NoError(t, err)
	list[0].Rating = 1

	again, err := s.ListByCoach(ctx, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, 5, again[0].Rating)
}

func TestStore_SaveAggregateCAS(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	agg, err := s.GetAggregate(ctx, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EmptyAggregate("coach-1"), agg)

	v2 := domain.ComputeAggregate("coach-1", []domain.Review{*review("a", 5, t0), *review("b", 3, t0)})
	v1 := domain.ComputeAggregate("coach-1", []domain.Review{*review("a", 5, t0)})

	applied, err := s.SaveAggregate(ctx, v2)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.SaveAggregate(ctx, v1)
	require.NoError(t, err)
	assert.False(t, applied, "older version must not overwrite")

	applied, err = s.SaveAggregate(ctx, v2)
	require.NoError(t, err)
	assert.False(t, applied, "same version is a no-op")

	got, err := s.GetAggregate(ctx, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, v2, got)
}

func TestStore_CanceledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Append(ctx, review("r1", 5, t0)))
	_, err := s.ListByCoach(ctx, "coach-1")
	assert.Error(t, err)
	_, err = s.SaveAggregate(ctx, domain.EmptyAggregate("coach-1"))
	assert.Error(t, err)
}

func TestStore_ConcurrentAppend(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(ctx, review(fmt.Sprintf("r%d", i), i%5+1, time.Now()))
		}(i)
	}
	wg.Wait()

	all, err := s.ListByCoach(ctx, "coach-1")
	require.NoError(t, err)
	assert.Len(t, all, 100)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt))
	}
}
