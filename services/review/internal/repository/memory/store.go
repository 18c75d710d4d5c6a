// Package memory provides an in-process Store for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/repository"
)

// Store keeps reviews and aggregates in maps guarded by one RWMutex.
type Store struct {
	mu         sync.RWMutex
	reviews    map[string][]domain.Review
	aggregates map[string]domain.RatingAggregate
}

var _ repository.Store = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		reviews:    make(map[string][]domain.Review),
		aggregates: make(map[string]domain.RatingAggregate),
	}
}

// Append stores a copy of review, raising CreatedAt to the coach's newest
// review time if the clock went backwards.
func (s *Store) Append(ctx context.Context, review *domain.Review) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.reviews[review.CoachID]
	if n := len(list); n > 0 && review.CreatedAt.Before(list[n-1].CreatedAt) {
		review.CreatedAt = list[n-1].CreatedAt
	}
	s.reviews[review.CoachID] = append(list, *review)
	return nil
}

// ListByCoach returns a copy of the coach's reviews, oldest first.
func (s *Store) ListByCoach(ctx context.Context, coachID string) ([]domain.Review, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Review, len(s.reviews[coachID]))
	copy(out, s.reviews[coachID])
	return out, nil
}

// ListRecent returns up to limit reviews, newest first.
func (s *Store) ListRecent(ctx context.Context, coachID string, limit int) ([]domain.Review, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.reviews[coachID]
	if limit > len(list) || limit < 0 {
		limit = len(list)
	}
	out := make([]domain.Review, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// GetAggregate returns the stored aggregate or an empty one.
func (s *Store) GetAggregate(ctx context.Context, coachID string) (domain.RatingAggregate, error) {
	if err := ctx.Err(); err != nil {
		return domain.RatingAggregate{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.aggregates[coachID]
	if !ok {
		return domain.EmptyAggregate(coachID), nil
	}
	return cloneAggregate(agg), nil
}

// SaveAggregate applies agg only when its version is newer.
func (s *Store) SaveAggregate(ctx context.Context, agg domain.RatingAggregate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.aggregates[agg.CoachID]; ok && cur.Version >= agg.Version {
		return false, nil
	}
	s.aggregates[agg.CoachID] = cloneAggregate(agg)
	return true, nil
}

func cloneAggregate(a domain.RatingAggregate) domain.RatingAggregate {
	dist := make(map[int]int, len(a.RatingDistribution))
	for k, v := range a.RatingDistribution {
		dist[k] = v
	}
	a.RatingDistribution = dist
	return a
}
