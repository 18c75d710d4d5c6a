package repository

import (
	"context"

	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

// ReviewStore is append-only persistence of reviews, scoped per coach.
type ReviewStore interface {
	// Append persists a new review. CreatedAt is raised, if needed, so it is
	// never earlier than the coach's newest stored review; the stored value
	// is written back into review.
	Append(ctx context.Context, review *domain.Review) error

	// ListByCoach returns the coach's complete review set, oldest first.
	ListByCoach(ctx context.Context, coachID string) ([]domain.Review, error)

	// ListRecent returns at most limit reviews, newest first.
	ListRecent(ctx context.Context, coachID string, limit int) ([]domain.Review, error)
}

// AggregateStore holds the rating aggregate stored on each coach record.
type AggregateStore interface {
	// GetAggregate returns the stored aggregate, or an empty one when the
	// coach has never been aggregated.
	GetAggregate(ctx context.Context, coachID string) (domain.RatingAggregate, error)

	// SaveAggregate stores agg only if its version is greater than the
	// stored one. It reports whether the write was applied.
	SaveAggregate(ctx context.Context, agg domain.RatingAggregate) (bool, error)
}

// Store is a backend providing both halves.
type Store interface {
	ReviewStore
	AggregateStore
}
