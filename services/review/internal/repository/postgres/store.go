package postgres

import (
	"github.com/stoneplatforms/reviewmycoach/pkg/database"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/repository"
)

// Store combines the review and aggregate repositories over one pool.
type Store struct {
	*ReviewRepository
	*AggregateRepository
}

var _ repository.Store = (*Store)(nil)

// NewStore creates a Store backed by pool.
func NewStore(pool database.DBTX) *Store {
	return &Store{
		ReviewRepository:    NewReviewRepository(pool),
		AggregateRepository: NewAggregateRepository(pool),
	}
}
