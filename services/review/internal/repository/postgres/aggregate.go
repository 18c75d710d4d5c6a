package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stoneplatforms/reviewmycoach/pkg/database"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

// AggregateRepository stores rating aggregates on the coaches table.
type AggregateRepository struct {
	pool database.DBTX
}

// NewAggregateRepository creates a new PostgreSQL-backed aggregate repository.
func NewAggregateRepository(pool database.DBTX) *AggregateRepository {
	return &AggregateRepository{pool: pool}
}

const (
	getAggregateQuery = `
		SELECT average_rating, total_reviews, rating_distribution, rating_version, rating_updated_at
		FROM coaches
		WHERE id = $1`

	saveAggregateQuery = `
		INSERT INTO coaches (id, average_rating, total_reviews, rating_distribution, rating_version, rating_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			average_rating      = EXCLUDED.average_rating,
			total_reviews       = EXCLUDED.total_reviews,
			rating_distribution = EXCLUDED.rating_distribution,
			rating_version      = EXCLUDED.rating_version,
			rating_updated_at   = EXCLUDED.rating_updated_at
		WHERE coaches.rating_version < EXCLUDED.rating_version`
)

// GetAggregate reads the aggregate columns of a coach.
func (r *AggregateRepository) GetAggregate(ctx context.Context, coachID string) (agg domain.RatingAggregate, err error) {
	ctx, end := database.TraceQuery(ctx, "GetAggregate", getAggregateQuery)
	defer func() { end(err) }()

	var (
		distJSON  []byte
		updatedAt *time.Time
	)
	agg = domain.EmptyAggregate(coachID)

	err = r.pool.QueryRow(ctx, getAggregateQuery, coachID).Scan(
		&agg.AverageRating,
		&agg.TotalReviews,
		&distJSON,
		&agg.Version,
		&updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EmptyAggregate(coachID), nil
	}
	if err != nil {
		return domain.RatingAggregate{}, fmt.Errorf("get aggregate: %w", err)
	}

	if len(distJSON) > 0 {
		var stored map[int]int
		if err = json.Unmarshal(distJSON, &stored); err != nil {
			return domain.RatingAggregate{}, fmt.Errorf("decode rating distribution: %w", err)
		}
		for k, v := range stored {
			if domain.ValidRating(k) {
				agg.RatingDistribution[k] = v
			}
		}
	}
	if updatedAt != nil {
		agg.LastUpdatedAt = updatedAt.UTC()
	}
	return agg, nil
}

// SaveAggregate writes agg with compare-and-swap on rating_version.
func (r *AggregateRepository) SaveAggregate(ctx context.Context, agg domain.RatingAggregate) (applied bool, err error) {
	ctx, end := database.TraceQuery(ctx, "SaveAggregate", saveAggregateQuery)
	defer func() { end(err) }()

	distJSON, err := json.Marshal(agg.RatingDistribution)
	if err != nil {
		return false, fmt.Errorf("encode rating distribution: %w", err)
	}

	var updatedAt *time.Time
	if !agg.LastUpdatedAt.IsZero() {
		updatedAt = &agg.LastUpdatedAt
	}

	tag, err := r.pool.Exec(ctx, saveAggregateQuery,
		agg.CoachID,
		agg.AverageRating,
		agg.TotalReviews,
		distJSON,
		agg.Version,
		updatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("save aggregate: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
