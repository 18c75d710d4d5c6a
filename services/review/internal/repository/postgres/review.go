package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stoneplatforms/reviewmycoach/pkg/database"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

// ReviewRepository implements review persistence using PostgreSQL.
type ReviewRepository struct {
	pool database.DBTX
}

// NewReviewRepository creates a new PostgreSQL-backed review repository.
func NewReviewRepository(pool database.DBTX) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

const (
	ensureCoachQuery = `
		INSERT INTO coaches (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id`

	insertReviewQuery = `
		INSERT INTO reviews (id, coach_id, author_id, author_display_name, rating, review_text, sport, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
		        GREATEST($8::timestamptz, COALESCE((SELECT max(created_at) FROM reviews WHERE coach_id = $2), $8::timestamptz)))
		RETURNING created_at`

	reviewColumns = `id, coach_id, author_id, author_display_name, rating, review_text, sport, created_at`
)

// Append inserts a review inside a transaction that first upserts the
// coach row. The upsert takes the row lock, so appends for one coach are
// serialized and created_at stays non-decreasing.
func (r *ReviewRepository) Append(ctx context.Context, review *domain.Review) (err error) {
	ctx, end := database.TraceQuery(ctx, "AppendReview", insertReviewQuery)
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append review: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx, ensureCoachQuery, review.CoachID); err != nil {
		return fmt.Errorf("ensure coach %s: %w", review.CoachID, err)
	}

	var createdAt time.Time
	err = tx.QueryRow(ctx, insertReviewQuery,
		review.ID,
		review.CoachID,
		review.AuthorID,
		review.AuthorDisplayName,
		review.Rating,
		review.Text,
		review.Sport,
		review.CreatedAt,
	).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit review: %w", err)
	}

	review.CreatedAt = createdAt.UTC()
	return nil
}

// ListByCoach returns every review of a coach, oldest first.
func (r *ReviewRepository) ListByCoach(ctx context.Context, coachID string) (reviews []domain.Review, err error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE coach_id = $1 ORDER BY created_at, id`

	ctx, end := database.TraceQuery(ctx, "ListReviewsByCoach", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, coachID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return scanReviews(rows)
}

// ListRecent returns the newest reviews of a coach.
func (r *ReviewRepository) ListRecent(ctx context.Context, coachID string, limit int) (reviews []domain.Review, err error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE coach_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`

	ctx, end := database.TraceQuery(ctx, "ListRecentReviews", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, coachID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent reviews: %w", err)
	}
	return scanReviews(rows)
}

// scanReviews reads nullable text columns leniently; values that do not
// pass domain validation are left for the caller to quarantine.
func scanReviews(rows pgx.Rows) ([]domain.Review, error) {
	defer rows.Close()

	reviews := []domain.Review{}
	for rows.Next() {
		var (
			rv                          domain.Review
			authorID, displayName, text *string
			sport                       *string
			createdAt                   *time.Time
		)
		if err := rows.Scan(
			&rv.ID,
			&rv.CoachID,
			&authorID,
			&displayName,
			&rv.Rating,
			&text,
			&sport,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan review row: %w", err)
		}

		rv.AuthorID = deref(authorID)
		rv.AuthorDisplayName = deref(displayName)
		rv.Text = deref(text)
		rv.Sport = deref(sport)
		if createdAt != nil {
			rv.CreatedAt = createdAt.UTC()
		}
		reviews = append(reviews, rv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review rows: %w", err)
	}
	return reviews, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
