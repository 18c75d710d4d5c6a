package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pkgkafka "github.com/stoneplatforms/reviewmycoach/pkg/kafka"
	"github.com/stoneplatforms/reviewmycoach/pkg/logger"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

// Kafka topics owned by the review service.
var (
	TopicReviewCreated = pkgkafka.Topic("review", "created")
	TopicRatingUpdated = pkgkafka.Topic("rating", "updated")
)

// Aggregate types carried on the event envelope.
const (
	AggregateTypeReview = "review"
	AggregateTypeCoach  = "coach"
)

// SourceReviewService identifies events originating from this service.
const SourceReviewService = "review-service"

// ReviewCreatedData is the payload for a review.created event.
type ReviewCreatedData struct {
	ReviewID          string    `json:"review_id"`
	CoachID           string    `json:"coach_id"`
	AuthorID          string    `json:"author_id"`
	AuthorDisplayName string    `json:"author_display_name"`
	Rating            int       `json:"rating"`
	Sport             string    `json:"sport,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// RatingUpdatedData is the payload for a rating.updated event.
type RatingUpdatedData struct {
	CoachID            string      `json:"coach_id"`
	AverageRating      float64     `json:"average_rating"`
	TotalReviews       int         `json:"total_reviews"`
	RatingDistribution map[int]int `json:"rating_distribution"`
	LastUpdatedAt      time.Time   `json:"last_updated_at"`
	Version            int64       `json:"version"`
}

// Publisher sends an event envelope to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes review domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the review service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishReviewCreated publishes a review.created event keyed by coach, so
// every event of one coach lands on the same partition.
func (p *Producer) PublishReviewCreated(ctx context.Context, review *domain.Review) error {
	data := ReviewCreatedData{
		ReviewID:          review.ID,
		CoachID:           review.CoachID,
		AuthorID:          review.AuthorID,
		AuthorDisplayName: review.AuthorDisplayName,
		Rating:            review.Rating,
		Sport:             review.Sport,
		CreatedAt:         review.CreatedAt,
	}

	event, err := pkgkafka.NewEvent(TopicReviewCreated, review.CoachID, AggregateTypeCoach, SourceReviewService, data,
		pkgkafka.Correlated(logger.CorrelationIDFromContext(ctx)),
		pkgkafka.Meta("review_id", review.ID),
	)
	if err != nil {
		return fmt.Errorf("create review.created event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicReviewCreated, event); err != nil {
		return fmt.Errorf("publish review.created event: %w", err)
	}

	p.logger.DebugContext(ctx, "published review.created event",
		slog.String("review_id", review.ID),
		slog.String("coach_id", review.CoachID),
	)

	return nil
}

// PublishRatingUpdated publishes a rating.updated event.
func (p *Producer) PublishRatingUpdated(ctx context.Context, agg domain.RatingAggregate) error {
	data := RatingUpdatedData{
		CoachID:            agg.CoachID,
		AverageRating:      agg.AverageRating,
		TotalReviews:       agg.TotalReviews,
		RatingDistribution: agg.RatingDistribution,
		LastUpdatedAt:      agg.LastUpdatedAt,
		Version:            agg.Version,
	}

	event, err := pkgkafka.NewEvent(TopicRatingUpdated, agg.CoachID, AggregateTypeCoach, SourceReviewService, data,
		pkgkafka.Correlated(logger.CorrelationIDFromContext(ctx)),
	)
	if err != nil {
		return fmt.Errorf("create rating.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicRatingUpdated, event); err != nil {
		return fmt.Errorf("publish rating.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published rating.updated event",
		slog.String("coach_id", agg.CoachID),
		slog.Int64("version", agg.Version),
	)

	return nil
}
