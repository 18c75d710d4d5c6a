// Package aggregation recomputes coach rating aggregates from the full review
// set and stores them with a version check, one coach at a time.
package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "github.com/stoneplatforms/reviewmycoach/pkg/errors"
	"github.com/stoneplatforms/reviewmycoach/pkg/logger"
	"github.com/stoneplatforms/reviewmycoach/pkg/tracing"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/repository"
)

// RatingCache receives every aggregate the engine stores.
type RatingCache interface {
	Set(ctx context.Context, agg domain.RatingAggregate) (bool, error)
}

// ChangeNotifier is told when a coach's stored state changed.
type ChangeNotifier interface {
	Notify(ctx context.Context, coachID string)
}

// EventPublisher announces stored aggregates to other services.
type EventPublisher interface {
	PublishRatingUpdated(ctx context.Context, agg domain.RatingAggregate) error
}

// Config controls the recompute worker pool.
type Config struct {
	Workers int
	Timeout time.Duration
}

// DefaultConfig returns a pool of 8 workers with a 10s per-run timeout.
func DefaultConfig() Config {
	return Config{Workers: 8, Timeout: 10 * time.Second}
}

// Option configures optional collaborators of the Engine.
type Option func(*Engine)

// WithCache refreshes cache after each stored aggregate.
func WithCache(cache RatingCache) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithNotifier notifies subscribers after each stored aggregate.
func WithNotifier(n ChangeNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithPublisher publishes rating.updated after each stored aggregate.
func WithPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// Engine is the only writer of rating aggregates.
type Engine struct {
	reviews    repository.ReviewStore
	aggregates repository.AggregateStore
	cache      RatingCache
	notifier   ChangeNotifier
	publisher  EventPublisher
	timeout    time.Duration
	queue      *keyedQueue
	logger     *slog.Logger
}

// NewEngine creates an Engine reading from reviews and writing to aggregates.
func NewEngine(reviews repository.ReviewStore, aggregates repository.AggregateStore, cfg Config, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		reviews:    reviews,
		aggregates: aggregates,
		timeout:    cfg.Timeout,
		logger:     log,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue = newKeyedQueue(cfg.Workers, e.runQueued)
	e.queue.onMerge = recomputeCoalesced.Inc
	return e
}

// Enqueue schedules a background recompute for coachID and returns
// immediately. While a recompute for the coach runs, further requests are
// merged into one follow-up run that reads the newer state.
func (e *Engine) Enqueue(ctx context.Context, coachID string) {
	if coachID == "" {
		return
	}
	if !e.queue.enqueue(ctx, coachID) {
		e.logger.WarnContext(ctx, "recompute dropped, engine closed",
			slog.String("coach_id", coachID),
		)
		return
	}
	recomputePending.Set(float64(e.queue.pending()))
}

// Wait blocks until every scheduled recompute has finished.
func (e *Engine) Wait(ctx context.Context) error {
	return e.queue.wait(ctx)
}

// Close stops accepting recomputes and drains the ones already scheduled.
func (e *Engine) Close(ctx context.Context) error {
	return e.queue.close(ctx)
}

func (e *Engine) runQueued(ctx context.Context, coachID string) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	// Errors are already logged and counted by Recompute.
	_, _ = e.Recompute(ctx, coachID)
	recomputePending.Set(float64(e.queue.pending()))
}

// Recompute reads the coach's full review set, derives the aggregate and
// stores it unless a newer one is already stored. It returns the computed
// aggregate. A read failure aborts before anything is written.
func (e *Engine) Recompute(ctx context.Context, coachID string) (domain.RatingAggregate, error) {
	ctx = logger.WithCoachID(ctx, coachID)
	ctx, span := tracing.Tracer("aggregation").Start(ctx, "aggregation.Recompute")
	defer span.End()
	span.SetAttributes(attribute.String("coach.id", coachID))

	log := logger.WithContext(ctx, e.logger)
	start := time.Now()
	defer func() { recomputeDuration.Observe(time.Since(start).Seconds()) }()

	reviews, err := e.reviews.ListByCoach(ctx, coachID)
	if err != nil {
		recomputeTotal.WithLabelValues("read_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "read reviews")
		log.ErrorContext(ctx, "recompute aborted, failed to read reviews", slog.String("error", err.Error()))
		return domain.RatingAggregate{}, apperrors.StoreUnavailable(err)
	}

	valid := e.quarantine(ctx, log, coachID, reviews)
	agg := domain.ComputeAggregate(coachID, valid)
	span.SetAttributes(
		attribute.Int("reviews.total", len(reviews)),
		attribute.Int64("aggregate.version", agg.Version),
	)

	applied, err := e.aggregates.SaveAggregate(ctx, agg)
	if err != nil {
		recomputeTotal.WithLabelValues("write_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "save aggregate")
		log.ErrorContext(ctx, "failed to store aggregate", slog.String("error", err.Error()))
		return agg, apperrors.StoreUnavailable(err)
	}
	if !applied {
		recomputeTotal.WithLabelValues("stale").Inc()
		log.DebugContext(ctx, "aggregate not stored, a newer version exists",
			slog.Int64("version", agg.Version),
		)
		return agg, nil
	}

	recomputeTotal.WithLabelValues("applied").Inc()
	log.InfoContext(ctx, "aggregate stored",
		slog.Float64("average_rating", agg.AverageRating),
		slog.Int("total_reviews", agg.TotalReviews),
		slog.Int64("version", agg.Version),
	)

	e.afterStore(ctx, log, agg)
	return agg, nil
}

// quarantine drops records that fail validation so they never reach the
// arithmetic.
func (e *Engine) quarantine(ctx context.Context, log *slog.Logger, coachID string, reviews []domain.Review) []domain.Review {
	valid := make([]domain.Review, 0, len(reviews))
	for i := range reviews {
		r := &reviews[i]

		err := r.Validate()
		if err == nil && r.CoachID != coachID {
			err = fmt.Errorf("%w: review %s belongs to coach %s", domain.ErrMalformedReview, r.ID, r.CoachID)
		}
		if err != nil {
			quarantinedRecords.Inc()
			log.WarnContext(ctx, "quarantined stored review",
				slog.String("review_id", r.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		valid = append(valid, *r)
	}
	return valid
}

func (e *Engine) afterStore(ctx context.Context, log *slog.Logger, agg domain.RatingAggregate) {
	if e.cache != nil {
		if _, err := e.cache.Set(ctx, agg); err != nil {
			log.WarnContext(ctx, "failed to refresh rating cache", slog.String("error", err.Error()))
		}
	}
	if e.notifier != nil {
		e.notifier.Notify(ctx, agg.CoachID)
	}
	if e.publisher != nil {
		if err := e.publisher.PublishRatingUpdated(ctx, agg); err != nil {
			log.WarnContext(ctx, "failed to publish rating.updated", slog.String("error", err.Error()))
		}
	}
}
