// Package service implements review submission and the read operations
// served to clients.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/stoneplatforms/reviewmycoach/pkg/errors"
	"github.com/stoneplatforms/reviewmycoach/pkg/logger"
	"github.com/stoneplatforms/reviewmycoach/pkg/pagination"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/identity"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/repository"
)

// SubmitInput holds the parameters for submitting a review.
type SubmitInput struct {
	CoachID    string
	Rating     int
	Text       string
	Sport      string
	Credential string
}

// Recomputer schedules a background rating recompute.
type Recomputer interface {
	Enqueue(ctx context.Context, coachID string)
}

// ChangeNotifier tells subscribers a coach's reviews changed.
type ChangeNotifier interface {
	Notify(ctx context.Context, coachID string)
}

// EventPublisher announces new reviews to other services.
type EventPublisher interface {
	PublishReviewCreated(ctx context.Context, review *domain.Review) error
}

// RatingCache is the read-through cache for stored aggregates.
type RatingCache interface {
	Get(ctx context.Context, coachID string) (domain.RatingAggregate, bool, error)
	Set(ctx context.Context, agg domain.RatingAggregate) (bool, error)
	Delete(ctx context.Context, coachID string) error
}

// Option configures optional collaborators of the ReviewService.
type Option func(*ReviewService)

// WithResolver resolves bearer credentials into authors.
func WithResolver(r identity.Resolver) Option {
	return func(s *ReviewService) { s.resolver = r }
}

// WithRecomputer schedules recomputes after each submission.
func WithRecomputer(r Recomputer) Option {
	return func(s *ReviewService) { s.recomputer = r }
}

// WithNotifier notifies subscribers after each submission.
func WithNotifier(n ChangeNotifier) Option {
	return func(s *ReviewService) { s.notifier = n }
}

// WithEvents publishes review.created after each submission.
func WithEvents(p EventPublisher, timeout time.Duration) Option {
	return func(s *ReviewService) {
		s.events = p
		s.eventTimeout = timeout
	}
}

// WithRatingCache serves GetRating from cache when possible.
func WithRatingCache(c RatingCache) Option {
	return func(s *ReviewService) { s.cache = c }
}

// ReviewService implements the business logic for review operations.
type ReviewService struct {
	reviews    repository.ReviewStore
	aggregates repository.AggregateStore
	anonymous  *identity.AnonymousIDs
	resolver   identity.Resolver
	recomputer Recomputer
	notifier   ChangeNotifier
	events     EventPublisher
	cache      RatingCache
	limits     pagination.Limits
	now        func() time.Time
	logger     *slog.Logger

	eventTimeout time.Duration
	background   sync.WaitGroup
}

// NewReviewService creates a new review service.
func NewReviewService(reviews repository.ReviewStore, aggregates repository.AggregateStore, log *slog.Logger, opts ...Option) *ReviewService {
	s := &ReviewService{
		reviews:      reviews,
		aggregates:   aggregates,
		anonymous:    identity.NewAnonymousIDs(),
		limits:       pagination.DefaultLimits(),
		now:          time.Now,
		logger:       log,
		eventTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitReview validates and stores a review and returns its id. Follow-up
// work (recompute, notification, event) is started in the background and
// can never fail or delay the submission.
func (s *ReviewService) SubmitReview(ctx context.Context, input *SubmitInput) (string, error) {
	review, err := s.newReview(input)
	if err != nil {
		return "", err
	}

	author, err := s.resolveAuthor(ctx, input.Credential)
	if err != nil {
		return "", apperrors.Internal(err)
	}
	review.AuthorID = author.ID
	review.AuthorDisplayName = author.DisplayName

	ctx = logger.WithCoachID(ctx, review.CoachID)
	if !author.Anonymous {
		ctx = logger.WithUserID(ctx, author.ID)
	}
	log := logger.WithContext(ctx, s.logger)

	if err := s.reviews.Append(ctx, review); err != nil {
		log.ErrorContext(ctx, "failed to store review", slog.String("error", err.Error()))
		return "", apperrors.StoreUnavailable(err)
	}

	kind := "authenticated"
	if author.Anonymous {
		kind = "anonymous"
	}
	reviewsSubmitted.WithLabelValues(kind).Inc()

	log.InfoContext(ctx, "review created",
		slog.String("review_id", review.ID),
		slog.Int("rating", review.Rating),
		slog.Bool("anonymous", author.Anonymous),
	)

	s.afterSubmit(ctx, review)
	return review.ID, nil
}

func (s *ReviewService) newReview(input *SubmitInput) (*domain.Review, error) {
	coachID := strings.TrimSpace(input.CoachID)
	if coachID == "" {
		return nil, apperrors.InvalidInput("coachId is required")
	}
	if !domain.ValidRating(input.Rating) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("rating must be between %d and %d", domain.MinRating, domain.MaxRating))
	}

	text := strings.TrimSpace(input.Text)
	switch n := domain.TextLength(text); {
	case n == 0:
		return nil, apperrors.InvalidInput("reviewText is required")
	case n < domain.MinTextLength:
		return nil, apperrors.InvalidInput(fmt.Sprintf("reviewText must be at least %d characters", domain.MinTextLength))
	case n > domain.MaxTextLength:
		return nil, apperrors.InvalidInput(fmt.Sprintf("reviewText must be at most %d characters", domain.MaxTextLength))
	}

	return &domain.Review{
		ID:        uuid.NewString(),
		CoachID:   coachID,
		Rating:    input.Rating,
		Text:      text,
		Sport:     domain.CanonicalSport(input.Sport),
		CreatedAt: s.now().UTC(),
	}, nil
}

// resolveAuthor returns the credential's author, or an anonymous one when
// there is no credential or it cannot be resolved.
func (s *ReviewService) resolveAuthor(ctx context.Context, credential string) (domain.Author, error) {
	if credential != "" && s.resolver != nil {
		author, err := s.resolver.Resolve(ctx, credential)
		if err == nil && author.ID != "" {
			return author, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: empty author id", identity.ErrResolution)
		}
		authFallbacks.Inc()
		logger.WithContext(ctx, s.logger).WarnContext(ctx, "credential not resolved, submitting anonymously",
			slog.String("error", err.Error()),
			slog.Bool("resolution_error", errors.Is(err, identity.ErrResolution)),
		)
	}
	return s.anonymous.Author()
}

func (s *ReviewService) afterSubmit(ctx context.Context, review *domain.Review) {
	if s.recomputer != nil {
		s.recomputer.Enqueue(ctx, review.CoachID)
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, review.CoachID)
	}
	if s.events == nil {
		return
	}

	snapshot := *review
	s.background.Add(1)
	go func(ctx context.Context) {
		defer s.background.Done()

		if s.eventTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.eventTimeout)
			defer cancel()
		}
		if err := s.events.PublishReviewCreated(ctx, &snapshot); err != nil {
			logger.WithContext(ctx, s.logger).WarnContext(ctx, "failed to publish review.created",
				slog.String("review_id", snapshot.ID),
				slog.String("error", err.Error()),
			)
		}
	}(context.WithoutCancel(ctx))
}

// Wait blocks until background publishes started by SubmitReview finish.
func (s *ReviewService) Wait() {
	s.background.Wait()
}

// ListReviews returns up to limit reviews of coachID, newest first. A
// non-positive limit means the default; larger limits are capped.
func (s *ReviewService) ListReviews(ctx context.Context, coachID string, limit int) ([]domain.Review, error) {
	coachID = strings.TrimSpace(coachID)
	if coachID == "" {
		return nil, apperrors.InvalidInput("coachId is required")
	}
	if limit <= 0 {
		limit = s.limits.Default
	}
	if limit > s.limits.Max {
		limit = s.limits.Max
	}

	reviews, err := s.reviews.ListRecent(ctx, coachID, limit)
	if err != nil {
		logger.WithContext(ctx, s.logger).ErrorContext(ctx, "failed to list reviews",
			slog.String("coach_id", coachID),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.StoreUnavailable(err)
	}
	if reviews == nil {
		reviews = []domain.Review{}
	}
	return reviews, nil
}

// GetRating returns the stored aggregate of coachID, from cache when
// present. A coach never aggregated gets the empty aggregate.
func (s *ReviewService) GetRating(ctx context.Context, coachID string) (domain.RatingAggregate, error) {
	coachID = strings.TrimSpace(coachID)
	if coachID == "" {
		return domain.RatingAggregate{}, apperrors.InvalidInput("coachId is required")
	}
	log := logger.WithContext(ctx, s.logger)

	if s.cache != nil {
		agg, ok, err := s.cache.Get(ctx, coachID)
		switch {
		case err != nil:
			log.WarnContext(ctx, "rating cache read failed", slog.String("error", err.Error()))
		case ok && agg.CoachID == coachID && agg.Consistent():
			ratingCacheLookups.WithLabelValues("hit").Inc()
			return agg, nil
		case ok:
			// The cache only accepts higher versions, so a broken entry
			// would shadow the store until it expires.
			ratingCacheLookups.WithLabelValues("invalid").Inc()
			log.WarnContext(ctx, "evicting inconsistent cached rating", slog.Int64("version", agg.Version))
			if err := s.cache.Delete(ctx, coachID); err != nil {
				log.WarnContext(ctx, "rating cache evict failed", slog.String("error", err.Error()))
			}
		default:
			ratingCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	agg, err := s.aggregates.GetAggregate(ctx, coachID)
	if err != nil {
		log.ErrorContext(ctx, "failed to read aggregate",
			slog.String("coach_id", coachID),
			slog.String("error", err.Error()),
		)
		return domain.RatingAggregate{}, apperrors.StoreUnavailable(err)
	}

	if s.cache != nil && agg.Version > 0 {
		if _, err := s.cache.Set(ctx, agg); err != nil {
			log.WarnContext(ctx, "rating cache write failed", slog.String("error", err.Error()))
		}
	}
	return agg, nil
}
