package service

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/stoneplatforms/reviewmycoach/pkg/errors"
	"github.com/stoneplatforms/reviewmycoach/pkg/logger"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/aggregation"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/identity"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/repository/memory"
)

const validText = "Patient coach who explains every drill."

var anonIDPattern = regexp.MustCompile(`^anon-\d+-[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// --- Mocks ---

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, credential string) (domain.Author, error) {
	args := m.Called(ctx, credential)
	return args.Get(0).(domain.Author), args.Error(1)
}

type mockRecomputer struct {
	mock.Mock
}

func (m *mockRecomputer) Enqueue(ctx context.Context, coachID string) {
	m.Called(ctx, coachID)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, coachID string) {
	m.Called(ctx, coachID)
}

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishReviewCreated(ctx context.Context, review *domain.Review) error {
	args := m.Called(ctx, review)
	return args.Error(0)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, coachID string) (domain.RatingAggregate, bool, error) {
	args := m.Called(ctx, coachID)
	return args.Get(0).(domain.RatingAggregate), args.Bool(1), args.Error(2)
}

func (m *mockCache) Set(ctx context.Context, agg domain.RatingAggregate) (bool, error) {
	args := m.Called(ctx, agg)
	return args.Bool(0), args.Error(1)
}

func (m *mockCache) Delete(ctx context.Context, coachID string) error {
	args := m.Called(ctx, coachID)
	return args.Error(0)
}

// failingStore fails every call with err.
type failingStore struct {
	*memory.Store
	err error
}

func (s *failingStore) Append(context.Context, *domain.Review) error { return s.err }

func (s *failingStore) ListRecent(context.Context, string, int) ([]domain.Review, error) {
	return nil, s.err
}

func (s *failingStore) GetAggregate(context.Context, string) (domain.RatingAggregate, error) {
	return domain.RatingAggregate{}, s.err
}

func (s *failingStore) SaveAggregate(context.Context, domain.RatingAggregate) (bool, error) {
	return false, s.err
}

// --- Helpers ---

func newTestService(store *memory.Store, opts ...Option) *ReviewService {
	return NewReviewService(store, store, logger.Discard(), opts...)
}

func stored(t *testing.T, store *memory.Store, coachID string) []domain.Review {
	t.Helper()
	reviews, err := store.ListByCoach(context.Background(), coachID)
	require.NoError(t, err)
	return reviews
}

// ============================================================
// SubmitReview
// ============================================================

func TestSubmitReview_Authenticated(t *testing.T) {
	store := memory.NewStore()
	resolver := new(mockResolver)
	recomputer := new(mockRecomputer)
	notifier := new(mockNotifier)
	events := new(mockEvents)

	resolver.On("Resolve", mock.Anything, "good-token").
		Return(domain.Author{ID: "user-42", DisplayName: "jdoe"}, nil)
	recomputer.On("Enqueue", mock.Anything, "coach-1").Once()
	notifier.On("Notify", mock.Anything, "coach-1").Once()
	events.On("PublishReviewCreated", mock.Anything, mock.AnythingOfType("*domain.Review")).Return(nil).Once()

	svc := newTestService(store,
		WithResolver(resolver), WithRecomputer(recomputer),
		WithNotifier(notifier), WithEvents(events, time.Second))

	id, err := svc.SubmitReview(context.Background(), &SubmitInput{
		CoachID:    "coach-1",
		Rating:     5,
		Text:       "  " + validText + "  ",
		Sport:      "karate",
		Credential: "good-token",
	})
	require.NoError(t, err)
	svc.Wait()

	reviews := stored(t, store, "coach-1")
	require.Len(t, reviews, 1)
	r := reviews[0]
	assert.Equal(t, id, r.ID)
	assert.Equal(t, "user-42", r.AuthorID)
	assert.Equal(t, "jdoe", r.AuthorDisplayName)
	assert.Equal(t, validText, r.Text)
	assert.Equal(t, "Martial Arts", r.Sport)
	assert.False(t, r.CreatedAt.IsZero())

	resolver.AssertExpectations(t)
	recomputer.AssertExpectations(t)
	notifier.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestSubmitReview_AnonymousWithoutCredential(t *testing.T) {
	store := memory.NewStore()
	resolver := new(mockResolver)
	svc := newTestService(store, WithResolver(resolver))

	_, err := svc.SubmitReview(context.Background(), &SubmitInput{CoachID: "coach-1", Rating: 4, Text: validText})
	require.NoError(t, err)

	r := stored(t, store, "coach-1")[0]
	assert.Regexp(t, anonIDPattern, r.AuthorID)
	assert.Equal(t, domain.AnonymousDisplayName, r.AuthorDisplayName)
	resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestSubmitReview_UnresolvableCredentialDegradesToAnonymous(t *testing.T) {
	tests := []struct {
		name   string
		author domain.Author
		err    error
	}{
		{"resolution error", domain.Author{}, errors.Join(identity.ErrResolution, errors.New("token expired"))},
		{"empty author id", domain.Author{DisplayName: "ghost"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			resolver := new(mockResolver)
			resolver.On("Resolve", mock.Anything, "bad-token").Return(tt.author, tt.err)
			svc := newTestService(store, WithResolver(resolver))

			_, err := svc.SubmitReview(context.Background(), &SubmitInput{
				CoachID: "coach-1", Rating: 2, Text: validText, Credential: "bad-token",
			})
			require.NoError(t, err)

			r := stored(t, store, "coach-1")[0]
			assert.Regexp(t, anonIDPattern, r.AuthorID)
			assert.Equal(t, domain.AnonymousDisplayName, r.AuthorDisplayName)
		})
	}
}

func TestSubmitReview_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input SubmitInput
		msg   string
	}{
		{"missing coach", SubmitInput{CoachID: "  ", Rating: 3, Text: validText}, "coachId"},
		{"rating too low", SubmitInput{CoachID: "c", Rating: 0, Text: validText}, "rating"},
		{"rating too high", SubmitInput{CoachID: "c", Rating: 6, Text: validText}, "rating"},
		{"empty text", SubmitInput{CoachID: "c", Rating: 3, Text: "   "}, "required"},
		{"text too short", SubmitInput{CoachID: "c", Rating: 3, Text: "Too short"}, "at least 10"},
		{"text too long", SubmitInput{CoachID: "c", Rating: 3, Text: strings.Repeat("a", 1001)}, "at most 1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			recomputer := new(mockRecomputer)
			svc := newTestService(store, WithRecomputer(recomputer))

			_, err := svc.SubmitReview(context.Background(), &tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))
			assert.Contains(t, err.Error(), tt.msg)

			assert.Empty(t, stored(t, store, "c"))
			recomputer.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
		})
	}
}

func TestSubmitReview_TextBoundaries(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store)

	for _, text := range []string{"Ten chars!", strings.Repeat("é", 1000), "  Ten chars!  "} {
		_, err := svc.SubmitReview(context.Background(), &SubmitInput{CoachID: "c", Rating: 3, Text: text})
		assert.NoError(t, err, "len %d", len(text))
	}
	assert.Len(t, stored(t, store, "c"), 3)
}

func TestSubmitReview_StoreUnavailable(t *testing.T) {
	store := &failingStore{Store: memory.NewStore(), err: errors.New("connection refused")}
	recomputer := new(mockRecomputer)
	svc := NewReviewService(store, store, logger.Discard(), WithRecomputer(recomputer))

	_, err := svc.SubmitReview(context.Background(), &SubmitInput{CoachID: "c", Rating: 3, Text: validText})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
	recomputer.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestSubmitReview_SucceedsWhenAggregationFails(t *testing.T) {
	store := memory.NewStore()
	broken := &failingStore{Store: store, err: errors.New("write timeout")}
	engine := aggregation.NewEngine(store, broken, aggregation.DefaultConfig(), logger.Discard())

	events := new(mockEvents)
	events.On("PublishReviewCreated", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	svc := newTestService(store, WithRecomputer(engine), WithEvents(events, time.Second))

	id, err := svc.SubmitReview(context.Background(), &SubmitInput{CoachID: "coach-1", Rating: 5, Text: validText})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, engine.Wait(context.Background()))
	svc.Wait()

	assert.Len(t, stored(t, store, "coach-1"), 1)
	agg, err := store.GetAggregate(context.Background(), "coach-1")
	require.NoError(t, err)
	assert.Zero(t, agg.TotalReviews, "aggregate stays stale, review stays stored")
}

func TestSubmitReview_ConcurrentSubmissionsConverge(t *testing.T) {
	store := memory.NewStore()
	engine := aggregation.NewEngine(store, store, aggregation.Config{Workers: 4, Timeout: time.Second}, logger.Discard())
	svc := newTestService(store, WithRecomputer(engine))

	ratings := []int{5, 3, 4, 2, 5}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, r := range ratings {
			wg.Add(1)
			go func(r int) {
				defer wg.Done()
				_, err := svc.SubmitReview(context.Background(), &SubmitInput{CoachID: "coach-1", Rating: r, Text: validText})
				assert.NoError(t, err)
			}(r)
		}
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Wait(ctx))

	agg, err := store.GetAggregate(context.Background(), "coach-1")
	require.NoError(t, err)
	assert.Equal(t, 100, agg.TotalReviews)
	assert.Equal(t, 3.8, agg.AverageRating)
	assert.Equal(t, map[int]int{1: 0, 2: 20, 3: 20, 4: 20, 5: 40}, agg.RatingDistribution)

	// createdAt never decreases within the coach's review set.
	reviews := stored(t, store, "coach-1")
	for i := 1; i < len(reviews); i++ {
		assert.False(t, reviews[i].CreatedAt.Before(reviews[i-1].CreatedAt))
	}
}

func TestSubmitReview_AnonymousIDsUnique(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitReview(context.Background(), &SubmitInput{CoachID: "c", Rating: 1, Text: validText})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, r := range stored(t, store, "c") {
		assert.False(t, seen[r.AuthorID], "duplicate author id %s", r.AuthorID)
		seen[r.AuthorID] = true
	}
	assert.Len(t, seen, 50)
}

// ============================================================
// ListReviews
// ============================================================

func TestListReviews(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 120; i++ {
		at := now.Add(time.Duration(i) * time.Second)
		svc.now = func() time.Time { return at }
		id, err := svc.SubmitReview(context.Background(), &SubmitInput{CoachID: "c", Rating: 3, Text: validText})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"default", 0, 20},
		{"explicit", 5, 5},
		{"clamped", 500, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reviews, err := svc.ListReviews(context.Background(), "c", tt.limit)
			require.NoError(t, err)
			require.Len(t, reviews, tt.want)
			assert.Equal(t, ids[119], reviews[0].ID)
			assert.Equal(t, ids[120-tt.want], reviews[tt.want-1].ID)
		})
	}
}

func TestListReviews_EmptyAndErrors(t *testing.T) {
	svc := newTestService(memory.NewStore())

	reviews, err := svc.ListReviews(context.Background(), "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, reviews)
	assert.Empty(t, reviews)

	_, err = svc.ListReviews(context.Background(), "", 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	broken := &failingStore{Store: memory.NewStore(), err: errors.New("timeout")}
	svc = NewReviewService(broken, broken, logger.Discard())
	_, err = svc.ListReviews(context.Background(), "c", 10)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
}

// ============================================================
// GetRating
// ============================================================

func TestGetRating_CacheHit(t *testing.T) {
	cache := new(mockCache)
	cached := domain.RatingAggregate{
		CoachID: "c", AverageRating: 4.5, TotalReviews: 2, Version: 2,
		RatingDistribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 1, 5: 1},
	}
	cache.On("Get", mock.Anything, "c").Return(cached, true, nil)

	svc := newTestService(memory.NewStore(), WithRatingCache(cache))
	agg, err := svc.GetRating(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, cached, agg)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything)
}

func TestGetRating_MissPopulatesCache(t *testing.T) {
	store := memory.NewStore()
	want := domain.RatingAggregate{CoachID: "c", AverageRating: 3, TotalReviews: 1, RatingDistribution: map[int]int{1: 0, 2: 0, 3: 1, 4: 0, 5: 0}, Version: 1}
	_, err := store.SaveAggregate(context.Background(), want)
	require.NoError(t, err)

	cache := new(mockCache)
	cache.On("Get", mock.Anything, "c").Return(domain.RatingAggregate{}, false, nil)
	cache.On("Set", mock.Anything, mock.Anything).Return(true, nil).Once()

	svc := newTestService(store, WithRatingCache(cache))
	agg, err := svc.GetRating(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, want, agg)
	cache.AssertExpectations(t)
}

func TestGetRating_InconsistentCacheEntryEvicted(t *testing.T) {
	store := memory.NewStore()
	want := domain.RatingAggregate{CoachID: "c", AverageRating: 3, TotalReviews: 1, RatingDistribution: map[int]int{1: 0, 2: 0, 3: 1, 4: 0, 5: 0}, Version: 1}
	_, err := store.SaveAggregate(context.Background(), want)
	require.NoError(t, err)

	tests := []struct {
		name   string
		cached domain.RatingAggregate
	}{
		{"distribution disagrees with total", domain.RatingAggregate{CoachID: "c", AverageRating: 4.5, TotalReviews: 2, Version: 9}},
		{"entry for another coach", domain.RatingAggregate{CoachID: "other", RatingDistribution: domain.NewDistribution()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := new(mockCache)
			cache.On("Get", mock.Anything, "c").Return(tt.cached, true, nil)
			cache.On("Delete", mock.Anything, "c").Return(nil).Once()
			cache.On("Set", mock.Anything, want).Return(true, nil).Once()

			svc := newTestService(store, WithRatingCache(cache))
			agg, err := svc.GetRating(context.Background(), "c")
			require.NoError(t, err)
			assert.Equal(t, want, agg)
			cache.AssertExpectations(t)
		})
	}
}

func TestGetRating_CacheErrorFallsBackToStore(t *testing.T) {
	cache := new(mockCache)
	cache.On("Get", mock.Anything, "c").Return(domain.RatingAggregate{}, false, errors.New("redis down"))

	svc := newTestService(memory.NewStore(), WithRatingCache(cache))
	agg, err := svc.GetRating(context.Background(), "c")
	require.NoError(t, err)
	assert.Zero(t, agg.TotalReviews)
	assert.Len(t, agg.RatingDistribution, 5)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything)
}

func TestGetRating_StoreUnavailable(t *testing.T) {
	broken := &failingStore{Store: memory.NewStore(), err: errors.New("timeout")}
	svc := NewReviewService(broken, broken, logger.Discard())

	_, err := svc.GetRating(context.Background(), "c")
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
}
