// Package notifier fans out review set snapshots to subscribers of a coach,
// locally and across instances through a Redis channel.
package notifier

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/stoneplatforms/reviewmycoach/pkg/logger"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

var (
	// ErrDelivery marks a snapshot that could not be written to a subscriber.
	ErrDelivery = errors.New("notification delivery failed")

	// ErrClosed is returned by Subscribe after Close.
	ErrClosed = errors.New("notifier closed")
)

// SnapshotSource reads the state a snapshot is built from.
type SnapshotSource interface {
	ListByCoach(ctx context.Context, coachID string) ([]domain.Review, error)
	ListRecent(ctx context.Context, coachID string, limit int) ([]domain.Review, error)
	GetAggregate(ctx context.Context, coachID string) (domain.RatingAggregate, error)
}

// Publisher forwards change notifications to other instances.
type Publisher interface {
	Publish(ctx context.Context, coachID string) error
}

// Config controls snapshot building.
type Config struct {
	// Window is the number of newest reviews carried in a snapshot. Zero
	// carries the full review set.
	Window  int
	Timeout time.Duration
}

// DefaultConfig returns a 20 review window and a 5s build timeout.
func DefaultConfig() Config {
	return Config{Window: 20, Timeout: 5 * time.Second}
}

type buildState struct {
	rerun bool
}

// Hub keeps the coach to subscriptions registry and delivers snapshots.
type Hub struct {
	source    SnapshotSource
	publisher Publisher
	cfg       Config
	logger    *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool

	buildMu sync.Mutex
	builds  map[string]*buildState
	wg      sync.WaitGroup
}

// NewHub creates a Hub reading snapshots from source.
func NewHub(source SnapshotSource, cfg Config, log *slog.Logger) *Hub {
	return &Hub{
		source: source,
		cfg:    cfg,
		logger: log,
		subs:   make(map[string]map[*Subscription]struct{}),
		builds: make(map[string]*buildState),
	}
}

// SetPublisher enables cross-instance notification. Call before serving.
func (h *Hub) SetPublisher(p Publisher) {
	h.publisher = p
}

// Subscribe registers a subscription for coachID. The current snapshot is
// delivered as soon as it is built. The subscription ends when ctx is done
// or Cancel is called.
func (h *Hub) Subscribe(ctx context.Context, coachID string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscription(h, coachID)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	set, ok := h.subs[coachID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[coachID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	activeSubscriptions.Inc()

	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.Done():
		}
	}()

	h.NotifyLocal(ctx, coachID)
	return sub, nil
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.coachID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.coachID)
	}
	activeSubscriptions.Dec()
}

// Subscribers returns the number of open subscriptions for coachID.
func (h *Hub) Subscribers(coachID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[coachID])
}

// Notify announces that coachID changed. Local subscribers get a fresh
// snapshot and, when a publisher is set, other instances are told too.
// It never blocks on snapshot building or delivery.
func (h *Hub) Notify(ctx context.Context, coachID string) {
	h.NotifyLocal(ctx, coachID)

	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, coachID); err != nil {
		logger.WithContext(ctx, h.logger).WarnContext(ctx, "failed to publish change notification",
			slog.String("coach_id", coachID),
			slog.String("error", err.Error()),
		)
	}
}

// NotifyLocal schedules a snapshot build for subscribers on this instance.
// Calls arriving while a build for the coach runs collapse into one rebuild.
func (h *Hub) NotifyLocal(ctx context.Context, coachID string) {
	h.mu.RLock()
	skip := h.closed || len(h.subs[coachID]) == 0
	h.mu.RUnlock()
	if skip {
		return
	}

	h.buildMu.Lock()
	if st, ok := h.builds[coachID]; ok {
		st.rerun = true
		h.buildMu.Unlock()
		return
	}
	h.builds[coachID] = &buildState{}
	h.wg.Add(1)
	h.buildMu.Unlock()

	go h.build(context.WithoutCancel(ctx), coachID)
}

func (h *Hub) build(ctx context.Context, coachID string) {
	defer h.wg.Done()

	for {
		h.buildOnce(ctx, coachID)

		h.buildMu.Lock()
		st := h.builds[coachID]
		if !st.rerun {
			delete(h.builds, coachID)
			h.buildMu.Unlock()
			return
		}
		st.rerun = false
		h.buildMu.Unlock()
	}
}

func (h *Hub) buildOnce(ctx context.Context, coachID string) {
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	snap, err := h.Snapshot(ctx, coachID)
	if err != nil {
		snapshotBuildErrors.Inc()
		logger.WithContext(ctx, h.logger).ErrorContext(ctx, "failed to build review snapshot",
			slog.String("coach_id", coachID),
			slog.String("error", err.Error()),
		)
		return
	}
	h.deliver(snap)
}

// Snapshot reads the newest reviews and the stored aggregate of coachID.
func (h *Hub) Snapshot(ctx context.Context, coachID string) (domain.ReviewSetSnapshot, error) {
	reviews, complete, err := h.recentReviews(ctx, coachID)
	if err != nil {
		return domain.ReviewSetSnapshot{}, err
	}
	agg, err := h.source.GetAggregate(ctx, coachID)
	if err != nil {
		return domain.ReviewSetSnapshot{}, err
	}
	if reviews == nil {
		reviews = []domain.Review{}
	}
	return domain.ReviewSetSnapshot{
		CoachID:   coachID,
		Reviews:   reviews,
		Aggregate: agg,
		Complete:  complete,
	}, nil
}

// recentReviews returns the newest Window reviews, newest first, and whether
// they are all the coach has. One extra row is read to tell a full window
// from the whole set.
func (h *Hub) recentReviews(ctx context.Context, coachID string) ([]domain.Review, bool, error) {
	if h.cfg.Window > 0 {
		reviews, err := h.source.ListRecent(ctx, coachID, h.cfg.Window+1)
		if err != nil {
			return nil, false, err
		}
		if len(reviews) > h.cfg.Window {
			return reviews[:h.cfg.Window], false, nil
		}
		return reviews, true, nil
	}
	reviews, err := h.source.ListByCoach(ctx, coachID)
	if err != nil {
		return nil, false, err
	}
	slices.Reverse(reviews)
	return reviews, true, nil
}

func (h *Hub) deliver(snap domain.ReviewSetSnapshot) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[snap.CoachID]))
	for sub := range h.subs[snap.CoachID] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if sub.deliver(snap) {
			snapshotsDelivered.Inc()
		}
	}
}

// Wait blocks until scheduled snapshot builds have finished.
func (h *Hub) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.Fail(ErrClosed)
	}
}
