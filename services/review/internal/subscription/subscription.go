// Package subscription follows a coach's reviews and derives display
// statistics from each delivered snapshot.
package subscription

import (
	"context"
	"errors"
	"sync"

	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

// ErrStream marks a snapshot stream that ended unexpectedly.
var ErrStream = errors.New("subscription stream failed")

// Stream is an open feed of snapshots for one coach.
type Stream interface {
	// Snapshots is closed when the stream ends.
	Snapshots() <-chan domain.ReviewSetSnapshot
	// Err reports why the stream ended, nil after a clean Close.
	Err() error
	Close()
}

// Source opens snapshot streams.
type Source interface {
	Open(ctx context.Context, coachID string) (Stream, error)
}

// Subscription turns a Stream into Views. Only the latest unread View is
// kept, so a slow reader skips intermediate states.
type Subscription struct {
	source  Source
	coachID string
	stream  Stream

	updates chan View
	done    chan struct{}
	exited  chan struct{}

	mu        sync.Mutex
	cancelled bool
	err       error
}

// Subscribe opens a stream for coachID on source. The subscription ends
// when ctx is done, Cancel is called or the stream fails.
func Subscribe(ctx context.Context, source Source, coachID string) (*Subscription, error) {
	stream, err := source.Open(ctx, coachID)
	if err != nil {
		return nil, err
	}

	s := &Subscription{
		source:  source,
		coachID: coachID,
		stream:  stream,
		updates: make(chan View, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go s.pump()
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.done:
		case <-s.exited:
		}
	}()
	return s, nil
}

// CoachID returns the followed coach.
func (s *Subscription) CoachID() string { return s.coachID }

// Updates returns the View channel, closed when the subscription ends.
func (s *Subscription) Updates() <-chan View { return s.updates }

// Err returns the stream error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel ends the subscription. No View is received after it returns.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	close(s.done)
	select {
	case <-s.updates:
	default:
	}
	s.mu.Unlock()

	s.stream.Close()
	<-s.exited
}

// Resubscribe releases this subscription and opens a new one for the same
// coach.
func (s *Subscription) Resubscribe(ctx context.Context) (*Subscription, error) {
	s.Cancel()
	return Subscribe(ctx, s.source, s.coachID)
}

func (s *Subscription) pump() {
	defer close(s.exited)

	for snap := range s.stream.Snapshots() {
		s.offer(NewView(snap))
	}

	s.mu.Lock()
	if !s.cancelled {
		s.err = s.stream.Err()
	}
	close(s.updates)
	s.mu.Unlock()
}

func (s *Subscription) offer(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- v
}
