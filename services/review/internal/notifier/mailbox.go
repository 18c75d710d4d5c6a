package notifier

import (
	"sync"

	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

// Subscription receives the latest snapshot of one coach. Its mailbox holds
// a single snapshot: a newer one replaces an unread older one, so a slow
// reader never blocks delivery and always ends up with the latest state.
type Subscription struct {
	coachID string
	hub     *Hub

	mu      sync.Mutex
	closed  bool
	err     error
	mailbox chan domain.ReviewSetSnapshot
	done    chan struct{}
}

func newSubscription(hub *Hub, coachID string) *Subscription {
	return &Subscription{
		coachID: coachID,
		hub:     hub,
		mailbox: make(chan domain.ReviewSetSnapshot, 1),
		done:    make(chan struct{}),
	}
}

// CoachID returns the coach this subscription follows.
func (s *Subscription) CoachID() string { return s.coachID }

// C returns the snapshot channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan domain.ReviewSetSnapshot { return s.mailbox }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the reason the subscription ended, or nil.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel ends the subscription and removes it from the hub. It is safe to
// call more than once.
func (s *Subscription) Cancel() {
	s.close(nil)
}

// Fail ends the subscription with err, e.g. after a failed websocket write.
func (s *Subscription) Fail(err error) {
	s.close(err)
}

func (s *Subscription) close(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.mailbox)
	close(s.done)
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.remove(s)
	}
}

// deliver puts snap in the mailbox, replacing any unread snapshot. It
// reports false when the subscription is already closed.
func (s *Subscription) deliver(snap domain.ReviewSetSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case <-s.mailbox:
		snapshotsReplaced.Inc()
	default:
	}
	// Only this method sends, under s.mu, so the slot is free now.
	s.mailbox <- snap
	return true
}
