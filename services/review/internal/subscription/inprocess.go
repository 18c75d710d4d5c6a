package subscription

import (
	"context"

	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/notifier"
)

// HubSource opens streams directly on a notifier hub in the same process.
type HubSource struct {
	hub *notifier.Hub
}

// NewHubSource creates a Source backed by hub.
func NewHubSource(hub *notifier.Hub) *HubSource {
	return &HubSource{hub: hub}
}

// Open subscribes to the hub.
func (s *HubSource) Open(ctx context.Context, coachID string) (Stream, error) {
	sub, err := s.hub.Subscribe(ctx, coachID)
	if err != nil {
		return nil, err
	}
	return hubStream{sub: sub}, nil
}

type hubStream struct {
	sub *notifier.Subscription
}

func (h hubStream) Snapshots() <-chan domain.ReviewSetSnapshot { return h.sub.C() }
func (h hubStream) Err() error                                 { return h.sub.Err() }
func (h hubStream) Close()                                     { h.sub.Cancel() }
