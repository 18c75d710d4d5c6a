package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/stoneplatforms/reviewmycoach/pkg/kafka"
	"github.com/stoneplatforms/reviewmycoach/pkg/logger"
)

// Recomputer schedules a rating recompute for a coach.
type Recomputer interface {
	Enqueue(ctx context.Context, coachID string)
}

// Consumer turns review.created events into recomputes. The submitting
// instance already schedules one; this path repairs aggregates whose
// recompute was lost, e.g. when that instance stopped before running it.
type Consumer struct {
	recomputer Recomputer
	logger     *slog.Logger
}

// NewConsumer creates a new event consumer for the review service.
func NewConsumer(recomputer Recomputer, logger *slog.Logger) *Consumer {
	return &Consumer{
		recomputer: recomputer,
		logger:     logger,
	}
}

// Handle dispatches an event by type. Unknown types are ignored.
func (c *Consumer) Handle(ctx context.Context, event *pkgkafka.Event) error {
	if event.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, event.CorrelationID)
	}

	switch event.EventType {
	case TopicReviewCreated:
		return c.HandleReviewCreated(ctx, event)
	default:
		c.logger.DebugContext(ctx, "ignoring event",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

// HandleReviewCreated schedules a recompute for the reviewed coach.
func (c *Consumer) HandleReviewCreated(ctx context.Context, event *pkgkafka.Event) error {
	var data ReviewCreatedData
	if err := event.DecodeData(&data); err != nil {
		return fmt.Errorf("decode review.created data: %w", err)
	}
	if data.CoachID == "" {
		return fmt.Errorf("review.created event %s has no coach_id", event.EventID)
	}

	c.logger.DebugContext(ctx, "processing review.created event",
		slog.String("review_id", data.ReviewID),
		slog.String("coach_id", data.CoachID),
	)

	c.recomputer.Enqueue(ctx, data.CoachID)
	return nil
}
