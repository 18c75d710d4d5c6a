package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel carrying change notifications.
const DefaultChannel = "reviewmycoach:reviews:changed"

type feedMessage struct {
	Origin  string `json:"origin"`
	CoachID string `json:"coachId"`
}

// Feed relays change notifications between instances over Redis pub/sub.
// Messages published by this instance are ignored on receipt because the
// hub already delivered them locally.
type Feed struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

// NewFeed creates a Feed on channel. An empty channel uses DefaultChannel.
func NewFeed(client *redis.Client, channel string, log *slog.Logger) *Feed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Feed{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  log,
	}
}

// Publish announces that coachID changed.
func (f *Feed) Publish(ctx context.Context, coachID string) error {
	payload, err := json.Marshal(feedMessage{Origin: f.origin, CoachID: coachID})
	if err != nil {
		return fmt.Errorf("marshal feed message: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		feedMessages.WithLabelValues("out", "error").Inc()
		return fmt.Errorf("publish to %s: %w", f.channel, err)
	}
	feedMessages.WithLabelValues("out", "ok").Inc()
	return nil
}

// Listen calls handle for every change announced by another instance until
// ctx is done.
func (f *Feed) Listen(ctx context.Context, handle func(ctx context.Context, coachID string)) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	// First reply is the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe to %s: %w", f.channel, err)
	}

	f.logger.Info("change feed listening", slog.String("channel", f.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("change feed closed")
			}
			f.dispatch(ctx, msg, handle)
		}
	}
}

func (f *Feed) dispatch(ctx context.Context, msg *redis.Message, handle func(context.Context, string)) {
	var m feedMessage
	if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil || m.CoachID == "" {
		feedMessages.WithLabelValues("in", "invalid").Inc()
		f.logger.Warn("dropping malformed change feed message", slog.String("payload", msg.Payload))
		return
	}
	if m.Origin == f.origin {
		feedMessages.WithLabelValues("in", "own").Inc()
		return
	}
	feedMessages.WithLabelValues("in", "ok").Inc()
	handle(ctx, m.CoachID)
}
