// Command watch follows one coach's reviews on a running review service and
// logs every view it receives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stoneplatforms/reviewmycoach/pkg/config"
	"github.com/stoneplatforms/reviewmycoach/pkg/logger"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/subscription"
)

// Config is read from the environment.
type Config struct {
	BaseURL     string        `env:"WATCH_BASE_URL" envDefault:"http://localhost:8080"`
	CoachID     string        `env:"WATCH_COACH_ID,required"`
	Token       string        `env:"WATCH_TOKEN"`
	Backoff     time.Duration `env:"WATCH_RETRY_BACKOFF" envDefault:"1s"`
	MaxAttempts int           `env:"WATCH_MAX_ATTEMPTS" envDefault:"5"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("review watch failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return err
	}

	log := logger.New("review-watch", cfg.LogLevel)
	slog.SetDefault(log)

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	source := subscription.NewWebSocketSource(cfg.BaseURL, header)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("watching coach reviews",
		slog.String("base_url", cfg.BaseURL),
		slog.String("coach_id", cfg.CoachID),
	)
	return watch(ctx, source, cfg, log)
}

// watch logs views for cfg.CoachID until ctx ends. A stream that fails is
// reopened after cfg.Backoff; watch gives up after cfg.MaxAttempts
// consecutive failed opens.
func watch(ctx context.Context, source subscription.Source, cfg Config, log *slog.Logger) error {
	sub, err := subscription.Subscribe(ctx, source, cfg.CoachID)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		for v := range sub.Updates() {
			logView(ctx, log, v)
		}
		if ctx.Err() != nil {
			return nil
		}
		streamErr := sub.Err()
		if streamErr == nil {
			log.Info("review stream closed by server")
			return nil
		}
		log.Warn("review stream failed", slog.String("error", streamErr.Error()))

		sub, err = reopen(ctx, source, sub, cfg, log)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func reopen(ctx context.Context, source subscription.Source, prev *subscription.Subscription, cfg Config, log *slog.Logger) (*subscription.Subscription, error) {
	attempts := max(cfg.MaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sleepCtx(ctx, cfg.Backoff); err != nil {
			return nil, err
		}

		var (
			sub *subscription.Subscription
			err error
		)
		if prev != nil {
			sub, err = prev.Resubscribe(ctx)
			prev = nil
		} else {
			sub, err = subscription.Subscribe(ctx, source, cfg.CoachID)
		}
		if err == nil {
			log.Info("review stream reopened", slog.Int("attempt", attempt))
			return sub, nil
		}
		lastErr = err
		log.Warn("reopen review stream failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return nil, fmt.Errorf("reopen after %d attempts: %w", attempts, lastErr)
}

func logView(ctx context.Context, log *slog.Logger, v subscription.View) {
	log.InfoContext(ctx, "review view",
		slog.String("coach_id", v.Snapshot.CoachID),
		slog.Float64("average_rating", v.Display.AverageRating),
		slog.Int("total_reviews", v.Display.TotalReviews),
		slog.Int("reviews_in_snapshot", len(v.Snapshot.Reviews)),
		slog.Bool("complete", v.Snapshot.Complete),
		slog.Bool("stale", v.Stale),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
