package database

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// backoffPolicy retries startup operations with exponential backoff and
// symmetric jitter.
type backoffPolicy struct {
	attempts int
	base     time.Duration
	jitter   float64
}

// startupRetry waits ~1s, ~2s between three attempts.
var startupRetry = backoffPolicy{attempts: 3, base: time.Second, jitter: 0.25}

func (p backoffPolicy) delay(attempt int) time.Duration {
	d := p.base << max(attempt, 0)
	spread := float64(d) * p.jitter * (2*rand.Float64() - 1) // #nosec G404 -- jitter only
	return d + time.Duration(spread)
}

// run calls op until it succeeds, retryable reports false, or attempts run
// out. The last error is returned unwrapped.
func (p backoffPolicy) run(ctx context.Context, what string, logger *slog.Logger, retryable func(error) bool, op func() error) error {
	var err error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == p.attempts-1 || (retryable != nil && !retryable(err)) {
			return err
		}

		wait := p.delay(attempt)
		if logger != nil {
			logger.Warn(what+" failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", p.attempts),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		}
		if serr := sleepCtx(ctx, wait); serr != nil {
			return fmt.Errorf("%s: canceled during retry: %w", what, serr)
		}
	}
	return err
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
