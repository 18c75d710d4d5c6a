package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneplatforms/reviewmycoach/pkg/config"
	"github.com/stoneplatforms/reviewmycoach/pkg/logger"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/notifier"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/repository/memory"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/subscription"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type scriptedStream struct {
	ch   chan domain.ReviewSetSnapshot
	err  error
	once sync.Once
}

func (s *scriptedStream) Snapshots() <-chan domain.ReviewSetSnapshot { return s.ch }
func (s *scriptedStream) Err() error                                 { return s.err }
func (s *scriptedStream) Close()                                     { s.once.Do(func() { close(s.ch) }) }

// scriptedSource hands out streams in order; each carries one snapshot with
// the given number of reviews and fails with err when err is set.
type scriptedSource struct {
	mu     sync.Mutex
	opened int
	script []struct {
		reviews int
		err     error
	}
}

func (s *scriptedSource) Open(_ context.Context, coachID string) (subscription.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened >= len(s.script) {
		return nil, errors.New("no more streams")
	}
	step := s.script[s.opened]
	s.opened++

	st := &scriptedStream{ch: make(chan domain.ReviewSetSnapshot, 1)}
	snap := domain.ReviewSetSnapshot{CoachID: coachID, Complete: true}
	for i := 0; i < step.reviews; i++ {
		snap.Reviews = append(snap.Reviews, domain.Review{ID: string(rune('a' + i)), CoachID: coachID, Rating: 4})
	}
	st.ch <- snap
	if step.err != nil {
		st.err = step.err
		st.Close()
	}
	return st, nil
}

func (s *scriptedSource) opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func testConfig() Config {
	return Config{CoachID: "coach-1", Backoff: time.Millisecond, MaxAttempts: 2}
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	require.NoError(t, config.LoadFrom(&cfg, map[string]string{"WATCH_COACH_ID": "coach-1"}))

	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, time.Second, cfg.Backoff)
	assert.Equal(t, 5, cfg.MaxAttempts)
}

func TestConfig_RequiresCoachID(t *testing.T) {
	var cfg Config
	assert.Error(t, config.LoadFrom(&cfg, nil))
}

func TestWatch_ReopensFailedStream(t *testing.T) {
	source := &scriptedSource{script: []struct {
		reviews int
		err     error
	}{
		{reviews: 1, err: errors.New("connection reset")},
		{reviews: 2},
	}}
	var out lockedBuffer
	log := logger.NewWithWriter("review-watch", "info", &out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watch(ctx, source, testConfig(), log) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"reviews_in_snapshot":2`)
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop with its context")
	}
	assert.Equal(t, 2, source.opens())
	logs := out.String()
	assert.Contains(t, logs, `"msg":"review stream failed"`)
	assert.Contains(t, logs, "connection reset")
	assert.Contains(t, logs, `"msg":"review stream reopened"`)
}

func TestWatch_GivesUpWhenReopenKeepsFailing(t *testing.T) {
	hub := notifier.NewHub(memory.NewStore(), notifier.DefaultConfig(), logger.Discard())
	var out lockedBuffer
	log := logger.NewWithWriter("review-watch", "info", &out)

	done := make(chan error, 1)
	go func() { done <- watch(context.Background(), subscription.NewHubSource(hub), testConfig(), log) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"msg":"review view"`)
	}, time.Second, 5*time.Millisecond)
	hub.Close()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, notifier.ErrClosed)
		assert.Contains(t, err.Error(), "reopen after 2 attempts")
	case <-time.After(time.Second):
		t.Fatal("watch kept retrying")
	}
}

func TestWatch_SubscribeError(t *testing.T) {
	source := &scriptedSource{}
	err := watch(context.Background(), source, testConfig(), logger.Discard())
	assert.EqualError(t, err, "subscribe: no more streams")
}
