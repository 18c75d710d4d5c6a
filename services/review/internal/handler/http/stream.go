package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/stoneplatforms/reviewmycoach/pkg/logger"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/notifier"
)

// StreamConfig controls the websocket review stream.
type StreamConfig struct {
	// AllowedOrigins lists browser origins that may connect. Empty or "*"
	// allows any origin.
	AllowedOrigins []string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// DefaultStreamConfig returns a 10s write timeout and a 30s ping interval.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{WriteTimeout: 10 * time.Second, PingInterval: 30 * time.Second}
}

// StreamHandler pushes review set snapshots of a coach over a websocket.
// Each message is the JSON snapshot; clients treat every message as the
// current state.
type StreamHandler struct {
	hub      *notifier.Hub
	cfg      StreamConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler creates a new websocket stream handler.
func NewStreamHandler(hub *notifier.Hub, cfg StreamConfig, logger *slog.Logger) *StreamHandler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultStreamConfig().WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultStreamConfig().PingInterval
	}
	return &StreamHandler{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = true
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// Stream handles GET /ws/coaches/{coachId}/reviews
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	coachID := chi.URLParam(r, "coachId")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.DebugContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(logger.WithCoachID(context.WithoutCancel(r.Context()), coachID))
	defer cancel()
	log := logger.WithContext(ctx, h.logger)

	sub, err := h.hub.Subscribe(ctx, coachID)
	if err != nil {
		h.closeConn(conn, websocket.CloseTryAgainLater, "notifier unavailable")
		return
	}
	defer sub.Cancel()

	log.DebugContext(ctx, "review stream opened")
	go h.readLoop(conn, cancel)

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.DebugContext(ctx, "review stream closed by client")
			return

		case snap, ok := <-sub.C():
			if !ok {
				h.closeConn(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				err = fmt.Errorf("%w: %w", notifier.ErrDelivery, err)
				sub.Fail(err)
				log.WarnContext(ctx, "review stream dropped", slog.String("error", err.Error()))
				return
			}
			if latest, ok := snap.Latest(); ok {
				log.DebugContext(ctx, "review snapshot sent",
					slog.Int("reviews", len(snap.Reviews)),
					slog.String("latest_review_id", latest.ID),
					slog.Int64("aggregate_version", snap.Aggregate.Version),
				)
			}

		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				sub.Fail(fmt.Errorf("%w: ping: %w", notifier.ErrDelivery, err))
				return
			}
		}
	}
}

// readLoop drains client frames so control messages are processed, and
// cancels the stream once the client goes away.
func (h *StreamHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	pongWait := 2 * h.cfg.PingInterval
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *StreamHandler) closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteTimeout))
}
