package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stoneplatforms/reviewmycoach/pkg/health"
	"github.com/stoneplatforms/reviewmycoach/pkg/middleware"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/notifier"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/service"
)

// RouterConfig carries the dependencies and settings of the HTTP surface.
type RouterConfig struct {
	ServiceName    string
	Reviews        *service.ReviewService
	Hub            *notifier.Hub
	Health         *health.Handler
	CORS           middleware.CORSConfig
	Stream         StreamConfig
	RequestTimeout time.Duration
	RatingMaxAge   int
	SubmitRPS      float64
	SubmitBurst    int
	PprofCIDRs     []string
}

// NewRouter creates a chi router with all review service routes registered.
// ctx bounds background work of the middleware (rate limiter cleanup).
func NewRouter(ctx context.Context, cfg RouterConfig, logger *slog.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.BearerCredential)

	// Health, metrics and profiling endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	// Real-time stream; long-lived, so outside the timeout and compression
	// middleware.
	streamHandler := NewStreamHandler(cfg.Hub, cfg.Stream, logger)
	r.Get("/ws/coaches/{coachId}/reviews", streamHandler.Stream)

	// Review API endpoints (nested under coaches)
	reviewHandler := NewReviewHandler(cfg.Reviews, logger)

	r.Route("/api/v1/coaches/{coachId}", func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
		r.Use(chimw.Compress(5))

		submit := []func(http.Handler) http.Handler{requireJSON}
		if cfg.SubmitRPS > 0 {
			submit = append([]func(http.Handler) http.Handler{
				middleware.RateLimit(ctx, cfg.SubmitRPS, cfg.SubmitBurst, logger),
			}, submit...)
		}

		r.With(middleware.CacheControl(0)).Get("/reviews", reviewHandler.ListReviews)
		r.With(submit...).Post("/reviews", reviewHandler.SubmitReview)
		r.With(middleware.CacheControl(cfg.RatingMaxAge)).Get("/rating", reviewHandler.GetRating)
	})

	return r
}
