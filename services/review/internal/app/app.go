package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/stoneplatforms/reviewmycoach/pkg/database"
	"github.com/stoneplatforms/reviewmycoach/pkg/health"
	"github.com/stoneplatforms/reviewmycoach/pkg/httpclient"
	pkgkafka "github.com/stoneplatforms/reviewmycoach/pkg/kafka"
	"github.com/stoneplatforms/reviewmycoach/pkg/middleware"
	"github.com/stoneplatforms/reviewmycoach/pkg/tracing"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/aggregation"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/config"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/event"
	handler "github.com/stoneplatforms/reviewmycoach/services/review/internal/handler/http"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/identity"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/migrations"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/notifier"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/repository"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/repository/memory"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/repository/postgres"
	redisrepo "github.com/stoneplatforms/reviewmycoach/services/review/internal/repository/redis"
	"github.com/stoneplatforms/reviewmycoach/services/review/internal/service"
)

// ServiceName labels logs, metrics and traces of this process.
const ServiceName = "review-service"

const (
	eventPublishTimeout = 5 * time.Second
	idempotencyTTL      = 24 * time.Hour
	idempotencyPrefix   = "reviewmycoach:events:"
)

// App wires together all dependencies and runs the review service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool     *pgxpool.Pool
	rdb      *redis.Client
	producer *pkgkafka.Producer
	dlq      *pkgkafka.DLQProducer

	consumer *pkgkafka.Consumer
	feed     *notifier.Feed
	hub      *notifier.Hub
	engine   *aggregation.Engine
	reviews  *service.ReviewService

	httpServer     *http.Server
	stopRouter     context.CancelFunc
	tracerShutdown tracing.ShutdownFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing(ServiceName))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	store, err := a.openStore(ctx)
	if err != nil {
		a.release()
		return nil, err
	}

	// Redis carries the rating cache, the cross-instance change feed and
	// the consumer's idempotency keys.
	var cache *redisrepo.RatingCache
	if cfg.RedisEnabled {
		rdb, err := database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			a.release()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.rdb = rdb
		cache = redisrepo.NewRatingCache(rdb, cfg.RatingCacheTTL)
		a.feed = notifier.NewFeed(rdb, cfg.ChangeChannel, logger)
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))
	}

	// Kafka is optional for the write path: without it no events are
	// published and no repair consumer runs.
	var events *event.Producer
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		if err := pingKafkaWithRetry(ctx, a.producer, logger); err != nil {
			logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		events = event.NewProducer(a.producer, logger)
	}

	// Build the dependency graph.
	a.hub = notifier.NewHub(store, notifier.Config{
		Window:  cfg.SnapshotWindow,
		Timeout: cfg.NotifyTimeout,
	}, logger)
	if a.feed != nil {
		a.hub.SetPublisher(a.feed)
	}

	engineOpts := []aggregation.Option{aggregation.WithNotifier(a.hub)}
	serviceOpts := []service.Option{
		service.WithResolver(newResolver(cfg, logger)),
		service.WithNotifier(a.hub),
	}
	if cache != nil {
		engineOpts = append(engineOpts, aggregation.WithCache(cache))
		serviceOpts = append(serviceOpts, service.WithRatingCache(cache))
	}
	if events != nil {
		engineOpts = append(engineOpts, aggregation.WithPublisher(events))
		serviceOpts = append(serviceOpts, service.WithEvents(events, eventPublishTimeout))
	}

	a.engine = aggregation.NewEngine(store, store, aggregation.Config{
		Workers: cfg.AggregationWorkers,
		Timeout: cfg.RecomputeTimeout,
	}, logger, engineOpts...)
	serviceOpts = append(serviceOpts, service.WithRecomputer(a.engine))
	a.reviews = service.NewReviewService(store, store, logger, serviceOpts...)

	if cfg.KafkaEnabled {
		a.consumer = a.newReviewCreatedConsumer()
	}

	// HTTP router; its context only bounds middleware housekeeping.
	routerCtx, stopRouter := context.WithCancel(context.Background())
	a.stopRouter = stopRouter
	router := handler.NewRouter(routerCtx, handler.RouterConfig{
		ServiceName: ServiceName,
		Reviews:     a.reviews,
		Hub:         a.hub,
		Health:      a.healthChecks(),
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			ExposedHeaders: []string{middleware.CorrelationHeader},
			Environment:    cfg.Environment,
		},
		Stream: handler.StreamConfig{
			AllowedOrigins: cfg.WSAllowedOrigin,
			WriteTimeout:   cfg.WSWriteTimeout,
			PingInterval:   cfg.WSPingInterval,
		},
		RequestTimeout: cfg.HTTPRequestTimeout,
		RatingMaxAge:   cfg.RatingCacheMaxAge,
		SubmitRPS:      cfg.SubmitRateLimitRPS,
		SubmitBurst:    cfg.SubmitRateLimitBurst,
		PprofCIDRs:     cfg.PprofAllowedCIDRs,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.HTTPRequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// openStore returns the review store selected by REVIEW_STORE.
func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	if a.cfg.StoreBackend == "memory" {
		a.logger.Warn("using in-memory review store; reviews are lost on restart")
		return memory.NewStore(), nil
	}

	pool, err := database.NewPostgresPoolWithLogger(ctx, a.cfg.Postgres(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", a.cfg.PostgresHost),
		slog.Int("port", a.cfg.PostgresPort),
		slog.String("database", a.cfg.PostgresDB),
	)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, ServiceName); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	// Configure slow query logging.
	if a.cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(a.cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
	}

	return postgres.NewStore(pool), nil
}

// newResolver verifies bearer tokens and, when a profile service is
// configured, fills display names from it behind a circuit breaker.
func newResolver(cfg *config.Config, logger *slog.Logger) *identity.TokenResolver {
	verifier := identity.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if cfg.ProfileServiceURL == "" {
		return identity.NewTokenResolver(verifier, nil, logger)
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.ProfileLookupLimit
	client := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpCfg),
		httpclient.DefaultCircuitBreakerConfig("profile-service"),
		logger,
	)
	return identity.NewTokenResolver(verifier, identity.NewProfileClient(cfg.ProfileServiceURL, client), logger)
}

// newReviewCreatedConsumer re-enqueues a recompute for every review.created
// event, so a coach whose submitting instance died before aggregating is
// still repaired by another instance. Redelivered events are skipped.
func (a *App) newReviewCreatedConsumer() *pkgkafka.Consumer {
	var seen pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(idempotencyTTL)
	if a.rdb != nil {
		seen = pkgkafka.NewRedisIdempotencyStore(a.rdb, idempotencyPrefix, idempotencyTTL)
	}

	a.dlq = pkgkafka.NewDLQProducer(a.cfg.KafkaBrokers, a.logger)
	eventConsumer := event.NewConsumer(a.engine, a.logger)

	return pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:  a.cfg.KafkaBrokers,
		GroupID:  a.cfg.KafkaConsumerGroup,
		Topic:    event.TopicReviewCreated,
		MinBytes: 1,
		MaxBytes: 10e6,
	}, pkgkafka.IdempotentHandler(seen, eventConsumer.Handle, a.logger), a.logger).WithDLQ(a.dlq)
}

func (a *App) healthChecks() *health.Handler {
	h := health.NewHandler()
	if a.pool != nil {
		h.Register("postgres", func(ctx context.Context) error {
			return a.pool.Ping(ctx)
		})
	}
	if a.rdb != nil {
		h.Register("redis", func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		})
	}
	if a.producer != nil {
		h.RegisterOptional("kafka", func(ctx context.Context) error {
			return a.producer.Ping(ctx)
		})
	}
	return h
}

// Run starts the HTTP server, the Kafka consumer and the change feed
// listener, then blocks until ctx is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.consumer != nil {
		g.Go(func() error {
			if err := a.consumer.Start(gctx); err != nil {
				return fmt.Errorf("review created consumer: %w", err)
			}
			return nil
		})
	}

	if a.feed != nil {
		g.Go(func() error {
			if err := a.feed.Listen(gctx, a.hub.NotifyLocal); err != nil {
				return fmt.Errorf("change feed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			a.logger.Info("shutdown signal received")
		}
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Background work (event publishes, queued recomputes)
// 3. Live subscriptions
// 4. Tracer (flush pending spans)
// 5. Kafka producers, Redis client, PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.HTTPShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Let accepted reviews finish their follow-up work.
	a.reviews.Wait()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), a.cfg.RecomputeTimeout+5*time.Second)
	defer drainCancel()
	if err := a.engine.Close(drainCtx); err != nil {
		a.logger.Error("aggregation engine drain error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 3. End websocket streams.
	a.hub.Close()
	if err := a.hub.Wait(drainCtx); err != nil {
		a.logger.Warn("snapshot builds still running at shutdown", slog.String("error", err.Error()))
	}

	a.release()
	if a.stopRouter != nil {
		a.stopRouter()
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// release flushes the tracer and closes external connections. It is safe to
// call on a partially built App.
func (a *App) release() {
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("kafka dlq producer close error", slog.String("error", err.Error()))
		}
	}

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s with ±25% jitter between them).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	const attempts = 3

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if lastErr = producer.Ping(ctx); lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		base := time.Duration(1<<uint(attempt)) * time.Second
		jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- retry jitter
		wait := base + jitter
		logger.Warn("kafka producer ping failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", attempts),
			slog.Duration("backoff", wait),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("kafka producer ping failed after %d attempts: %w", attempts, lastErr)
}
