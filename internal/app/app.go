package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"shopstate/internal/config"
	"shopstate/internal/event"
	handler "shopstate/internal/handler/http"
	"shopstate/internal/storage"
	filebackend "shopstate/internal/storage/file"
	memorybackend "shopstate/internal/storage/memory"
	postgresbackend "shopstate/internal/storage/postgres"
	redisbackend "shopstate/internal/storage/redis"
	"shopstate/internal/store"
	"shopstate/migrations"
	"shopstate/pkg/database"
	"shopstate/pkg/health"
	pkgkafka "shopstate/pkg/kafka"
	"shopstate/pkg/middleware"
	"shopstate/pkg/tracing"
)

// App wires together all dependencies and runs a shopstate node.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	backend  storage.Backend
	cart     *store.Cart
	wishlist *store.Wishlist

	rdb    *redis.Client
	pool   *pgxpool.Pool
	kafka  *pkgkafka.Producer
	tracer func(context.Context) error

	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Tracing (no-op shutdown when no endpoint is configured).
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "shopstate",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTLPEndpoint != "",
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracer = tracerShutdown

	// Storage backend.
	if err := a.initBackend(ctx); err != nil {
		return nil, err
	}

	adapter := storage.NewAdapter(a.backend, logger)

	// Kafka producer (optional).
	var events store.Events
	if cfg.KafkaEnabled {
		kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
		a.kafka = pkgkafka.NewProducer(kafkaCfg, logger)
		events = event.NewProducer(a.kafka, adapter.Origin(), logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Stores hydrate from whatever the backend currently holds.
	a.cart = store.NewCart(ctx, adapter, events, logger)
	a.wishlist = store.NewWishlist(ctx, adapter, events, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	a.registerHealthChecks(healthHandler)

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	corsCfg.Environment = cfg.Environment

	router := handler.NewRouter(a.cart, a.wishlist, healthHandler, logger, corsCfg, cfg.PprofAllowedCIDRs)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // watch streams stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

// initBackend builds the storage backend selected by configuration.
func (a *App) initBackend(ctx context.Context) error {
	cfg := a.cfg

	switch cfg.StorageBackend {
	case config.BackendMemory:
		a.backend = memorybackend.New()
		a.logger.Info("using in-memory storage backend")

	case config.BackendFile:
		backend, err := filebackend.New(cfg.DataDir, a.logger)
		if err != nil {
			return fmt.Errorf("init file backend: %w", err)
		}
		a.backend = backend
		a.logger.Info("using file storage backend", slog.String("dir", cfg.DataDir))

	case config.BackendRedis:
		rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.rdb = rdb
		a.backend = storage.NewBreakerBackend(
			redisbackend.New(rdb, cfg.StorageNamespace),
			storage.DefaultBreakerConfig("redis"),
			a.logger,
		)
		a.logger.Info("using redis storage backend", slog.String("addr", cfg.RedisAddr))

	case config.BackendPostgres:
		pool, err := database.NewPostgresPoolFromURL(ctx, cfg.DatabaseURL, a.logger)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		a.pool = pool
		if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
			pool.Close()
			return fmt.Errorf("run migrations: %w", err)
		}
		database.RegisterPoolMetrics(pool, "shopstate")
		a.backend = storage.NewBreakerBackend(
			postgresbackend.New(pool, cfg.StorageNamespace, a.logger),
			storage.DefaultBreakerConfig("postgres"),
			a.logger,
		)
		a.logger.Info("using postgres storage backend")

	default:
		return fmt.Errorf("unknown storage backend: %q", cfg.StorageBackend)
	}

	return nil
}

func (a *App) registerHealthChecks(h *health.Handler) {
	if a.rdb != nil {
		h.Register("redis", func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		})
	}
	if a.pool != nil {
		h.Register("postgres", func(ctx context.Context) error {
			return a.pool.Ping(ctx)
		})
	}
	if a.kafka != nil {
		h.Register("kafka", a.kafka.Ping)
	}
}

// Run starts the sync loops and the HTTP server, blocking until the context
// is canceled.
func (a *App) Run(ctx context.Context) error {
	syncCtx, cancelSync := context.WithCancel(ctx)
	defer cancelSync()

	// Each store reloads when another node writes its key.
	go a.cart.Sync(syncCtx)
	go a.wishlist.Sync(syncCtx)

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}

	if err := a.backend.Close(); err != nil {
		a.logger.Error("storage backend close error", slog.String("error", err.Error()))
	}

	if a.pool != nil {
		a.pool.Close()
	}

	if err := a.tracer(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
