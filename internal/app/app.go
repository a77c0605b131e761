package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/commercekit/ordercore/internal/catalog"
	"github.com/commercekit/ordercore/internal/config"
	"github.com/commercekit/ordercore/internal/event"
	handler "github.com/commercekit/ordercore/internal/handler/http"
	"github.com/commercekit/ordercore/internal/repository/postgres"
	"github.com/commercekit/ordercore/internal/service"
	"github.com/commercekit/ordercore/migrations"
	"github.com/commercekit/ordercore/pkg/database"
	"github.com/commercekit/ordercore/pkg/health"
	"github.com/commercekit/ordercore/pkg/httpclient"
	pkgkafka "github.com/commercekit/ordercore/pkg/kafka"
	"github.com/commercekit/ordercore/pkg/tracing"
)

// App wires together all dependencies and runs the order core service.
type App struct {
	cfg             *config.Config
	logger          *slog.Logger
	pool            *pgxpool.Pool
	redisClient     *redis.Client
	producer        *pkgkafka.Producer
	paymentConsumer *event.PaymentConsumer
	httpServer      *http.Server
	tracerShutdown  func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "ordercore",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPass
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSL

	pool, err := database.NewPostgresPool(ctx, &pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "ordercore")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	database.SetSlowQueryLogging(200*time.Millisecond, logger)

	// Initialize Kafka producer.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Redis backs the consumer's fast-path event deduplication. The service
	// stays correct without it (the processed-events table is authoritative),
	// so a failed connection downgrades to an in-memory store.
	var dedupStore pkgkafka.IdempotencyStore
	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Warn("redis unavailable, using in-memory event deduplication",
			slog.String("error", err.Error()),
		)
		redisClient = nil
		dedupStore = pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)
	} else {
		dedupStore = pkgkafka.NewRedisIdempotencyStore(redisClient, 24*time.Hour)
	}

	// Build the dependency graph.
	orderRepo := postgres.NewOrderRepository(pool)
	stockRepo := postgres.NewStockRepository(pool)
	paymentEventRepo := postgres.NewPaymentEventRepository(pool)
	eventProducer := event.NewProducer(producer, logger)

	// Catalog client with circuit breaker for variant lookups.
	baseClient := httpclient.New(httpclient.DefaultConfig())
	cbClient := httpclient.NewCircuitBreakerClient(
		baseClient,
		httpclient.DefaultCircuitBreakerConfig("catalog"),
		logger,
	)
	catalogClient := catalog.NewClient(cfg.CatalogBaseURL, cbClient)

	orderService := service.NewOrderService(orderRepo, catalogClient, eventProducer, logger)
	inventoryService := service.NewInventoryService(stockRepo, eventProducer, logger)
	paymentSyncService := service.NewPaymentSyncService(orderRepo, paymentEventRepo, eventProducer, logger)

	// Payment provider event consumer.
	paymentConsumer := event.NewPaymentConsumer(
		pkgkafka.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.PaymentConsumerGroup,
			Topic:   cfg.PaymentEventsTopic,
		},
		paymentSyncService,
		dedupStore,
		logger,
	)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	// HTTP router.
	router := handler.NewRouter(
		orderService,
		inventoryService,
		paymentSyncService,
		healthHandler,
		logger,
		cfg.PprofAllowedCIDRs,
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:             cfg,
		logger:          logger,
		pool:            pool,
		redisClient:     redisClient,
		producer:        producer,
		paymentConsumer: paymentConsumer,
		httpServer:      httpServer,
		tracerShutdown:  tracerShutdown,
	}, nil
}

// Run starts the HTTP server and the payment event consumer, blocking until
// the context is canceled or either component fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	go func() {
		a.logger.Info("starting payment event consumer",
			slog.String("topic", a.cfg.PaymentEventsTopic),
			slog.String("group", a.cfg.PaymentConsumerGroup),
		)
		if err := a.paymentConsumer.Start(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("payment consumer: %w", err)
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

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Payment event consumer
// 4. Kafka producer
// 5. Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Stop consuming payment events before closing the producer the
	// handlers publish through.
	if err := a.paymentConsumer.Close(); err != nil {
		a.logger.Error("payment consumer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 4. Close Kafka producer.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 5. Close Redis client and PostgreSQL pool.
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
