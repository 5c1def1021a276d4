package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Harsh-BH/appjob/internal/config"
	amqpdelivery "github.com/Harsh-BH/appjob/internal/delivery/amqp"
	handler "github.com/Harsh-BH/appjob/internal/delivery/http"
	"github.com/Harsh-BH/appjob/internal/dispatcher"
	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/engine"
	"github.com/Harsh-BH/appjob/internal/guard"
	"github.com/Harsh-BH/appjob/internal/jobs"
	"github.com/Harsh-BH/appjob/internal/listener"
	"github.com/Harsh-BH/appjob/internal/publisher"
	"github.com/Harsh-BH/appjob/internal/repository/postgres"
	redisrepo "github.com/Harsh-BH/appjob/internal/repository/redis"
	"github.com/Harsh-BH/appjob/internal/telemetry"
	"github.com/Harsh-BH/appjob/internal/usecase"
)

const (
	poolEngine      = "pool"
	schedulerEngine = "scheduler"

	// Local resource locks admit this many concurrent shared holders.
	sharedReaders = 64
	sinkBuffer    = 1024
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting appjob daemon")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	gin.SetMode(cfg.Server.GinMode)

	shutdownTracing, err := telemetry.Init(telemetry.Config{
		ServiceName:    "appjobd",
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		Output:         os.Stderr,
		ZipkinEndpoint: cfg.Tracing.ZipkinEndpoint,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Dispatcher and engines
	d := dispatcher.New(logger,
		dispatcher.WithMinReportPeriod(cfg.Dispatcher.MinReportPeriod),
		dispatcher.WithErrorBuffer(cfg.Dispatcher.ErrorBuffer),
	)
	if err := d.RegisterEngine(poolEngine, engine.NewPool(poolEngine, cfg.Pool.Size, cfg.Pool.QueueSize, logger)); err != nil {
		logger.Fatal("Failed to register pool engine", zap.Error(err))
	}
	var schedOpts []engine.SchedulerOption
	if cfg.Scheduler.TickInterval > 0 {
		schedOpts = append(schedOpts, engine.WithTickInterval(cfg.Scheduler.TickInterval))
	}
	if err := d.RegisterEngine(schedulerEngine, engine.NewScheduler(schedulerEngine, logger, schedOpts...)); err != nil {
		logger.Fatal("Failed to register scheduler engine", zap.Error(err))
	}

	checks := map[string]handler.HealthCheck{}
	var sinks []listener.Sink
	svcOpts := []usecase.ServiceOption{
		usecase.WithDefaultEngines(poolEngine, schedulerEngine),
		usecase.WithLockers(guard.NewRegistry(sharedReaders)),
	}

	// Optional PostgreSQL transition history
	if cfg.Database.URL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Fatal("Failed to ping PostgreSQL", zap.Error(err))
		}
		if err := postgres.EnsureSchema(ctx, dbPool); err != nil {
			logger.Fatal("Failed to create schema", zap.Error(err))
		}
		logger.Info("Connected to PostgreSQL")

		repo := postgres.NewPostgresTransitionRepository(dbPool)
		sinks = append(sinks, listener.RecordTo(repo))
		svcOpts = append(svcOpts, usecase.WithHistory(repo))
		checks["postgres"] = dbPool.Ping
	}

	// Optional Redis idempotency keys and distributed locks
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to ping Redis", zap.Error(err))
		}
		logger.Info("Connected to Redis")

		svcOpts = append(svcOpts,
			usecase.WithIdempotency(redisrepo.NewRedisIdempotencyStore(rdb)),
			usecase.WithLockers(redisrepo.NewLockerFactory(rdb, redisrepo.WithLockTTL(cfg.Redis.LockTTL))),
		)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// Optional RabbitMQ event publishing
	if cfg.RabbitMQ.URL != "" {
		pub, err := publisher.NewRabbitMQPublisher(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ publisher", zap.Error(err))
		}
		defer pub.Close()
		sinks = append(sinks, listener.PublishTo(pub))
		logger.Info("Connected to RabbitMQ")
	}

	forwarder := listener.NewForwarder(logListener(logger), sinkBuffer, logger, sinks...)
	forwarder.Start()

	svc := usecase.NewJobService(d, jobs.DefaultCatalog(), forwarder, logger, svcOpts...)

	// Optional RabbitMQ request intake
	var consumer *amqpdelivery.Consumer
	if cfg.RabbitMQ.URL != "" {
		consumer, err = amqpdelivery.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Prefetch, svc, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ consumer", zap.Error(err))
		}
		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.Error("AMQP consumer stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.NewRouter(svc, checks, logger, cfg.Server.RateLimit),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	// The main goroutine owns the listeners.
	runHostLoop(ctx, d, cfg.Dispatcher.IdleInterval, logger)

	logger.Info("Shutting down appjob daemon...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Warn("Failed to close AMQP consumer", zap.Error(err))
		}
	}
	if err := d.Shutdown(shutdownCtx); err != nil {
		logger.Error("Dispatcher shutdown incomplete", zap.Error(err))
	}
	if err := forwarder.Close(shutdownCtx); err != nil {
		logger.Warn("Sinks did not drain", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", zap.Error(err))
	}

	logger.Info("appjob daemon stopped")
}

// runHostLoop calls IdleCallback whenever engines report and at least every
// interval, and logs engine errors, until ctx is done.
func runHostLoop(ctx context.Context, d *dispatcher.Dispatcher, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-d.Errors():
			logger.Error("Engine error", zap.Error(err))
			continue
		case <-d.Pending():
		case <-ticker.C:
		}
		d.IdleCallback()
	}
}

func logListener(logger *zap.Logger) domain.Listener {
	return domain.ListenerFunc(func(n domain.Notification) {
		fields := []zap.Field{
			zap.Int64("job_id", int64(n.JobID)),
			zap.String("engine", n.Engine),
			zap.Stringer("state", n.State),
			zap.String("description", n.Description),
		}
		if n.Err != nil {
			fields = append(fields, zap.Error(n.Err))
		}
		logger.Info("Job state changed", fields...)
	})
}
