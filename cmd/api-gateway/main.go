package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/class-seat-booking/internal/repository"
	"github.com/noah-isme/class-seat-booking/internal/router"
	"github.com/noah-isme/class-seat-booking/internal/service"
	"github.com/noah-isme/class-seat-booking/pkg/cache"
	"github.com/noah-isme/class-seat-booking/pkg/config"
	"github.com/noah-isme/class-seat-booking/pkg/database"
	"github.com/noah-isme/class-seat-booking/pkg/events"
	"github.com/noah-isme/class-seat-booking/pkg/jobs"
	"github.com/noah-isme/class-seat-booking/pkg/logger"
	"github.com/noah-isme/class-seat-booking/pkg/retry"
)

// @title Class Seat Booking API
// @version 1.0.0
// @description Seat allocation and waiting-list promotion for scheduled classes.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// seatStore is implemented by both store drivers.
type seatStore interface {
	service.ClassStore
	service.CancellationStore
	service.QueryStore
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(cfg, logr)
	if err != nil {
		logr.Fatal("failed to open store", zap.String("driver", cfg.Booking.StoreDriver), zap.Error(err))
	}
	defer closeStore()

	var metrics *service.MetricsService
	if cfg.Metrics.Enabled {
		metrics = service.NewMetricsService()
	}

	cacheSvc, closeCache := openCatalogCache(cfg, metrics, logr)
	defer closeCache()

	opts := service.EngineOptions{
		Retry: retry.Policy{
			MaxAttempts: cfg.Booking.MaxAttempts,
			BaseDelay:   cfg.Booking.RetryBaseDelay,
			MaxDelay:    cfg.Booking.RetryMaxDelay,
		},
		Clock:   service.NewMonotonicClock(),
		Cache:   cacheSvc,
		Metrics: metrics,
		Logger:  logr,
	}

	if cfg.Events.Enabled {
		publisher := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.QueuePrefix, logr.Named("amqp"))
		dispatcher := service.NewEventDispatcher(publisher, jobs.QueueConfig{
			Workers:    cfg.Events.Workers,
			BufferSize: cfg.Events.BufferSize,
			MaxRetries: cfg.Events.MaxRetries,
			RetryDelay: cfg.Events.RetryDelay,
			Logger:     logr,
		}, metrics)
		dispatcher.Start(context.Background())
		defer func() {
			dispatcher.Stop()
			_ = publisher.Close()
		}()
		opts.Events = dispatcher
	}

	validate := validator.New()
	engine := router.New(router.Dependencies{
		Config:    cfg,
		Logger:    logr,
		Metrics:   metrics,
		Tokens:    service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer, Expiry: cfg.JWT.Expiration}),
		Store:     store,
		Registry:  service.NewClassRegistry(store, validate, opts),
		Allocator: service.NewSeatAllocator(store, validate, opts),
		Canceller: service.NewCancellationCoordinator(store, opts),
		Queries:   service.NewQueryService(store, opts),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.Booking.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStore(cfg *config.Config, logr *zap.Logger) (seatStore, func(), error) {
	if cfg.Booking.StoreDriver == config.StoreDriverMemory {
		logr.Warn("using in-memory store; data is lost on restart")
		return repository.NewMemorySeatStore(cfg.Booking.LockWaitTimeout), func() {}, nil
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if dir := cfg.Database.MigrationsDir; dir != "" {
		if _, statErr := os.Stat(dir); statErr != nil {
			logr.Warn("migrations directory unavailable, skipping", zap.String("dir", dir), zap.Error(statErr))
		} else if _, err := database.Migrate(context.Background(), db, dir, logr); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	return repository.NewPostgresSeatStore(db, cfg.Database.LockTimeout), func() { _ = db.Close() }, nil
}

// openCatalogCache returns a disabled cache when Redis is off or unreachable.
func openCatalogCache(cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger) (*service.CacheService, func()) {
	if !cfg.Catalog.CacheEnabled {
		return service.NewCacheService(nil, metrics, cfg.Catalog.CacheTTL, logr, false), func() {}
	}
	client, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, catalog cache disabled", zap.Error(err))
		return service.NewCacheService(nil, metrics, cfg.Catalog.CacheTTL, logr, false), func() {}
	}
	var universal redis.UniversalClient = client
	return service.NewCacheService(repository.NewCacheRepository(universal), metrics, cfg.Catalog.CacheTTL, logr, true), func() { _ = client.Close() }
}
