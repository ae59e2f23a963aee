package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/iamgideonidoko/nudge/internal/config"
	"github.com/iamgideonidoko/nudge/internal/enricher"
	"github.com/iamgideonidoko/nudge/internal/handlers"
	"github.com/iamgideonidoko/nudge/internal/middleware"
	"github.com/iamgideonidoko/nudge/internal/publisher"
	"github.com/iamgideonidoko/nudge/internal/repository"
	"github.com/iamgideonidoko/nudge/internal/services"
	"github.com/iamgideonidoko/nudge/pkg/cache"
	"github.com/iamgideonidoko/nudge/pkg/logger"
)

type store interface {
	services.Store
	handlers.HealthChecker
	Close() error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Monitoring.LogLevel))
	logger.Info("Starting Nudge API", map[string]any{
		"version":     "1.0.0",
		"environment": cfg.API.Environment,
		"store":       cfg.Database.Driver,
	})

	db, err := openStore(cfg)
	if err != nil {
		logger.Error("Failed to open store", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer db.Close()

	// Redis backs caching, rate limiting and metrics; all three degrade
	// to no-ops without it.
	var (
		svcCache services.Cache
		limiter  middleware.Limiter
		metrics  handlers.MetricsReader
		cacheHC  handlers.HealthChecker
	)
	redisCache, err := connectRedis(cfg)
	if err != nil {
		logger.Warn("Redis unavailable, running without cache and rate limits", map[string]any{
			"error": err.Error(),
		})
	} else {
		defer redisCache.Close()
		svcCache, limiter, metrics, cacheHC = redisCache, redisCache, redisCache, redisCache
		logger.Info("Connected to Redis")
	}

	enr, err := enricher.New(cfg.Enrichment.GeoIPDBPath)
	if err != nil {
		logger.Warn("GeoIP lookups disabled", map[string]any{"error": err.Error()})
	}
	defer enr.Close()

	events := publisher.New(cfg.Kafka)
	defer func() {
		if err := events.Close(); err != nil {
			logger.Warn("Failed to flush event stream", map[string]any{"error": err.Error()})
		}
	}()
	if cfg.Kafka.Enabled() {
		logger.Info("Publishing events to Kafka", map[string]any{
			"brokers": cfg.Kafka.Brokers,
			"topic":   cfg.Kafka.EventsTopic,
		})
	}

	ingest := services.NewIngestionService(db, svcCache, cfg, services.WithPublisher(events))
	evaluate := services.NewEvaluationService(db, svcCache, cfg)
	handler := handlers.NewHandler(ingest, evaluate, enr, metrics, db, cacheHC)

	app := fiber.New(fiber.Config{
		ServerHeader: "Nudge",
		AppName:      "Nudge API v1.0",
		BodyLimit:    64 * 1024,
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS(cfg.Security.CORSOrigins))

	rateLimiter := middleware.NewRateLimiter(limiter, &cfg.RateLimit)
	handlers.RegisterRoutes(app, handler, rateLimiter.LimitByIP())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(ctx); err != nil {
			logger.Warn("Shutdown incomplete", map[string]any{"error": err.Error()})
		}
	}()

	addr := cfg.API.Address()
	logger.Info("Nudge API started", map[string]any{"address": addr})

	if err := app.Listen(addr); err != nil {
		logger.Error("Server error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("Server shutdown complete")
}

func openStore(cfg *config.Config) (store, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using the in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), nil
	}

	var repo *repository.Repository
	err := repository.WithRetry(context.Background(), repository.DefaultRetryConfig, func() error {
		var retryErr error
		repo, retryErr = repository.NewRepository(
			cfg.Database.URL,
			cfg.Database.MaxConns,
			cfg.Database.MaxIdleConns,
		)
		return retryErr
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	logger.Info("Connected to PostgreSQL", map[string]any{
		"max_conns": cfg.Database.MaxConns,
	})
	return repo, nil
}

func connectRedis(cfg *config.Config) (*cache.Cache, error) {
	var redisCache *cache.Cache
	err := repository.WithRetry(context.Background(), repository.DefaultRetryConfig, func() error {
		var retryErr error
		redisCache, retryErr = cache.NewCache(
			cfg.Redis.URL,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.CacheTTL,
		)
		return retryErr
	})
	return redisCache, err
}
