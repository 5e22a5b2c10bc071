package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/macrolens/larder/config"
	"github.com/macrolens/larder/internal/catalog"
	httpDelivery "github.com/macrolens/larder/internal/delivery/http"
	"github.com/macrolens/larder/internal/domain"
	"github.com/macrolens/larder/internal/infrastructure/cache"
	"github.com/macrolens/larder/internal/infrastructure/store"
	"github.com/macrolens/larder/internal/infrastructure/usda"
	"github.com/macrolens/larder/internal/logger"
	"github.com/macrolens/larder/internal/metrics"
	"github.com/macrolens/larder/internal/usecase"
)

func main() {
	// Load configuration (.env, config.yaml, LARDER_* environment)
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting larder",
		zap.String("environment", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Type),
		zap.String("cache", cfg.Cache.Type),
		zap.Bool("usda", cfg.USDA.Enabled),
	)

	// Initialize infrastructure dependencies
	inventory, err := store.Open(ctx, store.Config{
		Type:        cfg.Store.Type,
		SQLitePath:  cfg.Store.SQLitePath,
		PostgresDSN: cfg.Store.PostgresDSN,
		RedisURL:    cfg.Store.RedisURL,
		KeyPrefix:   cfg.Store.KeyPrefix,
		Epsilon:     cfg.Engine.Epsilon,
	}, log)
	if err != nil {
		return fmt.Errorf("open inventory store: %w", err)
	}
	defer inventory.Close()

	densityCache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	var foods domain.FoodDatabase
	if cfg.USDA.Enabled {
		client := usda.NewClient(usda.Config{
			APIKey:            cfg.USDA.APIKey,
			BaseURL:           cfg.USDA.BaseURL,
			RequestsPerSecond: float64(cfg.RateLimit.USDA) / 3600,
		}, log.Named("usda"))
		if cfg.Server.Environment == "development" {
			client.SetDebug(true)
		}
		foods = client
	}

	// Initialize usecase layer
	cat := catalog.Default()
	match := usecase.MatchConfig{
		MinOverlapRatio:        cfg.Matching.MinOverlapRatio,
		MinConfidenceThreshold: cfg.Matching.MinConfidenceThreshold,
		EnableFuzzyMatching:    cfg.Matching.EnableFuzzyMatching,
		FuzzyEditDistance:      cfg.Matching.FuzzyEditDistance,
		EnableDebugLogging:     cfg.Matching.EnableDebugLogging,
	}
	densities := usecase.NewDensityService(cat, densityCache, foods,
		usecase.NewMatchingService(match, log), usecase.DensityServiceConfig{
			CacheTTL:           cfg.Cache.TTL,
			EnableDebugLogging: cfg.Matching.EnableDebugLogging,
		}, log.Named("density"))

	recorder := metrics.New()
	completions := usecase.NewCompletionService(cat, inventory, densities, usecase.CompletionServiceConfig{
		Match:              match,
		Epsilon:            cfg.Engine.Epsilon,
		Parallelism:        cfg.Engine.Parallelism,
		EnableDebugLogging: cfg.Matching.EnableDebugLogging,
	}, log.Named("completion"), usecase.WithObserver(recorder))

	handler := httpDelivery.NewHandler(completions, inventory, cat, recorder.Handler(), log)
	router := httpDelivery.SetupRouter(cfg, handler, log.Named("http"))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

// openCache builds the density cache selected by cfg.Cache.Type.
func openCache(ctx context.Context, cfg *config.Config, log *zap.Logger) (domain.CacheRepository, func(), error) {
	if cfg.Cache.Type != "redis" {
		mem := cache.NewMemoryCache(cfg.Cache.CleanupInterval)
		return mem, func() { _ = mem.Close() }, nil
	}

	opts, err := redis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse cache redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect cache redis: %w", err)
	}
	log.Info("density cache connected to redis", zap.String("addr", opts.Addr))
	return cache.NewRedisCache(client, cfg.Store.KeyPrefix), func() { _ = client.Close() }, nil
}
