package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeiKhy/link-preview/internal/cache"
	"github.com/SergeiKhy/link-preview/internal/config"
	"github.com/SergeiKhy/link-preview/internal/extractor"
	"github.com/SergeiKhy/link-preview/internal/handler"
	"github.com/SergeiKhy/link-preview/internal/imaging"
	"github.com/SergeiKhy/link-preview/internal/logger"
	"github.com/SergeiKhy/link-preview/internal/middleware"
	"github.com/SergeiKhy/link-preview/internal/repository"
	"github.com/SergeiKhy/link-preview/internal/security"
	"github.com/SergeiKhy/link-preview/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// @title Link Preview API
// @version 1.0
// @description Link preview resolution with security validation, caching and analytics.
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func main() {
	configPath := pflag.String("config", ".env", "path to .env config file")
	pflag.Parse()

	// Загрузка конфига
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Подключение к БД (postgres) и миграции
	db, err := repository.NewPostgresDB(cfg.DB)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	logger.Info("Connected to PostgreSQL")

	// Уровни кэша: память, затем Redis (если настроен)
	tiers := []cache.Store{cache.NewMemoryStore(cfg.Cache.LocalSize, cfg.Cache.TTL)}
	if cfg.Redis.Host != "" {
		redis, err := repository.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redis.Close()
		tiers = append(tiers, repository.NewCacheRepository(redis))
		logger.Info("Connected to Redis")
	} else {
		logger.Info("Redis is not configured, using in-memory cache only")
	}
	previewCache := cache.NewPreviewCache(cfg.Cache.TTL, logger, tiers...)

	// Оптимизация изображений через MinIO (опционально)
	var optimizer service.ImageOptimizer
	if cfg.Images.Enabled {
		assets, err := repository.NewAssetStore(ctx, cfg.Images)
		if err != nil {
			logger.Fatal("Failed to init image storage", zap.Error(err))
		}
		optimizer = imaging.NewOptimizer(imaging.Config{
			MaxBytes:     cfg.Images.MaxBytes,
			Timeout:      cfg.Extract.Timeout,
			MaxRedirects: cfg.Extract.MaxRedirects,
			UserAgent:    cfg.Extract.UserAgent,
		}, assets, nil, logger)
		logger.Info("Image optimization enabled", zap.String("bucket", cfg.Images.Bucket))
	}

	prober := security.NewHTTPProber(nil, cfg.Security.ProbeTimeout, cfg.Extract.UserAgent, logger)
	validator := security.NewValidator(securityPolicy(cfg.Security), prober, logger)

	ext := extractor.New(extractor.Config{}, logger)

	previewRepo := repository.NewPreviewRepository(db)
	previewService := service.NewPreviewService(previewCache, previewRepo, validator, ext, optimizer,
		service.PreviewServiceConfig{
			ResolveTimeout: cfg.App.ResolveTimeout,
			Extract: extractor.Options{
				Timeout:       cfg.Extract.Timeout,
				MaxRedirects:  cfg.Extract.MaxRedirects,
				ExtractImages: true,
				ExtractVideos: true,
				UserAgent:     cfg.Extract.UserAgent,
				MaxBodyBytes:  cfg.Extract.MaxBodyBytes,
			},
		}, logger)

	// Асинхронная запись аналитики (Worker Pool)
	recorder := service.NewAnalyticsRecorder(repository.NewAnalyticsRepository(db), service.AnalyticsConfig{
		Workers:    cfg.Analytics.Workers,
		Buffer:     cfg.Analytics.Buffer,
		MaxRetries: cfg.Analytics.MaxRetries,
	}, logger)
	recorder.Start()
	defer recorder.Stop()

	go cleanupExpired(ctx, previewRepo, cfg.App.CleanupEvery, logger)

	// Инициализация middleware
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		CleanupInterval:   time.Minute,
	})
	defer rateLimiter.Stop()

	var apiKeyMiddleware gin.HandlerFunc
	if len(cfg.Auth.APIKeys) > 0 {
		apiKeyMiddleware = middleware.RequireAPIKey(cfg.Auth.APIKeys)
		logger.Info("API key authentication enabled", zap.Int("keys_count", len(cfg.Auth.APIKeys)))
	}

	router := handler.NewRouter(previewService, recorder, rateLimiter, apiKeyMiddleware, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.App.ResolveTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start server", zap.Error(err))
			stop()
		}
	}()

	// Graceful Shutdown
	<-ctx.Done()

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Server exited")
}

// securityPolicy накладывает списки из конфигурации на политику по умолчанию
func securityPolicy(cfg config.SecurityConfig) security.Policy {
	policy := security.DefaultPolicy()
	policy.MinScore = cfg.MinScore
	if len(cfg.GoodDomains) > 0 {
		policy.GoodDomains = cfg.GoodDomains
	}
	if len(cfg.BlockedDomains) > 0 {
		policy.BlockedDomains = cfg.BlockedDomains
	}
	if len(cfg.SuspiciousTLDs) > 0 {
		policy.SuspiciousTLDs = cfg.SuspiciousTLDs
	}
	if len(cfg.ShortenerDomains) > 0 {
		policy.ShortenerDomains = cfg.ShortenerDomains
	}
	if len(cfg.PhishingKeywords) > 0 {
		policy.PhishingKeywords = cfg.PhishingKeywords
	}
	return policy
}

// cleanupExpired периодически очищает просроченные превью в БД, сохраняя их id
func cleanupExpired(ctx context.Context, repo repository.PreviewRepository, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("Failed to purge expired previews", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("Expired previews purged", zap.Int64("count", n))
			}
		}
	}
}
