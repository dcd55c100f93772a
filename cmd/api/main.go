package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/televine/broadcast-api/internal/config"
	broadcastHandler "github.com/televine/broadcast-api/internal/handler/broadcast"
	healthHandler "github.com/televine/broadcast-api/internal/handler/health"
	"github.com/televine/broadcast-api/internal/queue"
	"github.com/televine/broadcast-api/internal/repository/postgres"
	"github.com/televine/broadcast-api/internal/router"
	broadcastService "github.com/televine/broadcast-api/internal/service/broadcast"
	usageService "github.com/televine/broadcast-api/internal/service/usage"
	"github.com/televine/broadcast-api/pkg/auth"
	"github.com/televine/broadcast-api/pkg/logger"
	"github.com/televine/broadcast-api/pkg/messaging/redis"
	"github.com/televine/broadcast-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	redisClient, err := redis.NewClient(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redisClient.Close()

	broker := redis.NewRedisBrokerFromClient(redisClient, &appLogger.ZL)

	appMetrics := metrics.NewMetrics("broadcast")

	base := postgres.NewBaseRepository(db)
	campaignRepo := postgres.NewCampaignRepository(base)
	segmentRepo := postgres.NewSegmentRepository(base)
	usageRepo := postgres.NewUsageRepository(base)
	jobRepo := postgres.NewJobRepository(base)

	manager := queue.NewManager(jobRepo, broker, appLogger, cfg.Queue.MaxAttempts)

	usageSvc := usageService.NewService(usageRepo, appLogger)
	resolver := broadcastService.NewResolver(segmentRepo)
	progressCache := broadcastService.NewProgressCache(redisClient, broker, cfg.Broadcast, appLogger)
	broadcastSvc := broadcastService.NewService(campaignRepo, resolver, usageSvc, manager, progressCache, appLogger)

	verifier := auth.NewVerifier(cfg.JWT.Secret)
	broadcastH := broadcastHandler.NewHandler(broadcastSvc, broker, appLogger)
	healthH := healthHandler.NewHandler(db, redisClient, appMetrics)

	r := router.NewRouter(verifier, broadcastH, healthH, appLogger, cfg.Server)
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		appLogger.Info("api server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(err, "api server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down api server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error(err, "forced shutdown")
	}
}
