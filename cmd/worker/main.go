package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/televine/broadcast-api/internal/config"
	"github.com/televine/broadcast-api/internal/cron"
	"github.com/televine/broadcast-api/internal/email"
	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/queue"
	"github.com/televine/broadcast-api/internal/repository/postgres"
	broadcastService "github.com/televine/broadcast-api/internal/service/broadcast"
	notificationService "github.com/televine/broadcast-api/internal/service/notification"
	usageService "github.com/televine/broadcast-api/internal/service/usage"
	"github.com/televine/broadcast-api/internal/worker"
	"github.com/televine/broadcast-api/pkg/logger"
	"github.com/televine/broadcast-api/pkg/messaging/redis"
	"github.com/televine/broadcast-api/pkg/metrics"
	"github.com/televine/broadcast-api/pkg/telegram"
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

	appMetrics := metrics.NewMetrics("broadcast_worker")

	base := postgres.NewBaseRepository(db)
	campaignRepo := postgres.NewCampaignRepository(base)
	segmentRepo := postgres.NewSegmentRepository(base)
	usageRepo := postgres.NewUsageRepository(base)
	jobRepo := postgres.NewJobRepository(base)
	notificationRepo := postgres.NewNotificationRepository(base)
	maintenanceRepo := postgres.NewMaintenanceRepository(base)

	manager := queue.NewManager(jobRepo, broker, appLogger, cfg.Queue.MaxAttempts)

	usageSvc := usageService.NewService(usageRepo, appLogger)
	resolver := broadcastService.NewResolver(segmentRepo)
	progressCache := broadcastService.NewProgressCache(redisClient, broker, cfg.Broadcast, appLogger)

	sender := telegram.NewHTTPSender(telegram.ClientConfig{
		BaseURL: cfg.Telegram.BaseURL,
		Token:   cfg.Telegram.Token,
		Timeout: time.Duration(cfg.Telegram.TimeoutSeconds) * time.Second,
	})
	emailSvc := email.NewService(cfg.SMTP)
	notificationSvc := notificationService.NewService(notificationRepo, manager, emailSvc, sender, appMetrics, appLogger)

	broadcastWorker := worker.NewBroadcastWorker(
		campaignRepo, resolver, usageSvc, progressCache,
		notificationSvc, sender, appMetrics, appLogger, cfg.Broadcast.FlushEvery,
	)

	registry := cron.NewRegistry()
	cronJobs := cron.NewJobs(maintenanceRepo, notificationSvc, manager, appLogger)
	cronJobs.RegisterAll(registry)

	manager.Register(model.JobTypeBroadcast, broadcastWorker.Handle)
	manager.Register(model.JobTypeNotification, worker.NotificationHandler(notificationSvc, appLogger))
	manager.Register(model.JobTypeCleanupData, worker.CleanupHandler(maintenanceRepo, notificationSvc, appLogger))
	manager.Register(model.JobTypeAudience, worker.AudienceHandler(segmentRepo, appLogger))
	manager.Register(model.JobTypeCron, cron.Dispatcher(registry, appMetrics, appLogger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler, err := queue.NewScheduler(jobRepo, manager, appLogger, registry.Schedules(), cfg.Cron.Timezone)
	if err != nil {
		appLogger.Fatal(err, "failed to build scheduler")
	}
	if err := scheduler.Reconcile(ctx); err != nil {
		appLogger.Fatal(err, "failed to reconcile schedules")
	}
	scheduler.Start(ctx, 30*time.Second)

	pool := queue.NewWorkerPool(manager, jobRepo, broker, appMetrics, appLogger, cfg.Queue)
	pool.RecordFailuresTo(maintenanceRepo)
	pool.Start(ctx)

	setupHealthCheck(appLogger)

	appLogger.Info("worker started",
		"concurrency", cfg.Queue.Concurrency, "poll_interval", cfg.Queue.PollInterval.String())

	<-ctx.Done()
	appLogger.Info("shutting down worker")
	scheduler.Stop()
	pool.Stop()
	appLogger.Info("worker stopped")
}

func setupHealthCheck(log *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			log.ZL.Error().Err(err).Msg("health check server failed")
			os.Exit(1)
		}
	}()
}
