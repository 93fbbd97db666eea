package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"alertreminder/internal/api"
	"alertreminder/internal/app"
	"alertreminder/internal/config"
	"alertreminder/pkg/db"
	"alertreminder/pkg/logger"
	"alertreminder/pkg/mq"
	"alertreminder/pkg/otel"
	"alertreminder/pkg/outbox"
	"alertreminder/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logger.NewLogger()
	defer logger.Sync()

	shutdown, err := otel.Init("alert-api", cfg.Otel, logger)
	if err != nil {
		logger.Fatal("OpenTelemetry init failed", zap.Error(err))
	}
	defer shutdown()

	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Redis 只用于站内信实时推送，不可用时照常服务
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	if err := redis.Ping(context.Background(), rdb); err != nil {
		logger.Warn("Redis not reachable, realtime push degraded", zap.Error(err))
	}

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	a := app.New(cfg, dbConn, rdb, logger)

	// Outbox
	replayService := outbox.NewReplayService(a.Outbox, publisher, logger)
	dispatcher := outbox.NewDispatcher(a.Outbox, publisher, logger).
		WithInterval(cfg.Outbox.Interval()).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go dispatcher.Start(ctx)

	// Handlers
	alertHandler := api.NewAlertHandler(a.Alerts, a.Engine, publisher, logger).
		WithDeliveryHistory(a.Deliveries)
	prefHandler := api.NewPreferenceHandler(a.Preferences, logger)
	adminHandler := api.NewAdminHandler(a.Scheduler, replayService, logger)

	router := api.NewRouter(alertHandler, prefHandler, adminHandler, cfg.JWT.Secret, dbConn)

	logger.Info("Starting alert API", zap.String("port", cfg.Server.Port))
	if err := router.Run(cfg.Server.Port); err != nil {
		logger.Fatal("server start failed", zap.Error(err))
	}
}
