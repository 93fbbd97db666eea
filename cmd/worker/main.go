package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	mqcontracts "alertreminder/contracts/mq"
	"alertreminder/internal/app"
	"alertreminder/internal/config"
	"alertreminder/internal/mqhandler"
	"alertreminder/pkg/db"
	"alertreminder/pkg/logger"
	"alertreminder/pkg/mq"
	"alertreminder/pkg/otel"
	"alertreminder/pkg/redis"
	"alertreminder/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logger.NewLogger()
	defer logger.Sync()

	logger.Info("Starting alert worker...")

	shutdown, err := otel.Init("alert-worker", cfg.Otel, logger)
	if err != nil {
		logger.Fatal("OpenTelemetry init failed", zap.Error(err))
	}
	defer shutdown()

	// Redis
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	if err := redis.Ping(context.Background(), rdb); err != nil {
		logger.Warn("Redis not reachable, dedup disabled until it recovers", zap.Error(err))
	}

	deduper := util.NewDeduper(rdb, cfg.Worker.DedupTTL(), logger)
	retryCounter := util.NewRetryCounter(rdb, cfg.Worker.DedupTTL())

	// DB
	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	a := app.New(cfg, dbConn, rdb, logger)

	deliverHandler := mqhandler.NewDeliverRequestedHandler(a.Engine, deduper, logger)
	remindersHandler := mqhandler.NewRemindersTriggerHandler(a.Scheduler, deduper, logger)

	consumers := []struct {
		queue, routingKey string
		handler           mq.MessageHandler
	}{
		{"alert.deliver.requested.q", mqcontracts.RoutingKeyDeliverRequested, deliverHandler.Handle},
		{"reminders.trigger.q", mqcontracts.RoutingKeyRemindersTrigger, remindersHandler.Handle},
	}

	for _, c := range consumers {
		logger.Info("Init consumer", zap.String("queue", c.queue))
		consumer, err := mq.NewConsumer(cfg.MQ.URL, c.queue, c.routingKey, logger)
		if err != nil {
			logger.Fatal("Consumer init failed", zap.String("queue", c.queue), zap.Error(err))
		}
		consumer.SetHandler(c.handler)
		consumer.WithDeadLetter(publisher, retryCounter, cfg.Worker.MaxRetries)

		go func(queue string) {
			if err := consumer.StartConsuming(); err != nil {
				logger.Fatal("Consumer crashed", zap.String("queue", queue), zap.Error(err))
			}
		}(c.queue)
		defer consumer.Close()
		defer consumer.Stop()
	}

	logger.Info("Worker running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Worker shutting down")
}
