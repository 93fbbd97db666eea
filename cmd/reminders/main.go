// reminders 执行一次提醒扫描，供 cron 调用
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"alertreminder/internal/app"
	"alertreminder/internal/config"
	"alertreminder/pkg/db"
	"alertreminder/pkg/logger"
	"alertreminder/pkg/otel"
	"alertreminder/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logger.NewLogger()
	defer logger.Sync()

	shutdown, err := otel.Init("alert-reminders", cfg.Otel, logger)
	if err != nil {
		logger.Fatal("OpenTelemetry init failed", zap.Error(err))
	}
	defer shutdown()

	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	// email / sms 提醒写入 outbox，由 api 的 Dispatcher 发布
	a := app.New(cfg, dbConn, rdb, logger)

	// Ctrl-C 在两条之间中止扫描，已提交的保持不变
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := a.Scheduler.TriggerReminders(ctx, time.Now())
	fmt.Printf("Triggered %d reminders\n", n)
	if err != nil {
		logger.Error("Reminder sweep failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
