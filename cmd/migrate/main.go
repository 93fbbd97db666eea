package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"alertreminder/internal/config"
	"alertreminder/internal/migrate"
	"alertreminder/pkg/db"
	"alertreminder/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logger.NewLogger()
	defer logger.Sync()

	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := migrate.Migrate(ctx, dbConn, logger)
	if err != nil {
		logger.Fatal("Migration failed", zap.Int("applied", n), zap.Error(err))
	}
	logger.Info("Schema up to date", zap.Int("applied", n), zap.Int("version", migrate.Latest()))
}
