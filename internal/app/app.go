// Package app 组装 api / worker / reminders 共用的仓储、渠道和服务。
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"alertreminder/internal/audience"
	"alertreminder/internal/channel"
	"alertreminder/internal/config"
	"alertreminder/internal/delivery"
	"alertreminder/internal/model"
	"alertreminder/internal/reminder"
	"alertreminder/internal/repository"
	"alertreminder/internal/service"
	"alertreminder/pkg/outbox"
)

type App struct {
	Users       *repository.UserRepository
	Deliveries  *repository.DeliveryRepository
	Outbox      *outbox.Repository
	Channels    *channel.Registry
	Engine      *delivery.Engine
	Scheduler   *reminder.Scheduler
	Alerts      *service.AlertService
	Preferences *service.PreferenceService
}

// New rdb 可以为 nil（站内信不做实时推送）。
// email / sms 只写 outbox，由 api 进程里的 Dispatcher 发布。
func New(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, logger *zap.Logger) *App {
	loc := cfg.Reminder.Location()

	users := repository.NewUserRepository(pool, logger)
	alerts := repository.NewAlertRepository(pool, logger)
	prefs := repository.NewPreferenceRepository(pool, logger)
	deliveries := repository.NewDeliveryRepository(pool)
	tx := repository.NewTransactor(pool)
	events := outbox.NewRepository(pool)

	registry := channel.NewRegistry()
	registry.Register(model.DeliveryInApp, channel.NewInApp(deliveries, rdb, logger))
	registry.Register(model.DeliveryEmail, channel.NewEmail(events, deliveries, logger))
	registry.Register(model.DeliverySMS, channel.NewSMS(events, deliveries, logger))

	engine := delivery.NewEngine(alerts, audience.NewResolver(users), prefs, registry, tx, loc, logger).
		WithEvents(events)
	scheduler := reminder.NewScheduler(prefs, registry, tx, loc, logger).
		WithBatchSize(cfg.Reminder.BatchSize)

	return &App{
		Users:       users,
		Deliveries:  deliveries,
		Outbox:      events,
		Channels:    registry,
		Engine:      engine,
		Scheduler:   scheduler,
		Alerts:      service.NewAlertService(alerts, engine, loc, logger),
		Preferences: service.NewPreferenceService(users, alerts, prefs, loc, logger),
	}
}
