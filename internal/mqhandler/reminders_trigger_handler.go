package mqhandler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	mqcontracts "alertreminder/contracts/mq"
	"alertreminder/pkg/logger"
)

const remindersHandlerName = "reminders_trigger"

type ReminderTrigger interface {
	TriggerReminders(ctx context.Context, now time.Time) (int, error)
}

type RemindersTriggerHandler struct {
	scheduler ReminderTrigger
	dedup     Deduper
	logger    *zap.Logger
	now       func() time.Time
}

func NewRemindersTriggerHandler(scheduler ReminderTrigger, dedup Deduper, logger *zap.Logger) *RemindersTriggerHandler {
	return &RemindersTriggerHandler{
		scheduler: scheduler,
		dedup:     dedup,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle -- 外部调度器发 reminders.trigger 代替 cron 跑 CLI
// 扫描本身按行加锁，重复触发只会多跑一遍
func (h *RemindersTriggerHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.ReminderTriggerPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			h.logger.Error("Failed to unmarshal ReminderTriggerPayload", zap.Error(err))
			return err
		}
	}

	if p.RequestID != "" && !h.dedup.AcquireOnce(ctx, remindersHandlerName, p.RequestID) {
		return nil
	}

	n, err := h.scheduler.TriggerReminders(ctx, h.now())
	if err != nil {
		if p.RequestID != "" {
			h.dedup.Release(ctx, remindersHandlerName, p.RequestID)
		}
		return classify(err)
	}

	logger.WithTrace(ctx, h.logger).Info("Triggered reminders",
		zap.Int("reminded", n),
		zap.String("request_id", p.RequestID),
	)
	return nil
}
