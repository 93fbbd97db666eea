// Package delivery 把一条 alert 立即投递给它的全部受众。
package delivery

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	mqcontracts "alertreminder/contracts/mq"
	"alertreminder/internal/channel"
	"alertreminder/internal/model"
	"alertreminder/pkg/logger"
	"alertreminder/pkg/metrics"
	"alertreminder/pkg/otel"
)

type AudienceResolver interface {
	Resolve(ctx context.Context, alert *model.Alert) ([]model.User, error)
}

type ChannelLookup interface {
	Get(key model.DeliveryType) (channel.Channel, error)
}

type AlertStore interface {
	Get(ctx context.Context, id int64) (*model.Alert, error)
}

type PreferenceStore interface {
	GetOrCreate(ctx context.Context, alertID, userID int64) (*model.Preference, bool, error)
	LockForUpdate(ctx context.Context, id int64) (*model.Preference, error)
	MarkReminded(ctx context.Context, id int64, at time.Time) error
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventRecorder 由 outbox.Repository 实现
type EventRecorder interface {
	Record(ctx context.Context, aggregateType string, aggregateID *int64, routingKey string, payload interface{}) error
}

type Engine struct {
	alerts   AlertStore
	audience AudienceResolver
	prefs    PreferenceStore
	channels ChannelLookup
	tx       Transactor
	events   EventRecorder
	loc      *time.Location
	logger   *zap.Logger
}

func NewEngine(
	alerts AlertStore,
	audience AudienceResolver,
	prefs PreferenceStore,
	channels ChannelLookup,
	tx Transactor,
	loc *time.Location,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		alerts:   alerts,
		audience: audience,
		prefs:    prefs,
		channels: channels,
		tx:       tx,
		loc:      loc,
		logger:   logger,
	}
}

// WithEvents 投递完成后写 alert.delivered 事件到 outbox
func (e *Engine) WithEvents(events EventRecorder) *Engine {
	e.events = events
	return e
}

// DeliverByID 加载 alert 后投递
func (e *Engine) DeliverByID(ctx context.Context, alertID int64, now time.Time) (int, error) {
	alert, err := e.alerts.Get(ctx, alertID)
	if err != nil {
		return 0, err
	}
	return e.Deliver(ctx, alert, now)
}

// Deliver 返回成功发送的用户数。
// 每个用户一个事务：锁 preference 行，今天已暂停则跳过，发送成功才更新 last_reminded_at。
// 一个用户失败不影响其他用户已经提交的结果。
func (e *Engine) Deliver(ctx context.Context, alert *model.Alert, now time.Time) (delivered int, err error) {
	ctx, span := otel.StartSpan(ctx, "delivery.Deliver",
		attribute.Int64("alert.id", alert.ID),
		attribute.String("alert.delivery_type", string(alert.DeliveryType)),
	)
	defer func() {
		span.SetAttributes(attribute.Int("alert.delivered", delivered))
		otel.EndSpan(span, err)
	}()

	log := logger.WithTrace(ctx, e.logger).With(zap.Int64("alert_id", alert.ID))

	if !alert.IsActiveAt(now) {
		log.Info("Alert not active, skipping delivery")
		metrics.RecordDeliverRun("inactive")
		return 0, nil
	}

	users, err := e.audience.Resolve(ctx, alert)
	if err != nil {
		metrics.RecordDeliverRun("error")
		return 0, err
	}

	ch, err := e.channels.Get(alert.DeliveryType)
	if err != nil {
		metrics.RecordDeliverRun("error")
		return 0, fmt.Errorf("deliver alert %d: %w", alert.ID, err)
	}

	today := model.LocalDate(now, e.loc)
	skipped := 0
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			metrics.RecordDeliverRun("error")
			return delivered, err
		}

		sent, snoozed, err := e.deliverOne(ctx, ch, alert, user, today, now)
		if err != nil {
			log.Error("Failed to deliver to user", zap.Int64("user_id", user.ID), zap.Error(err))
			continue
		}
		if snoozed {
			skipped++
		}
		if sent {
			delivered++
		}
	}

	log.Info("Alert delivered",
		zap.Int("audience", len(users)),
		zap.Int("delivered", delivered),
		zap.Int("snoozed", skipped),
	)
	metrics.RecordDeliverRun("delivered")

	if e.events != nil {
		payload := mqcontracts.AlertDeliveredPayload{
			AlertID:     alert.ID,
			Channel:     string(alert.DeliveryType),
			Delivered:   delivered,
			DeliveredAt: now,
		}
		id := alert.ID
		if err := e.events.Record(ctx, "alert", &id, mqcontracts.RoutingKeyAlertDelivered, payload); err != nil {
			log.Error("Failed to record alert.delivered event", zap.Error(err))
		}
	}

	return delivered, nil
}

func (e *Engine) deliverOne(
	ctx context.Context,
	ch channel.Channel,
	alert *model.Alert,
	user model.User,
	today, now time.Time,
) (sent, snoozed bool, err error) {
	// 先在事务外 get-or-create：唯一约束冲突不会中止后面的事务
	pref, _, err := e.prefs.GetOrCreate(ctx, alert.ID, user.ID)
	if err != nil {
		return false, false, err
	}

	err = e.tx.WithTx(ctx, func(ctx context.Context) error {
		sent, snoozed = false, false

		locked, err := e.prefs.LockForUpdate(ctx, pref.ID)
		if err != nil {
			return err
		}
		if locked.IsSnoozedOn(today) {
			snoozed = true
			return nil
		}
		if !ch.Send(ctx, user, alert) {
			// 失败记录已由 channel 写入；last_reminded_at 保持不变
			return nil
		}
		if err := e.prefs.MarkReminded(ctx, locked.ID, now); err != nil {
			return err
		}
		sent = true
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return sent, snoozed, nil
}
