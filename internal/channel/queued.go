package channel

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	mqcontracts "alertreminder/contracts/mq"
	"alertreminder/internal/model"
)

var (
	ErrNoEmailAddress = errors.New("user has no email address")
	ErrNoPhoneNumber  = errors.New("user has no phone number")
)

// Outbox 由 outbox.Repository 实现，写入 context 中的事务
type Outbox interface {
	Record(ctx context.Context, aggregateType string, aggregateID *int64, routingKey string, payload interface{}) error
}

// Queued 把消息写入 outbox，提交后由 Dispatcher 发布到 MQ，
// 下游发送服务负责 SMTP / 短信网关。
// 事务回滚时 outbox 行和投递记录一起消失，不会有消息先于提交发出。
type Queued struct {
	key        model.DeliveryType
	routingKey string
	address    func(model.User) (string, error)

	outbox   Outbox
	recorder DeliveryRecorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewEmail(outbox Outbox, recorder DeliveryRecorder, logger *zap.Logger) *Queued {
	return &Queued{
		key:        model.DeliveryEmail,
		routingKey: mqcontracts.RoutingKeyEmail,
		address: func(u model.User) (string, error) {
			if u.Email == "" {
				return "", ErrNoEmailAddress
			}
			return u.Email, nil
		},
		outbox:   outbox,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

func NewSMS(outbox Outbox, recorder DeliveryRecorder, logger *zap.Logger) *Queued {
	q := NewEmail(outbox, recorder, logger)
	q.key = model.DeliverySMS
	q.routingKey = mqcontracts.RoutingKeySMS
	q.address = func(u model.User) (string, error) {
		if u.Phone == "" {
			return "", ErrNoPhoneNumber
		}
		return u.Phone, nil
	}
	return q
}

func (c *Queued) Send(ctx context.Context, user model.User, alert *model.Alert) bool {
	return record(ctx, c.recorder, c.logger, c.key, user, alert, c.hand(ctx, user, alert))
}

func (c *Queued) hand(ctx context.Context, user model.User, alert *model.Alert) error {
	addr, err := c.address(user)
	if err != nil {
		return err
	}

	payload := mqcontracts.AlertNotificationPayload{
		AlertID:   alert.ID,
		UserID:    user.ID,
		Channel:   string(c.key),
		Address:   addr,
		Title:     alert.Title,
		Message:   alert.Message,
		Severity:  string(alert.Severity),
		CreatedAt: c.now(),
	}
	id := alert.ID
	return c.outbox.Record(ctx, "alert", &id, c.routingKey, payload)
}
