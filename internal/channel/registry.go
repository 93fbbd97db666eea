// Package channel 通知渠道：按 delivery_type 注册，deliver 和提醒扫描共用。
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"alertreminder/internal/model"
	"alertreminder/pkg/metrics"
)

// ErrUnknownChannel delivery_type 没有对应的渠道，属于配置 / 数据错误
var ErrUnknownChannel = errors.New("unknown delivery channel")

// Channel 给一个用户发送一条 alert。
// 成功时必须追加一条 status=sent 的 DeliveryRecord；
// 传输失败追加 status=failed 的记录并返回 false，不 panic。
type Channel interface {
	Send(ctx context.Context, user model.User, alert *model.Alert) bool
}

// DeliveryRecorder 由 repository.DeliveryRepository 实现
type DeliveryRecorder interface {
	Insert(ctx context.Context, rec *model.DeliveryRecord) error
}

type Registry struct {
	mu       sync.RWMutex
	channels map[model.DeliveryType]Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[model.DeliveryType]Channel)}
}

// Register 覆盖同名渠道
func (r *Registry) Register(key model.DeliveryType, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[key] = ch
}

func (r *Registry) Get(key model.DeliveryType) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, key)
	}
	return ch, nil
}

// Keys 已注册的渠道
func (r *Registry) Keys() []model.DeliveryType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]model.DeliveryType, 0, len(r.channels))
	for k := range r.channels {
		keys = append(keys, k)
	}
	return keys
}

// record 写入投递记录并计数。写入失败时视为发送失败。
func record(ctx context.Context, recorder DeliveryRecorder, logger *zap.Logger,
	key model.DeliveryType, user model.User, alert *model.Alert, sendErr error) bool {

	rec := &model.DeliveryRecord{
		AlertID:         alert.ID,
		UserID:          user.ID,
		Channel:         key,
		Status:          model.DeliverySent,
		MessageSnapshot: alert.Message,
	}
	if sendErr != nil {
		rec.Status = model.DeliveryFailed
		rec.Error = sendErr.Error()
	}

	if err := recorder.Insert(ctx, rec); err != nil {
		logger.Error("Failed to record delivery",
			zap.Int64("alert_id", alert.ID),
			zap.Int64("user_id", user.ID),
			zap.String("channel", string(key)),
			zap.Error(err),
		)
		metrics.RecordDelivery(string(key), string(model.DeliveryFailed))
		return false
	}

	metrics.RecordDelivery(string(key), string(rec.Status))
	if sendErr != nil {
		logger.Warn("Delivery failed",
			zap.Int64("alert_id", alert.ID),
			zap.Int64("user_id", user.ID),
			zap.String("channel", string(key)),
			zap.Error(sendErr),
		)
		return false
	}
	return true
}
