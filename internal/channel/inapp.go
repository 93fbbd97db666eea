package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"alertreminder/internal/model"
)

// RealtimeTopic 在线看板订阅的 Redis pub/sub 频道
func RealtimeTopic(userID int64) string {
	return fmt.Sprintf("alerts:user:%d", userID)
}

type realtimeEvent struct {
	AlertID  int64          `json:"alert_id"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Severity model.Severity `json:"severity"`
}

// InApp 站内通知：投递记录本身就是消息，另外尽力推送一条实时事件
type InApp struct {
	recorder DeliveryRecorder
	rdb      *redis.Client
	logger   *zap.Logger
}

// NewInApp rdb 可以为 nil（不推送实时事件）
func NewInApp(recorder DeliveryRecorder, rdb *redis.Client, logger *zap.Logger) *InApp {
	return &InApp{recorder: recorder, rdb: rdb, logger: logger}
}

func (c *InApp) Send(ctx context.Context, user model.User, alert *model.Alert) bool {
	if !record(ctx, c.recorder, c.logger, model.DeliveryInApp, user, alert, nil) {
		return false
	}
	c.publish(ctx, user, alert)
	return true
}

func (c *InApp) publish(ctx context.Context, user model.User, alert *model.Alert) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(realtimeEvent{
		AlertID:  alert.ID,
		Title:    alert.Title,
		Message:  alert.Message,
		Severity: alert.Severity,
	})
	if err != nil {
		return
	}
	if err := c.rdb.Publish(ctx, RealtimeTopic(user.ID), data).Err(); err != nil {
		c.logger.Warn("Realtime publish failed",
			zap.Int64("user_id", user.ID),
			zap.Int64("alert_id", alert.ID),
			zap.Error(err),
		)
	}
}
