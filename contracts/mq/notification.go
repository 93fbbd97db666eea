package mq

import "time"

// 路由键
const (
	RoutingKeyEmail            = "notification.email"
	RoutingKeySMS              = "notification.sms"
	RoutingKeyDeliverRequested = "alert.deliver.requested"
	RoutingKeyAlertDelivered   = "alert.delivered"
	RoutingKeyRemindersTrigger = "reminders.trigger"
)

// AlertNotificationPayload 交给下游发送服务（SMTP / 短信网关）的消息
type AlertNotificationPayload struct {
	AlertID   int64     `json:"alert_id"`
	UserID    int64     `json:"user_id"`
	Channel   string    `json:"channel"` // email / sms
	Address   string    `json:"address"` // 邮箱或手机号
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}
