package mq

import "time"

// AlertDeliverRequestedPayload 异步投递请求（POST /api/alerts/:id/deliver?async=true）
type AlertDeliverRequestedPayload struct {
	AlertID   int64  `json:"alert_id"`
	RequestID string `json:"request_id"`
	TraceID   string `json:"trace_id,omitempty"`
}

// AlertDeliveredPayload 一次手动投递完成后的汇总事件，经 outbox 发布
type AlertDeliveredPayload struct {
	AlertID     int64     `json:"alert_id"`
	Channel     string    `json:"channel"`
	Delivered   int       `json:"delivered"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// ReminderTriggerPayload 外部调度器触发一次提醒扫描
type ReminderTriggerPayload struct {
	RequestID string `json:"request_id"`
	TraceID   string `json:"trace_id,omitempty"`
}
