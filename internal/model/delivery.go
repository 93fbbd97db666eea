package model

import "time"

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryRecord 一次发送尝试的审计记录，只追加
type DeliveryRecord struct {
	ID              int64          `json:"id"`
	AlertID         int64          `json:"alert_id"`
	UserID          int64          `json:"user_id"`
	Channel         DeliveryType   `json:"channel"`
	Status          DeliveryStatus `json:"status"`
	MessageSnapshot string         `json:"message_snapshot"`
	Error           string         `json:"error,omitempty"`
	SentAt          time.Time      `json:"sent_at"`
}
