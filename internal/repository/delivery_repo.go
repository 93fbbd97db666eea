package repository

import (
	"context"
	"fmt"

	"alertreminder/internal/model"
	"alertreminder/pkg/db"
)

// DeliveryRepository notification_deliveries 只追加
type DeliveryRepository struct {
	db db.DBTX
}

func NewDeliveryRepository(conn db.DBTX) *DeliveryRepository {
	return &DeliveryRepository{db: conn}
}

// Insert 加入 context 中的事务（如果有）
func (r *DeliveryRepository) Insert(ctx context.Context, rec *model.DeliveryRecord) error {
	err := db.Conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO notification_deliveries (alert_id, user_id, channel, status, message_snapshot, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, sent_at
	`, rec.AlertID, rec.UserID, rec.Channel, rec.Status, rec.MessageSnapshot, rec.Error).Scan(&rec.ID, &rec.SentAt)
	if err != nil {
		return fmt.Errorf("insert delivery record: %w", err)
	}
	return nil
}

// ListByAlert 最新的在前
func (r *DeliveryRepository) ListByAlert(ctx context.Context, alertID int64, limit int) ([]model.DeliveryRecord, error) {
	rows, err := db.Conn(ctx, r.db).Query(ctx, `
		SELECT id, alert_id, user_id, channel, status, message_snapshot, error, sent_at
		FROM notification_deliveries
		WHERE alert_id = $1
		ORDER BY sent_at DESC, id DESC
		LIMIT $2
	`, alertID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []model.DeliveryRecord
	for rows.Next() {
		var d model.DeliveryRecord
		if err := rows.Scan(&d.ID, &d.AlertID, &d.UserID, &d.Channel, &d.Status, &d.MessageSnapshot, &d.Error, &d.SentAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
