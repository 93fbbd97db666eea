package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertreminder/internal/model"
)

func TestDeliveryInsert(t *testing.T) {
	mock := newMock(t)
	repo := NewDeliveryRepository(mock)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	rec := &model.DeliveryRecord{
		AlertID:         1,
		UserID:          2,
		Channel:         model.DeliveryEmail,
		Status:          model.DeliveryFailed,
		MessageSnapshot: "disk full",
		Error:           "user has no email address",
	}
	mock.ExpectQuery(`INSERT INTO notification_deliveries`).
		WithArgs(rec.AlertID, rec.UserID, rec.Channel, rec.Status, rec.MessageSnapshot, rec.Error).
		WillReturnRows(mock.NewRows([]string{"id", "sent_at"}).AddRow(int64(3), now))

	require.NoError(t, repo.Insert(context.Background(), rec))
	assert.Equal(t, int64(3), rec.ID)
	assert.Equal(t, now, rec.SentAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryListByAlert(t *testing.T) {
	mock := newMock(t)
	repo := NewDeliveryRepository(mock)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM notification_deliveries`).
		WithArgs(int64(1), 50).
		WillReturnRows(mock.NewRows([]string{"id", "alert_id", "user_id", "channel", "status", "message_snapshot", "error", "sent_at"}).
			AddRow(int64(4), int64(1), int64(2), model.DeliveryInApp, model.DeliverySent, "disk full", "", now).
			AddRow(int64(3), int64(1), int64(3), model.DeliveryInApp, model.DeliverySent, "disk full", "", now.Add(-time.Hour)))

	got, err := repo.ListByAlert(context.Background(), 1, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].ID)
	assert.Equal(t, int64(3), got[1].UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}
