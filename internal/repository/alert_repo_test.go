package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"alertreminder/internal/model"
)

func TestAlertCreate_WritesTargetsInOneTx(t *testing.T) {
	mock := newMock(t)
	repo := NewAlertRepository(mock, zap.NewNop())
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	a := &model.Alert{
		Title:                    "db failover",
		Message:                  "primary is down",
		Severity:                 model.SeverityCritical,
		DeliveryType:             model.DeliveryInApp,
		Visibility:               model.VisibilityTeam,
		TargetTeams:              []int64{3},
		StartAt:                  now,
		ReminderFrequencyMinutes: 60,
		RemindersEnabled:         true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO alerts`).
		WithArgs(a.Title, a.Message, a.Severity, a.DeliveryType, a.Visibility, a.StartAt, a.ExpiresAt,
			a.ReminderFrequencyMinutes, a.RemindersEnabled, a.Archived, a.CreatedBy).
		WillReturnRows(mock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), now, now))
	mock.ExpectExec(`DELETE FROM alert_target_teams`).WithArgs(int64(7)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM alert_target_users`).WithArgs(int64(7)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO alert_target_teams`).WithArgs(int64(7), []int64{3}).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), a))
	assert.Equal(t, int64(7), a.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertCreate_RollsBackOnTargetError(t *testing.T) {
	mock := newMock(t)
	repo := NewAlertRepository(mock, zap.NewNop())
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	a := &model.Alert{Visibility: model.VisibilityUser, TargetUsers: []int64{1}, StartAt: now}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO alerts`).
		WillReturnRows(mock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(8), now, now))
	mock.ExpectExec(`DELETE FROM alert_target_teams`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM alert_target_users`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO alert_target_users`).WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), a)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertArchive_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewAlertRepository(mock, zap.NewNop())

	mock.ExpectExec(`UPDATE alerts SET archived = TRUE`).WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.ErrorIs(t, repo.Archive(context.Background(), 42), ErrNotFound)
}

func TestAlertStats_EmptyInputSkipsQuery(t *testing.T) {
	mock := newMock(t)
	repo := NewAlertRepository(mock, zap.NewNop())

	stats, err := repo.Stats(context.Background(), nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertStats(t *testing.T) {
	mock := newMock(t)
	repo := NewAlertRepository(mock, zap.NewNop())
	today := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM alert_preferences`).
		WithArgs([]int64{1, 2}, today).
		WillReturnRows(mock.NewRows([]string{"alert_id", "total", "read", "unread", "snoozed"}).
			AddRow(int64(1), 3, 1, 2, 1))

	stats, err := repo.Stats(context.Background(), []int64{1, 2}, today)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStats{NumPreferences: 3, NumRead: 1, NumUnread: 2, NumSnoozedToday: 1}, stats[1])
	_, ok := stats[2]
	assert.False(t, ok)
}

func TestAlertAnalytics(t *testing.T) {
	mock := newMock(t)
	repo := NewAlertRepository(mock, zap.NewNop())
	today := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT \(SELECT COUNT\(\*\) FROM alerts\)`).
		WithArgs(today).
		WillReturnRows(mock.NewRows([]string{"alerts", "deliveries", "read", "snoozed"}).AddRow(3, 7, 2, 1))
	mock.ExpectQuery(`GROUP BY severity`).
		WillReturnRows(mock.NewRows([]string{"severity", "count"}).
			AddRow(model.SeverityCritical, 1).
			AddRow(model.SeverityInfo, 2))

	a, err := repo.Analytics(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 3, a.TotalAlerts)
	assert.Equal(t, 7, a.Deliveries)
	assert.Equal(t, 2, a.Read)
	assert.Equal(t, 1, a.SnoozedToday)
	assert.Equal(t, []model.SeverityCount{
		{Severity: model.SeverityCritical, Count: 1},
		{Severity: model.SeverityInfo, Count: 2},
	}, a.SeverityBreakdown)
	require.NoError(t, mock.ExpectationsWereMet())
}
