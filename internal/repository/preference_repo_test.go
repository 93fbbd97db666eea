package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"alertreminder/pkg/db"
)

var prefCols = []string{"id", "alert_id", "user_id", "is_read", "snoozed_on", "last_reminded_at", "first_seen_at", "updated_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPreferenceGetOrCreate_Inserts(t *testing.T) {
	mock := newMock(t)
	repo := NewPreferenceRepository(mock, zap.NewNop())
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO alert_preferences AS p`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(mock.NewRows(prefCols).AddRow(int64(10), int64(1), int64(2), false, nil, nil, now, now))

	pref, created, err := repo.GetOrCreate(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(10), pref.ID)
	assert.Nil(t, pref.LastRemindedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceGetOrCreate_ConflictRefetches(t *testing.T) {
	mock := newMock(t)
	repo := NewPreferenceRepository(mock, zap.NewNop())
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	// ON CONFLICT DO NOTHING 不返回行
	mock.ExpectQuery(`INSERT INTO alert_preferences AS p`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(mock.NewRows(prefCols))
	mock.ExpectQuery(`FROM alert_preferences p\s+WHERE p.alert_id = \$1 AND p.user_id = \$2`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(mock.NewRows(prefCols).AddRow(int64(10), int64(1), int64(2), true, nil, &now, now, now))

	pref, created, err := repo.GetOrCreate(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, pref.IsRead)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceGetOrCreate_UniqueViolationRefetches(t *testing.T) {
	mock := newMock(t)
	repo := NewPreferenceRepository(mock, zap.NewNop())
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO alert_preferences AS p`).
		WithArgs(int64(1), int64(2)).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectQuery(`WHERE p.alert_id = \$1 AND p.user_id = \$2`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(mock.NewRows(prefCols).AddRow(int64(11), int64(1), int64(2), false, nil, nil, now, now))

	pref, created, err := repo.GetOrCreate(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(11), pref.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceLockForUpdate_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewPreferenceRepository(mock, zap.NewNop())

	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(99)).WillReturnRows(mock.NewRows(prefCols))

	_, err := repo.LockForUpdate(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPreferenceMarkReminded_JoinsContextTx(t *testing.T) {
	mock := newMock(t)
	repo := NewPreferenceRepository(mock, zap.NewNop())
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE alert_preferences SET last_reminded_at`).
		WithArgs(int64(5), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := db.WithTx(context.Background(), mock, func(ctx context.Context) error {
		assert.True(t, db.InTx(ctx))
		return repo.MarkReminded(ctx, 5, at)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceSetSnooze(t *testing.T) {
	mock := newMock(t)
	repo := NewPreferenceRepository(mock, zap.NewNop())
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE alert_preferences AS p SET snoozed_on = \$2`).
		WithArgs(int64(5), &day).
		WillReturnRows(mock.NewRows(prefCols).AddRow(int64(5), int64(1), int64(2), false, &day, nil, now, now))

	pref, err := repo.SetSnooze(context.Background(), 5, &day)
	require.NoError(t, err)
	require.NotNil(t, pref.SnoozedOn)
	assert.True(t, pref.IsSnoozedOn(day))
}

func TestPreferenceToggleRead_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewPreferenceRepository(mock, zap.NewNop())

	mock.ExpectQuery(`SET is_read = NOT is_read`).WithArgs(int64(5)).WillReturnRows(mock.NewRows(prefCols))

	_, err := repo.ToggleRead(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}
