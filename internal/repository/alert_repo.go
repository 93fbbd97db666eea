package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"alertreminder/internal/model"
	"alertreminder/pkg/db"
)

// 表别名固定为 a；目标团队 / 用户通过子查询聚合成数组
const alertColumns = `a.id, a.title, a.message, a.severity, a.delivery_type, a.visibility,
	COALESCE((SELECT array_agg(tt.team_id ORDER BY tt.team_id) FROM alert_target_teams tt WHERE tt.alert_id = a.id), '{}'::bigint[]),
	COALESCE((SELECT array_agg(tu.user_id ORDER BY tu.user_id) FROM alert_target_users tu WHERE tu.alert_id = a.id), '{}'::bigint[]),
	a.start_at, a.expires_at, a.reminder_frequency_minutes, a.reminders_enabled, a.archived,
	a.created_by, a.created_at, a.updated_at`

type AlertRepository struct {
	db     db.Beginner
	logger *zap.Logger
}

func NewAlertRepository(pool db.Beginner, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{db: pool, logger: logger}
}

func (r *AlertRepository) Create(ctx context.Context, a *model.Alert) error {
	return db.WithTx(ctx, r.db, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.db)
		err := conn.QueryRow(ctx, `
			INSERT INTO alerts (title, message, severity, delivery_type, visibility, start_at, expires_at,
			                    reminder_frequency_minutes, reminders_enabled, archived, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at, updated_at
		`, a.Title, a.Message, a.Severity, a.DeliveryType, a.Visibility, a.StartAt, a.ExpiresAt,
			a.ReminderFrequencyMinutes, a.RemindersEnabled, a.Archived, a.CreatedBy,
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
		if err := r.replaceTargets(ctx, conn, a); err != nil {
			return err
		}
		r.logger.Info("Alert created",
			zap.Int64("alert_id", a.ID),
			zap.String("visibility", string(a.Visibility)),
			zap.String("delivery_type", string(a.DeliveryType)),
		)
		return nil
	})
}

func (r *AlertRepository) Update(ctx context.Context, a *model.Alert) error {
	return db.WithTx(ctx, r.db, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.db)
		err := conn.QueryRow(ctx, `
			UPDATE alerts
			SET title = $2, message = $3, severity = $4, delivery_type = $5, visibility = $6,
			    start_at = $7, expires_at = $8, reminder_frequency_minutes = $9,
			    reminders_enabled = $10, archived = $11, updated_at = NOW()
			WHERE id = $1
			RETURNING created_at, updated_at
		`, a.ID, a.Title, a.Message, a.Severity, a.DeliveryType, a.Visibility, a.StartAt, a.ExpiresAt,
			a.ReminderFrequencyMinutes, a.RemindersEnabled, a.Archived,
		).Scan(&a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("update alert %d: %w", a.ID, err)
		}
		return r.replaceTargets(ctx, conn, a)
	})
}

func (r *AlertRepository) replaceTargets(ctx context.Context, conn db.DBTX, a *model.Alert) error {
	if _, err := conn.Exec(ctx, `DELETE FROM alert_target_teams WHERE alert_id = $1`, a.ID); err != nil {
		return fmt.Errorf("clear target teams: %w", err)
	}
	if _, err := conn.Exec(ctx, `DELETE FROM alert_target_users WHERE alert_id = $1`, a.ID); err != nil {
		return fmt.Errorf("clear target users: %w", err)
	}
	if len(a.TargetTeams) > 0 {
		if _, err := conn.Exec(ctx, `
			INSERT INTO alert_target_teams (alert_id, team_id)
			SELECT $1, unnest($2::bigint[])
			ON CONFLICT DO NOTHING
		`, a.ID, a.TargetTeams); err != nil {
			return fmt.Errorf("insert target teams: %w", err)
		}
	}
	if len(a.TargetUsers) > 0 {
		if _, err := conn.Exec(ctx, `
			INSERT INTO alert_target_users (alert_id, user_id)
			SELECT $1, unnest($2::bigint[])
			ON CONFLICT DO NOTHING
		`, a.ID, a.TargetUsers); err != nil {
			return fmt.Errorf("insert target users: %w", err)
		}
	}
	return nil
}

// Archive 软删除
func (r *AlertRepository) Archive(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.db).Exec(ctx,
		`UPDATE alerts SET archived = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("archive alert %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AlertRepository) Get(ctx context.Context, id int64) (*model.Alert, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts a WHERE a.id = $1`, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get alert %d: %w", id, err)
	}
	return &a, nil
}

// List 按创建时间倒序
func (r *AlertRepository) List(ctx context.Context) ([]model.Alert, error) {
	return r.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts a ORDER BY a.created_at DESC, a.id DESC`)
}

// ListVisibleActive 当前对用户可见且处于有效期内的 alert
func (r *AlertRepository) ListVisibleActive(ctx context.Context, user *model.User, now time.Time) ([]model.Alert, error) {
	return r.queryAlerts(ctx, `
		SELECT `+alertColumns+`
		FROM alerts a
		WHERE NOT a.archived
		  AND a.start_at <= $1
		  AND (a.expires_at IS NULL OR a.expires_at > $1)
		  AND (
		        a.visibility = 'org'
		     OR (a.visibility = 'team' AND EXISTS (
		            SELECT 1 FROM alert_target_teams x WHERE x.alert_id = a.id AND x.team_id = $2))
		     OR (a.visibility = 'user' AND EXISTS (
		            SELECT 1 FROM alert_target_users y WHERE y.alert_id = a.id AND y.user_id = $3))
		  )
		ORDER BY a.id
	`, now, user.TeamID, user.ID)
}

// Stats 管理端列表的聚合字段
func (r *AlertRepository) Stats(ctx context.Context, alertIDs []int64, today time.Time) (map[int64]model.AlertStats, error) {
	out := make(map[int64]model.AlertStats, len(alertIDs))
	if len(alertIDs) == 0 {
		return out, nil
	}

	rows, err := db.Conn(ctx, r.db).Query(ctx, `
		SELECT alert_id,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE is_read),
		       COUNT(*) FILTER (WHERE NOT is_read),
		       COUNT(*) FILTER (WHERE snoozed_on = $2)
		FROM alert_preferences
		WHERE alert_id = ANY($1)
		GROUP BY alert_id
	`, alertIDs, today)
	if err != nil {
		return nil, fmt.Errorf("query alert stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			s  model.AlertStats
		)
		if err := rows.Scan(&id, &s.NumPreferences, &s.NumRead, &s.NumUnread, &s.NumSnoozedToday); err != nil {
			return nil, fmt.Errorf("scan alert stats: %w", err)
		}
		out[id] = s
	}
	return out, rows.Err()
}

func (r *AlertRepository) Analytics(ctx context.Context, today time.Time) (*model.Analytics, error) {
	conn := db.Conn(ctx, r.db)

	var a model.Analytics
	err := conn.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM alerts),
		       (SELECT COUNT(*) FROM notification_deliveries),
		       (SELECT COUNT(*) FROM alert_preferences WHERE is_read),
		       (SELECT COUNT(*) FROM alert_preferences WHERE snoozed_on = $1)
	`, today).Scan(&a.TotalAlerts, &a.Deliveries, &a.Read, &a.SnoozedToday)
	if err != nil {
		return nil, fmt.Errorf("query analytics: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT severity, COUNT(*) FROM alerts GROUP BY severity ORDER BY severity`)
	if err != nil {
		return nil, fmt.Errorf("query severity breakdown: %w", err)
	}
	defer rows.Close()

	a.SeverityBreakdown = []model.SeverityCount{}
	for rows.Next() {
		var sc model.SeverityCount
		if err := rows.Scan(&sc.Severity, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan severity breakdown: %w", err)
		}
		a.SeverityBreakdown = append(a.SeverityBreakdown, sc)
	}
	return &a, rows.Err()
}

func (r *AlertRepository) queryAlerts(ctx context.Context, query string, args ...any) ([]model.Alert, error) {
	rows, err := db.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func scanAlert(row rowScanner) (model.Alert, error) {
	var a model.Alert
	err := row.Scan(alertDest(&a)...)
	return a, err
}

// alertDest 与 alertColumns 顺序一致
func alertDest(a *model.Alert) []any {
	return []any{
		&a.ID, &a.Title, &a.Message, &a.Severity, &a.DeliveryType, &a.Visibility,
		&a.TargetTeams, &a.TargetUsers,
		&a.StartAt, &a.ExpiresAt, &a.ReminderFrequencyMinutes, &a.RemindersEnabled, &a.Archived,
		&a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
	}
}
