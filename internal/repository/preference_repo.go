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

const preferenceColumns = `p.id, p.alert_id, p.user_id, p.is_read, p.snoozed_on, p.last_reminded_at,
	p.first_seen_at, p.updated_at`

const detailColumns = preferenceColumns + `, ` + alertColumns + `,
	u.id, u.username, u.email, u.phone, u.team_id, u.is_staff`

const detailFrom = `
	FROM alert_preferences p
	JOIN alerts a ON a.id = p.alert_id
	JOIN users u ON u.id = p.user_id`

// PreferenceRepository alert_preferences 是 deliver、提醒扫描和用户操作共同争用的表。
// 所有方法都通过 db.Conn 加入 context 中的事务。
type PreferenceRepository struct {
	db     db.DBTX
	logger *zap.Logger
}

func NewPreferenceRepository(conn db.DBTX, logger *zap.Logger) *PreferenceRepository {
	return &PreferenceRepository{db: conn, logger: logger}
}

// GetOrCreate 幂等；并发创建时由唯一约束兜底，冲突后重新读取
func (r *PreferenceRepository) GetOrCreate(ctx context.Context, alertID, userID int64) (*model.Preference, bool, error) {
	conn := db.Conn(ctx, r.db)

	row := conn.QueryRow(ctx, `
		INSERT INTO alert_preferences AS p (alert_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (alert_id, user_id) DO NOTHING
		RETURNING `+preferenceColumns, alertID, userID)
	pref, err := scanPreference(row)
	if err == nil {
		r.logger.Debug("Preference created",
			zap.Int64("alert_id", alertID),
			zap.Int64("user_id", userID),
		)
		return &pref, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) && !isUniqueViolation(err) {
		return nil, false, fmt.Errorf("create preference (alert=%d, user=%d): %w", alertID, userID, err)
	}

	// 已经有人创建
	existing, err := r.Get(ctx, alertID, userID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PreferenceRepository) Get(ctx context.Context, alertID, userID int64) (*model.Preference, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+preferenceColumns+`
		FROM alert_preferences p
		WHERE p.alert_id = $1 AND p.user_id = $2
	`, alertID, userID)
	return preferenceOrNotFound(scanPreference(row))
}

// LockForUpdate 必须在事务中调用
func (r *PreferenceRepository) LockForUpdate(ctx context.Context, id int64) (*model.Preference, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+preferenceColumns+`
		FROM alert_preferences p
		WHERE p.id = $1
		FOR UPDATE
	`, id)
	return preferenceOrNotFound(scanPreference(row))
}

// LockDetail 锁定一行并读取最新状态。行被其他事务锁住或已删除时返回 (nil, nil)。
func (r *PreferenceRepository) LockDetail(ctx context.Context, id int64) (*model.PreferenceDetail, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+detailColumns+detailFrom+`
		WHERE p.id = $1
		FOR UPDATE OF p SKIP LOCKED
	`, id)
	d, err := scanDetail(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock preference %d: %w", id, err)
	}
	return &d, nil
}

func (r *PreferenceRepository) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	_, err := db.Conn(ctx, r.db).Exec(ctx, `
		UPDATE alert_preferences SET last_reminded_at = $2, updated_at = NOW() WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark preference %d reminded: %w", id, err)
	}
	return nil
}

func (r *PreferenceRepository) SetRead(ctx context.Context, id int64, isRead bool) (*model.Preference, error) {
	return r.updateReturning(ctx, `SET is_read = $2, updated_at = NOW()`, id, isRead)
}

// ToggleRead 单条语句完成读改写
func (r *PreferenceRepository) ToggleRead(ctx context.Context, id int64) (*model.Preference, error) {
	return r.updateReturning(ctx, `SET is_read = NOT is_read, updated_at = NOW()`, id)
}

// SetSnooze day 为 nil 表示取消
func (r *PreferenceRepository) SetSnooze(ctx context.Context, id int64, day *time.Time) (*model.Preference, error) {
	return r.updateReturning(ctx, `SET snoozed_on = $2, updated_at = NOW()`, id, day)
}

func (r *PreferenceRepository) updateReturning(ctx context.Context, set string, id int64, args ...any) (*model.Preference, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `
		UPDATE alert_preferences AS p `+set+`
		WHERE p.id = $1
		RETURNING `+preferenceColumns, append([]any{id}, args...)...)
	return preferenceOrNotFound(scanPreference(row))
}

// ListCandidates 提醒扫描的粗过滤（未读、未归档、开启提醒），按 id 做 keyset 分页。
// 是否真正需要提醒由 reminder.ShouldRemind 决定。
func (r *PreferenceRepository) ListCandidates(ctx context.Context, afterID int64, limit int) ([]model.PreferenceDetail, error) {
	return r.queryDetails(ctx, `
		SELECT `+detailColumns+detailFrom+`
		WHERE p.id > $1
		  AND NOT p.is_read
		  AND NOT a.archived
		  AND a.reminders_enabled
		ORDER BY p.id
		LIMIT $2
	`, afterID, limit)
}

// ListForUser 用户的全部 preference（含 alert）
func (r *PreferenceRepository) ListForUser(ctx context.Context, userID int64) ([]model.PreferenceDetail, error) {
	return r.queryDetails(ctx, `
		SELECT `+detailColumns+detailFrom+`
		WHERE p.user_id = $1
		ORDER BY p.first_seen_at DESC, p.id DESC
	`, userID)
}

func (r *PreferenceRepository) queryDetails(ctx context.Context, query string, args ...any) ([]model.PreferenceDetail, error) {
	rows, err := db.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var out []model.PreferenceDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func preferenceDest(p *model.Preference) []any {
	return []any{&p.ID, &p.AlertID, &p.UserID, &p.IsRead, &p.SnoozedOn, &p.LastRemindedAt, &p.FirstSeenAt, &p.UpdatedAt}
}

func scanPreference(row rowScanner) (model.Preference, error) {
	var p model.Preference
	err := row.Scan(preferenceDest(&p)...)
	return p, err
}

func scanDetail(row rowScanner) (model.PreferenceDetail, error) {
	var d model.PreferenceDetail
	dest := preferenceDest(&d.Preference)
	dest = append(dest, alertDest(&d.Alert)...)
	dest = append(dest, &d.User.ID, &d.User.Username, &d.User.Email, &d.User.Phone, &d.User.TeamID, &d.User.IsStaff)
	err := row.Scan(dest...)
	return d, err
}

func preferenceOrNotFound(p model.Preference, err error) (*model.Preference, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query preference: %w", err)
	}
	return &p, nil
}
