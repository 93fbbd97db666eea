package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"alertreminder/internal/audience"
	"alertreminder/internal/model"
)

type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

type VisibleAlertStore interface {
	Get(ctx context.Context, id int64) (*model.Alert, error)
	ListVisibleActive(ctx context.Context, user *model.User, now time.Time) ([]model.Alert, error)
}

type PreferenceStore interface {
	GetOrCreate(ctx context.Context, alertID, userID int64) (*model.Preference, bool, error)
	SetRead(ctx context.Context, id int64, isRead bool) (*model.Preference, error)
	ToggleRead(ctx context.Context, id int64) (*model.Preference, error)
	SetSnooze(ctx context.Context, id int64, day *time.Time) (*model.Preference, error)
	ListForUser(ctx context.Context, userID int64) ([]model.PreferenceDetail, error)
}

// PreferenceService 用户自己的已读 / 暂停操作
type PreferenceService struct {
	users  UserLookup
	alerts VisibleAlertStore
	prefs  PreferenceStore
	loc    *time.Location
	logger *zap.Logger
}

func NewPreferenceService(users UserLookup, alerts VisibleAlertStore, prefs PreferenceStore, loc *time.Location, logger *zap.Logger) *PreferenceService {
	return &PreferenceService{users: users, alerts: alerts, prefs: prefs, loc: loc, logger: logger}
}

// ListPreferences 会为当前可见、有效、未归档的 alert 补建缺失的 preference，
// 然后只返回这些 alert 对应的记录。
func (s *PreferenceService) ListPreferences(ctx context.Context, userID int64, now time.Time) ([]model.PreferenceDetail, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	visible, err := s.alerts.ListVisibleActive(ctx, user, now)
	if err != nil {
		return nil, err
	}

	ids := make(map[int64]bool, len(visible))
	created := 0
	for _, a := range visible {
		ids[a.ID] = true
		_, isNew, err := s.prefs.GetOrCreate(ctx, a.ID, user.ID)
		if err != nil {
			return nil, err
		}
		if isNew {
			created++
		}
	}
	if created > 0 {
		s.logger.Debug("Preferences created on list", zap.Int64("user_id", userID), zap.Int("created", created))
	}

	all, err := s.prefs.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	out := make([]model.PreferenceDetail, 0, len(visible))
	for _, d := range all {
		if ids[d.AlertID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *PreferenceService) SetRead(ctx context.Context, alertID, userID int64, isRead bool) (*model.Preference, error) {
	pref, err := s.preference(ctx, alertID, userID)
	if err != nil {
		return nil, err
	}
	return s.prefs.SetRead(ctx, pref.ID, isRead)
}

func (s *PreferenceService) ToggleRead(ctx context.Context, alertID, userID int64) (*model.Preference, error) {
	pref, err := s.preference(ctx, alertID, userID)
	if err != nil {
		return nil, err
	}
	return s.prefs.ToggleRead(ctx, pref.ID)
}

// SetSnooze forToday=true 暂停今天（本地日历日）的提醒，false 取消
func (s *PreferenceService) SetSnooze(ctx context.Context, alertID, userID int64, forToday bool, now time.Time) (*model.Preference, error) {
	pref, err := s.preference(ctx, alertID, userID)
	if err != nil {
		return nil, err
	}
	var day *time.Time
	if forToday {
		d := model.LocalDate(now, s.loc)
		day = &d
	}
	return s.prefs.SetSnooze(ctx, pref.ID, day)
}

// preference 校验可见性后 get-or-create
func (s *PreferenceService) preference(ctx context.Context, alertID, userID int64) (*model.Preference, error) {
	alert, err := s.alerts.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !audience.CanSee(alert, user) {
		return nil, ErrNotVisible
	}
	pref, _, err := s.prefs.GetOrCreate(ctx, alert.ID, user.ID)
	return pref, err
}
