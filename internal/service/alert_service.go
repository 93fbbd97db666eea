package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"alertreminder/internal/model"
)

type AlertStore interface {
	Create(ctx context.Context, a *model.Alert) error
	Update(ctx context.Context, a *model.Alert) error
	Archive(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*model.Alert, error)
	List(ctx context.Context) ([]model.Alert, error)
	Stats(ctx context.Context, alertIDs []int64, today time.Time) (map[int64]model.AlertStats, error)
	Analytics(ctx context.Context, today time.Time) (*model.Analytics, error)
}

// Deliverer 由 delivery.Engine 实现
type Deliverer interface {
	Deliver(ctx context.Context, alert *model.Alert, now time.Time) (int, error)
}

// AlertInput 创建 / 更新 alert 的请求体。指针字段为空时使用默认值（更新时保留原值）。
type AlertInput struct {
	Title                    string             `json:"title" validate:"required,max=200"`
	Message                  string             `json:"message" validate:"required"`
	Severity                 model.Severity     `json:"severity" validate:"omitempty,oneof=info warning critical"`
	DeliveryType             model.DeliveryType `json:"delivery_type" validate:"omitempty,oneof=in_app email sms"`
	Visibility               model.Visibility   `json:"visibility" validate:"omitempty,oneof=org team user"`
	TargetTeamIDs            []int64            `json:"target_team_ids" validate:"omitempty,dive,gt=0"`
	TargetUserIDs            []int64            `json:"target_user_ids" validate:"omitempty,dive,gt=0"`
	StartAt                  *time.Time         `json:"start_at"`
	ExpiresAt                *time.Time         `json:"expires_at"`
	ReminderFrequencyMinutes *int               `json:"reminder_frequency_minutes" validate:"omitempty,gt=0"`
	RemindersEnabled         *bool              `json:"reminders_enabled"`
	Archived                 *bool              `json:"archived"`
}

// AlertFilter 列表筛选，字段为空表示不过滤。status 为 active / expired / all。
type AlertFilter struct {
	Status           string           `form:"status" json:"status" validate:"omitempty,oneof=active expired all"`
	Severity         model.Severity   `form:"severity" json:"severity" validate:"omitempty,oneof=info warning critical"`
	Visibility       model.Visibility `form:"visibility" json:"visibility" validate:"omitempty,oneof=org team user"`
	Archived         *bool            `form:"archived" json:"archived"`
	RemindersEnabled *bool            `form:"reminders_enabled" json:"reminders_enabled"`
}

func (f *AlertFilter) match(a *model.Alert, now time.Time) bool {
	active := a.IsActiveAt(now)
	switch {
	case f.Status == StatusActive && !active, f.Status == StatusExpired && active:
		return false
	case f.Severity != "" && a.Severity != f.Severity:
		return false
	case f.Visibility != "" && a.Visibility != f.Visibility:
		return false
	case f.Archived != nil && a.Archived != *f.Archived:
		return false
	case f.RemindersEnabled != nil && a.RemindersEnabled != *f.RemindersEnabled:
		return false
	}
	return true
}

const (
	StatusAll     = "all"
	StatusActive  = "active"
	StatusExpired = "expired"
)

type AlertService struct {
	store     AlertStore
	deliverer Deliverer
	validate  *validator.Validate
	loc       *time.Location
	logger    *zap.Logger
}

func NewAlertService(store AlertStore, deliverer Deliverer, loc *time.Location, logger *zap.Logger) *AlertService {
	return &AlertService{
		store:     store,
		deliverer: deliverer,
		validate:  newValidator(),
		loc:       loc,
		logger:    logger,
	}
}

// Create 新建 alert；deliverNow 时立即投递并返回投递数
func (s *AlertService) Create(ctx context.Context, in AlertInput, createdBy *int64, deliverNow bool, now time.Time) (*model.Alert, int, error) {
	a := &model.Alert{
		Severity:                 model.SeverityInfo,
		DeliveryType:             model.DeliveryInApp,
		Visibility:               model.VisibilityOrg,
		StartAt:                  now,
		ReminderFrequencyMinutes: model.DefaultReminderFrequencyMinutes,
		RemindersEnabled:         true,
		CreatedBy:                createdBy,
	}
	if err := s.apply(a, in); err != nil {
		return nil, 0, err
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, 0, err
	}

	if !deliverNow {
		return a, 0, nil
	}
	n, err := s.deliverer.Deliver(ctx, a, now)
	if err != nil {
		return a, 0, err
	}
	return a, n, nil
}

// Update 整体替换可编辑字段
func (s *AlertService) Update(ctx context.Context, id int64, in AlertInput) (*model.Alert, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(a, in); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("Alert updated", zap.Int64("alert_id", id))
	return a, nil
}

func (s *AlertService) apply(a *model.Alert, in AlertInput) error {
	if err := s.validate.Struct(in); err != nil {
		return toValidationError(err)
	}

	a.Title = in.Title
	a.Message = in.Message
	if in.Severity != "" {
		a.Severity = in.Severity
	}
	if in.DeliveryType != "" {
		a.DeliveryType = in.DeliveryType
	}
	if in.Visibility != "" {
		a.Visibility = in.Visibility
	}
	if in.StartAt != nil {
		a.StartAt = *in.StartAt
	}
	a.ExpiresAt = in.ExpiresAt
	if in.ReminderFrequencyMinutes != nil {
		a.ReminderFrequencyMinutes = *in.ReminderFrequencyMinutes
	}
	if in.RemindersEnabled != nil {
		a.RemindersEnabled = *in.RemindersEnabled
	}
	if in.Archived != nil {
		a.Archived = *in.Archived
	}

	if a.ExpiresAt != nil && !a.ExpiresAt.After(a.StartAt) {
		return fieldError("expires_at", "gtfield=start_at")
	}

	// 目标只在对应的可见范围下保存
	a.TargetTeams, a.TargetUsers = nil, nil
	switch a.Visibility {
	case model.VisibilityTeam:
		if len(in.TargetTeamIDs) == 0 {
			return fieldError("target_team_ids", "required_if=visibility team")
		}
		a.TargetTeams = in.TargetTeamIDs
	case model.VisibilityUser:
		if len(in.TargetUserIDs) == 0 {
			return fieldError("target_user_ids", "required_if=visibility user")
		}
		a.TargetUsers = in.TargetUserIDs
	}
	return nil
}

func (s *AlertService) Get(ctx context.Context, id int64) (*model.Alert, error) {
	return s.store.Get(ctx, id)
}

func (s *AlertService) Archive(ctx context.Context, id int64) error {
	if err := s.store.Archive(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Alert archived", zap.Int64("alert_id", id))
	return nil
}

// List 按 filter 过滤。withStats 时附带管理端聚合字段。
func (s *AlertService) List(ctx context.Context, filter AlertFilter, withStats bool, now time.Time) ([]model.AlertWithStats, error) {
	if err := s.validate.Struct(filter); err != nil {
		return nil, toValidationError(err)
	}

	alerts, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]model.Alert, 0, len(alerts))
	for i := range alerts {
		if filter.match(&alerts[i], now) {
			filtered = append(filtered, alerts[i])
		}
	}

	var stats map[int64]model.AlertStats
	if withStats {
		ids := make([]int64, 0, len(filtered))
		for _, a := range filtered {
			ids = append(ids, a.ID)
		}
		stats, err = s.store.Stats(ctx, ids, model.LocalDate(now, s.loc))
		if err != nil {
			return nil, err
		}
	}

	out := make([]model.AlertWithStats, 0, len(filtered))
	for _, a := range filtered {
		out = append(out, model.NewAlertWithStats(a, stats[a.ID], now))
	}
	return out, nil
}

// Analytics 全局统计
func (s *AlertService) Analytics(ctx context.Context, now time.Time) (*model.Analytics, error) {
	return s.store.Analytics(ctx, model.LocalDate(now, s.loc))
}
