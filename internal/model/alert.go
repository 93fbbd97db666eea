package model

import "time"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// DeliveryType 同时也是 channel.Registry 的 key，可扩展
type DeliveryType string

const (
	DeliveryInApp DeliveryType = "in_app"
	DeliveryEmail DeliveryType = "email"
	DeliverySMS   DeliveryType = "sms"
)

type Visibility string

const (
	VisibilityOrg  Visibility = "org"
	VisibilityTeam Visibility = "team"
	VisibilityUser Visibility = "user"
)

// DefaultReminderFrequencyMinutes 新建 alert 未指定提醒间隔时使用
const DefaultReminderFrequencyMinutes = 120

type Alert struct {
	ID           int64        `json:"id"`
	Title        string       `json:"title"`
	Message      string       `json:"message"`
	Severity     Severity     `json:"severity"`
	DeliveryType DeliveryType `json:"delivery_type"`
	Visibility   Visibility   `json:"visibility"`
	// 仅 visibility=team 时有意义
	TargetTeams []int64 `json:"target_team_ids"`
	// 仅 visibility=user 时有意义
	TargetUsers []int64 `json:"target_user_ids"`

	StartAt   time.Time  `json:"start_at"`
	ExpiresAt *time.Time `json:"expires_at"`

	ReminderFrequencyMinutes int  `json:"reminder_frequency_minutes"`
	RemindersEnabled         bool `json:"reminders_enabled"`
	Archived                 bool `json:"archived"`

	// 创建者被删除后为 nil
	CreatedBy *int64    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActiveAt start_at 含，expires_at 不含
func (a *Alert) IsActiveAt(now time.Time) bool {
	if a.Archived {
		return false
	}
	if now.Before(a.StartAt) {
		return false
	}
	if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
		return false
	}
	return true
}

// ReminderInterval 提醒间隔
func (a *Alert) ReminderInterval() time.Duration {
	return time.Duration(a.ReminderFrequencyMinutes) * time.Minute
}

// AlertStats 管理端列表的聚合字段，由 Preference 查询得出
type AlertStats struct {
	NumPreferences  int `json:"num_preferences"`
	NumRead         int `json:"num_read"`
	NumUnread       int `json:"num_unread"`
	NumSnoozedToday int `json:"num_snoozed_today"`
}

// AlertWithStats 管理端列表行
type AlertWithStats struct {
	Alert
	AlertStats
	IsActiveNow       bool `json:"is_active_now"`
	IsRecurringActive bool `json:"is_recurring_active"`
}

// NewAlertWithStats 计算 is_active_now / is_recurring_active
func NewAlertWithStats(a Alert, stats AlertStats, now time.Time) AlertWithStats {
	active := a.IsActiveAt(now)
	notSnoozed := stats.NumPreferences - stats.NumSnoozedToday
	if notSnoozed < 0 {
		notSnoozed = 0
	}
	return AlertWithStats{
		Alert:             a,
		AlertStats:        stats,
		IsActiveNow:       active,
		IsRecurringActive: a.RemindersEnabled && active && (stats.NumUnread > 0 || notSnoozed > 0),
	}
}
