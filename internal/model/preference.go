package model

import "time"

// Preference 用户与某条 alert 的关系：已读、今日暂停、上次提醒时间。
// (alert_id, user_id) 唯一。
type Preference struct {
	ID             int64      `json:"id"`
	AlertID        int64      `json:"alert_id"`
	UserID         int64      `json:"user_id"`
	IsRead         bool       `json:"is_read"`
	SnoozedOn      *time.Time `json:"snoozed_on"` // 只用日期部分
	LastRemindedAt *time.Time `json:"last_reminded_at"`
	FirstSeenAt    time.Time  `json:"first_seen_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsSnoozedOn today 必须是 LocalDate 的结果
func (p *Preference) IsSnoozedOn(today time.Time) bool {
	if p.SnoozedOn == nil {
		return false
	}
	y1, m1, d1 := p.SnoozedOn.Date()
	y2, m2, d2 := today.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// LocalDate 返回 t 在 loc 中的日历日（UTC 零点表示，与 DATE 列一致）
func LocalDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PreferenceDetail 是 preference 连同 alert 和用户的快照，提醒扫描使用
type PreferenceDetail struct {
	Preference
	Alert Alert `json:"alert"`
	User  User  `json:"-"`
}
