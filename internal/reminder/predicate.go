package reminder

import (
	"time"

	"alertreminder/internal/model"
)

// ShouldRemind 纯函数：该 preference 此刻是否需要提醒。
// loc 决定 "今天" 是哪一天。
func ShouldRemind(alert *model.Alert, pref *model.Preference, now time.Time, loc *time.Location) bool {
	if alert.Archived || !alert.RemindersEnabled {
		return false
	}
	if !alert.IsActiveAt(now) {
		return false
	}
	if pref.IsRead {
		return false
	}
	if pref.IsSnoozedOn(model.LocalDate(now, loc)) {
		return false
	}
	if pref.LastRemindedAt == nil {
		return true
	}
	return now.Sub(*pref.LastRemindedAt) >= alert.ReminderInterval()
}
