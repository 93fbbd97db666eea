package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"alertreminder/internal/model"
)

type PreferenceService interface {
	ListPreferences(ctx context.Context, userID int64, now time.Time) ([]model.PreferenceDetail, error)
	SetRead(ctx context.Context, alertID, userID int64, isRead bool) (*model.Preference, error)
	ToggleRead(ctx context.Context, alertID, userID int64) (*model.Preference, error)
	SetSnooze(ctx context.Context, alertID, userID int64, forToday bool, now time.Time) (*model.Preference, error)
}

type PreferenceHandler struct {
	prefs  PreferenceService
	logger *zap.Logger
	now    func() time.Time
}

func NewPreferenceHandler(prefs PreferenceService, logger *zap.Logger) *PreferenceHandler {
	return &PreferenceHandler{prefs: prefs, logger: logger, now: time.Now}
}

type markReadRequest struct {
	IsRead *bool `json:"is_read" binding:"required"`
}

type snoozeRequest struct {
	SnoozeForToday *bool `json:"snooze_for_today"`
}

// List GET /api/my-alerts
// 会为可见的 alert 补建 preference
func (h *PreferenceHandler) List(c *gin.Context) {
	userID, _ := getUserID(c)
	list, err := h.prefs.ListPreferences(c.Request.Context(), userID, h.now())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// MarkRead POST /api/my-alerts/:alert_id/read {"is_read": true}
func (h *PreferenceHandler) MarkRead(c *gin.Context) {
	alertID, ok := parseID(c, "alert_id")
	if !ok {
		return
	}
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_read is required"})
		return
	}

	userID, _ := getUserID(c)
	pref, err := h.prefs.SetRead(c.Request.Context(), alertID, userID, *req.IsRead)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_read": pref.IsRead})
}

// ToggleRead POST /api/my-alerts/:alert_id/toggle-read
func (h *PreferenceHandler) ToggleRead(c *gin.Context) {
	alertID, ok := parseID(c, "alert_id")
	if !ok {
		return
	}
	userID, _ := getUserID(c)
	pref, err := h.prefs.ToggleRead(c.Request.Context(), alertID, userID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_read": pref.IsRead})
}

// Snooze POST /api/my-alerts/:alert_id/snooze {"snooze_for_today": true}
// 缺省为 true，false 表示取消
func (h *PreferenceHandler) Snooze(c *gin.Context) {
	alertID, ok := parseID(c, "alert_id")
	if !ok {
		return
	}
	var req snoozeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	forToday := req.SnoozeForToday == nil || *req.SnoozeForToday

	userID, _ := getUserID(c)
	pref, err := h.prefs.SetSnooze(c.Request.Context(), alertID, userID, forToday, h.now())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	var snoozedOn *string
	if pref.SnoozedOn != nil {
		s := pref.SnoozedOn.Format(time.DateOnly)
		snoozedOn = &s
	}
	c.JSON(http.StatusOK, gin.H{"snoozed_on": snoozedOn})
}
