package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ReminderTrigger interface {
	TriggerReminders(ctx context.Context, now time.Time) (int, error)
}

// Replayer 由 outbox.ReplayService 实现
type Replayer interface {
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

type AdminHandler struct {
	reminders ReminderTrigger
	replayer  Replayer
	logger    *zap.Logger
	now       func() time.Time
}

func NewAdminHandler(reminders ReminderTrigger, replayer Replayer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{reminders: reminders, replayer: replayer, logger: logger, now: time.Now}
}

// TriggerReminders POST /api/reminders/trigger
func (h *AdminHandler) TriggerReminders(c *gin.Context) {
	n, err := h.reminders.TriggerReminders(c.Request.Context(), h.now())
	if err != nil {
		h.logger.Error("Reminder sweep failed", zap.Int("reminded", n), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "reminded": n})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminded": n})
}

// ReplayOutboxEvent POST /admin/outbox/replay?id=xxx
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	eventID, err := strconv.ParseInt(c.Query("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id parameter"})
		return
	}

	if err := h.replayer.ReplayEvent(c.Request.Context(), eventID); err != nil {
		h.logger.Error("Failed to replay event", zap.Int64("event_id", eventID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay event", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "replayed", "event_id": eventID})
}

// ReplayFailedEvents POST /admin/outbox/replay-failed?limit=100
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	n, err := h.replayer.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to replay failed events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay failed events", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "success_count": n, "limit": limit})
}
