package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "alertreminder/contracts/mq"
	"alertreminder/internal/model"
	"alertreminder/internal/service"
	"alertreminder/pkg/trace"
)

type AlertService interface {
	Create(ctx context.Context, in service.AlertInput, createdBy *int64, deliverNow bool, now time.Time) (*model.Alert, int, error)
	Update(ctx context.Context, id int64, in service.AlertInput) (*model.Alert, error)
	Get(ctx context.Context, id int64) (*model.Alert, error)
	Archive(ctx context.Context, id int64) error
	List(ctx context.Context, filter service.AlertFilter, withStats bool, now time.Time) ([]model.AlertWithStats, error)
	Analytics(ctx context.Context, now time.Time) (*model.Analytics, error)
}

type Deliverer interface {
	DeliverByID(ctx context.Context, alertID int64, now time.Time) (int, error)
}

// Publisher 由 *mq.Publisher 实现，用于异步投递
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// DeliveryHistory 由 repository.DeliveryRepository 实现
type DeliveryHistory interface {
	ListByAlert(ctx context.Context, alertID int64, limit int) ([]model.DeliveryRecord, error)
}

type AlertHandler struct {
	alerts     AlertService
	deliverer  Deliverer
	publisher  Publisher
	deliveries DeliveryHistory
	logger     *zap.Logger
	now        func() time.Time
}

// NewAlertHandler publisher 为 nil 时不支持 ?async=true
func NewAlertHandler(alerts AlertService, deliverer Deliverer, publisher Publisher, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{
		alerts:    alerts,
		deliverer: deliverer,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// WithDeliveryHistory 开启 GET /api/alerts/:id/deliveries
func (h *AlertHandler) WithDeliveryHistory(d DeliveryHistory) *AlertHandler {
	h.deliveries = d
	return h
}

// List GET /api/alerts?status=&severity=&visibility=&archived=&reminders_enabled=
// 管理员返回聚合字段
func (h *AlertHandler) List(c *gin.Context) {
	var filter service.AlertFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	admin := isAdmin(c)
	rows, err := h.alerts.List(c.Request.Context(), filter, admin, h.now())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	if admin {
		c.JSON(http.StatusOK, rows)
		return
	}
	plain := make([]model.Alert, 0, len(rows))
	for _, r := range rows {
		plain = append(plain, r.Alert)
	}
	c.JSON(http.StatusOK, plain)
}

// Get GET /api/alerts/:id
func (h *AlertHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	a, err := h.alerts.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Create POST /api/alerts[?deliver_now=true]
func (h *AlertHandler) Create(c *gin.Context) {
	var in service.AlertInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	deliverNow, _ := strconv.ParseBool(c.Query("deliver_now"))

	var createdBy *int64
	if uid, ok := getUserID(c); ok {
		createdBy = &uid
	}

	a, delivered, err := h.alerts.Create(c.Request.Context(), in, createdBy, deliverNow, h.now())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := gin.H{"alert": a}
	if deliverNow {
		resp["delivered"] = delivered
	}
	c.JSON(http.StatusCreated, resp)
}

// Update PUT /api/alerts/:id
func (h *AlertHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in service.AlertInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	a, err := h.alerts.Update(c.Request.Context(), id, in)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Archive DELETE /api/alerts/:id（软删除）
func (h *AlertHandler) Archive(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.alerts.Archive(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Deliver POST /api/alerts/:id/deliver[?async=true]
func (h *AlertHandler) Deliver(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		h.deliverAsync(c, id)
		return
	}

	n, err := h.deliverer.DeliverByID(c.Request.Context(), id, h.now())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": n})
}

func (h *AlertHandler) deliverAsync(c *gin.Context, id int64) {
	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async delivery not available"})
		return
	}
	ctx := c.Request.Context()
	// 先确认 alert 存在
	if _, err := h.alerts.Get(ctx, id); err != nil {
		writeError(c, h.logger, err)
		return
	}

	payload := mqcontracts.AlertDeliverRequestedPayload{
		AlertID:   id,
		RequestID: uuid.NewString(),
		TraceID:   trace.FromContext(ctx),
	}
	if err := h.publisher.PublishWithContext(ctx, mqcontracts.RoutingKeyDeliverRequested, payload); err != nil {
		h.logger.Error("Failed to publish deliver request", zap.Int64("alert_id", id), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to queue delivery"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "request_id": payload.RequestID})
}

// Analytics GET /api/analytics
func (h *AlertHandler) Analytics(c *gin.Context) {
	a, err := h.alerts.Analytics(c.Request.Context(), h.now())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Deliveries GET /api/alerts/:id/deliveries?limit=50
func (h *AlertHandler) Deliveries(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if h.deliveries == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}

	ctx := c.Request.Context()
	if _, err := h.alerts.Get(ctx, id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	records, err := h.deliveries.ListByAlert(ctx, id, limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if records == nil {
		records = []model.DeliveryRecord{}
	}
	c.JSON(http.StatusOK, records)
}
