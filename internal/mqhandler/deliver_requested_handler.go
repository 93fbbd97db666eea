package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "alertreminder/contracts/mq"
	"alertreminder/internal/channel"
	"alertreminder/internal/repository"
	"alertreminder/pkg/logger"
	"alertreminder/pkg/util"
)

const deliverHandlerName = "alert_deliver_requested"

type Deliverer interface {
	DeliverByID(ctx context.Context, alertID int64, now time.Time) (int, error)
}

// Deduper 由 *util.Deduper 实现
type Deduper interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
	Release(ctx context.Context, handler, id string)
}

type DeliverRequestedHandler struct {
	deliverer Deliverer
	dedup     Deduper
	logger    *zap.Logger
	now       func() time.Time
}

func NewDeliverRequestedHandler(deliverer Deliverer, dedup Deduper, logger *zap.Logger) *DeliverRequestedHandler {
	return &DeliverRequestedHandler{
		deliverer: deliverer,
		dedup:     dedup,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle -- 消费 alert.deliver.requested，按 request_id 去重后投递
func (h *DeliverRequestedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.AlertDeliverRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal AlertDeliverRequestedPayload", zap.Error(err))
		return err
	}
	if p.AlertID <= 0 {
		return fmt.Errorf("%w: missing alert_id", util.ErrPermanent)
	}

	log := logger.WithTrace(ctx, h.logger).With(
		zap.Int64("alert_id", p.AlertID),
		zap.String("request_id", p.RequestID),
	)

	// 没有 request_id 的消息不做去重
	dedupID := p.RequestID
	if dedupID != "" && !h.dedup.AcquireOnce(ctx, deliverHandlerName, dedupID) {
		return nil
	}

	n, err := h.deliverer.DeliverByID(ctx, p.AlertID, h.now())
	if err != nil {
		if dedupID != "" {
			h.dedup.Release(ctx, deliverHandlerName, dedupID)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: alert %d not found", util.ErrPermanent, p.AlertID)
		}
		log.Error("Deliver failed", zap.Error(err))
		return classify(err)
	}

	log.Info("Alert delivered from queue", zap.Int("delivered", n))
	return nil
}

// classify 配置错误重试也不会成功，直接进 DLQ
func classify(err error) error {
	if errors.Is(err, channel.ErrUnknownChannel) && !errors.Is(err, util.ErrPermanent) {
		return fmt.Errorf("%w: %w", util.ErrPermanent, err)
	}
	return err
}
