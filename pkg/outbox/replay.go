package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"alertreminder/pkg/circuitbreaker"
)

// ReplayService 重放失败的 Outbox 事件（管理接口使用）
type ReplayService struct {
	repo       *Repository
	publisher  EventPublisher
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
	maxRetries int
}

// NewReplayService 创建新的 ReplayService
func NewReplayService(repo *Repository, publisher EventPublisher, logger *zap.Logger) *ReplayService {
	return &ReplayService{
		repo:       repo,
		publisher:  publisher,
		breaker:    circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:     logger,
		maxRetries: 5,
	}
}

// ReplayEvent 立即重新发布指定事件
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	event, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}

	if err := publish(ctx, s.breaker, s.publisher, event); err != nil {
		// 发布失败：重置为 pending，交给 Dispatcher 继续重试
		if markErr := s.repo.ReplayEvent(ctx, eventID); markErr != nil {
			return fmt.Errorf("failed to publish and reset event: %w (reset error: %v)", err, markErr)
		}
		return err
	}

	return s.repo.MarkAsSent(ctx, eventID)
}

// ReplayFailedEvents 重放所有失败的事件，返回成功数量
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.repo.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	successCount := 0
	for _, event := range events {
		if err := s.ReplayEvent(ctx, event.ID); err != nil {
			s.logger.Warn("Replay failed",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
			continue
		}
		successCount++
	}

	return successCount, nil
}
