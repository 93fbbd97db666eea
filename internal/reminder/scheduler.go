// Package reminder 提醒扫描：对未读、未暂停、已到间隔的 preference 重新发送。
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"alertreminder/internal/channel"
	"alertreminder/internal/model"
	"alertreminder/pkg/logger"
	"alertreminder/pkg/metrics"
	"alertreminder/pkg/otel"
)

const DefaultBatchSize = 200

type CandidateStore interface {
	// ListCandidates 粗过滤后的候选，按 id 升序，id > afterID
	ListCandidates(ctx context.Context, afterID int64, limit int) ([]model.PreferenceDetail, error)
	// LockDetail 行被其他事务锁住时返回 (nil, nil)
	LockDetail(ctx context.Context, id int64) (*model.PreferenceDetail, error)
	MarkReminded(ctx context.Context, id int64, at time.Time) error
}

type ChannelLookup interface {
	Get(key model.DeliveryType) (channel.Channel, error)
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Scheduler struct {
	store     CandidateStore
	channels  ChannelLookup
	tx        Transactor
	loc       *time.Location
	batchSize int
	logger    *zap.Logger
}

func NewScheduler(store CandidateStore, channels ChannelLookup, tx Transactor, loc *time.Location, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		channels:  channels,
		tx:        tx,
		loc:       loc,
		batchSize: DefaultBatchSize,
		logger:    logger,
	}
}

// WithBatchSize 每页读取的候选数量
func (s *Scheduler) WithBatchSize(n int) *Scheduler {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// TriggerReminders 执行一次扫描，返回处理（尝试发送）的数量。
// 每条 preference 单独一个事务；不论发送成功与否都会更新 last_reminded_at，
// 避免持续失败的渠道在每次扫描时被反复调用。
// 未知渠道立即中止；单条存储错误只记录日志并继续。
func (s *Scheduler) TriggerReminders(ctx context.Context, now time.Time) (processed int, err error) {
	start := time.Now()
	ctx, span := otel.StartSpan(ctx, "reminder.TriggerReminders")
	defer func() {
		span.SetAttributes(attribute.Int("reminder.processed", processed))
		otel.EndSpan(span, err)
		metrics.RecordReminderSweep(processed, time.Since(start))
	}()

	log := logger.WithTrace(ctx, s.logger)

	var afterID int64
	for {
		batch, err := s.store.ListCandidates(ctx, afterID, s.batchSize)
		if err != nil {
			return processed, fmt.Errorf("list reminder candidates: %w", err)
		}

		for i := range batch {
			if err := ctx.Err(); err != nil {
				return processed, err
			}
			cand := &batch[i]
			afterID = cand.ID

			if !ShouldRemind(&cand.Alert, &cand.Preference, now, s.loc) {
				continue
			}

			done, err := s.remindOne(ctx, cand.ID, now)
			if err != nil {
				if errors.Is(err, channel.ErrUnknownChannel) {
					log.Error("Reminder sweep aborted", zap.Int64("preference_id", cand.ID), zap.Error(err))
					return processed, err
				}
				log.Error("Failed to remind",
					zap.Int64("preference_id", cand.ID),
					zap.Int64("alert_id", cand.AlertID),
					zap.Int64("user_id", cand.UserID),
					zap.Error(err),
				)
				continue
			}
			if done {
				processed++
			}
		}

		if len(batch) < s.batchSize {
			break
		}
	}

	log.Info("Reminder sweep finished", zap.Int("processed", processed))
	return processed, nil
}

// remindOne 锁行、重新判断、发送、记录时间，全部在一个事务内
func (s *Scheduler) remindOne(ctx context.Context, prefID int64, now time.Time) (bool, error) {
	done := false
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		d, err := s.store.LockDetail(ctx, prefID)
		if err != nil {
			return err
		}
		if d == nil {
			// 被 deliver 或用户操作锁住，下次扫描再处理
			return nil
		}
		if !ShouldRemind(&d.Alert, &d.Preference, now, s.loc) {
			return nil
		}

		ch, err := s.channels.Get(d.Alert.DeliveryType)
		if err != nil {
			return err
		}
		ch.Send(ctx, d.User, &d.Alert)

		if err := s.store.MarkReminded(ctx, d.ID, now); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return done, nil
}
