package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"alertreminder/internal/audience"
	"alertreminder/internal/channel"
	"alertreminder/internal/delivery"
	"alertreminder/internal/memstore"
	"alertreminder/internal/model"
)

type fakeChannel struct {
	mu     sync.Mutex
	store  *memstore.Store
	fail   bool
	sentTo []int64
}

func (c *fakeChannel) Send(ctx context.Context, user model.User, alert *model.Alert) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentTo = append(c.sentTo, user.ID)
	status := model.DeliverySent
	if c.fail {
		status = model.DeliveryFailed
	}
	_ = c.store.Insert(ctx, &model.DeliveryRecord{AlertID: alert.ID, UserID: user.ID, Channel: alert.DeliveryType, Status: status})
	return !c.fail
}

func (c *fakeChannel) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentTo = nil
}

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	store     *memstore.Store
	ch        *fakeChannel
	reg       *channel.Registry
	engine    *delivery.Engine
	scheduler *Scheduler
	alert     *model.Alert
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memstore.New(
		model.User{ID: 1, Username: "u1"},
		model.User{ID: 2, Username: "u2"},
		model.User{ID: 3, Username: "u3"},
	)
	store.Now = func() time.Time { return t0 }
	ch := &fakeChannel{store: store}
	reg := channel.NewRegistry()
	reg.Register(model.DeliveryInApp, ch)

	a := &model.Alert{
		Title:                    "A",
		Message:                  "org wide",
		DeliveryType:             model.DeliveryInApp,
		Visibility:               model.VisibilityOrg,
		StartAt:                  t0.Add(-time.Hour),
		ReminderFrequencyMinutes: 120,
		RemindersEnabled:         true,
	}
	require.NoError(t, store.Create(context.Background(), a))

	return &env{
		store:     store,
		ch:        ch,
		reg:       reg,
		engine:    delivery.NewEngine(store, audience.NewResolver(store), store, reg, store, time.UTC, zap.NewNop()),
		scheduler: NewScheduler(store, reg, store, time.UTC, zap.NewNop()),
		alert:     a,
	}
}

func (e *env) deliver(t *testing.T) {
	t.Helper()
	n, err := e.engine.Deliver(context.Background(), e.alert, t0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	e.ch.reset()
}

func TestTrigger_ImmediatelyAfterDeliverIsNoop(t *testing.T) {
	e := newEnv(t)
	e.deliver(t)

	n, err := e.scheduler.TriggerReminders(context.Background(), t0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, e.ch.sentTo)
}

func TestTrigger_ReadUserExcluded(t *testing.T) {
	e := newEnv(t)
	e.deliver(t)
	ctx := context.Background()

	p := e.store.Preference(e.alert.ID, 1)
	_, err := e.store.SetRead(ctx, p.ID, true)
	require.NoError(t, err)

	later := t0.Add(121 * time.Minute)
	n, err := e.scheduler.TriggerReminders(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []int64{2, 3}, e.ch.sentTo)
	assert.Equal(t, later, *e.store.Preference(e.alert.ID, 2).LastRemindedAt)
	assert.Equal(t, t0, *e.store.Preference(e.alert.ID, 1).LastRemindedAt)
}

func TestTrigger_SnoozeTodayThenTomorrow(t *testing.T) {
	e := newEnv(t)
	e.deliver(t)
	ctx := context.Background()

	p := e.store.Preference(e.alert.ID, 2)
	today := model.LocalDate(t0, time.UTC)
	_, err := e.store.SetSnooze(ctx, p.ID, &today)
	require.NoError(t, err)

	// 同一天，间隔已到
	n, err := e.scheduler.TriggerReminders(ctx, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotContains(t, e.ch.sentTo, int64(2))

	e.ch.reset()
	n, err = e.scheduler.TriggerReminders(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Contains(t, e.ch.sentTo, int64(2))
}

// deliver 只在成功时更新 last_reminded_at，扫描则无论成功与否都更新
func TestLastRemindedAt_DeliverVsSweepAsymmetry(t *testing.T) {
	e := newEnv(t)
	e.ch.fail = true
	ctx := context.Background()

	n, err := e.engine.Deliver(ctx, e.alert, t0)
	require.NoError(t, err)
	assert.Zero(t, n)
	for _, uid := range []int64{1, 2, 3} {
		assert.Nil(t, e.store.Preference(e.alert.ID, uid).LastRemindedAt, "deliver keeps failed users eligible")
	}

	sweepAt := t0.Add(time.Minute)
	n, err = e.scheduler.TriggerReminders(ctx, sweepAt)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "sweep counts attempts, not successes")
	for _, uid := range []int64{1, 2, 3} {
		p := e.store.Preference(e.alert.ID, uid)
		require.NotNil(t, p.LastRemindedAt, "sweep consumes the slot even on failure")
		assert.Equal(t, sweepAt, *p.LastRemindedAt)
	}

	// 下一次扫描要等到间隔结束
	n, err = e.scheduler.TriggerReminders(ctx, sweepAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTrigger_ArchivedAlertNeverReminded(t *testing.T) {
	e := newEnv(t)
	e.deliver(t)
	ctx := context.Background()
	require.NoError(t, e.store.Archive(ctx, e.alert.ID))

	n, err := e.scheduler.TriggerReminders(ctx, t0.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	archived, err := e.store.Get(ctx, e.alert.ID)
	require.NoError(t, err)
	n, err = e.engine.Deliver(ctx, archived, t0.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTrigger_LockedRowSkipped(t *testing.T) {
	e := newEnv(t)
	e.deliver(t)
	ctx := context.Background()

	p := e.store.Preference(e.alert.ID, 3)
	e.store.Lock(p.ID)

	later := t0.Add(3 * time.Hour)
	n, err := e.scheduler.TriggerReminders(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, t0, *e.store.Preference(e.alert.ID, 3).LastRemindedAt)

	e.store.Unlock(p.ID)
	e.ch.reset()
	n, err = e.scheduler.TriggerReminders(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{3}, e.ch.sentTo)
}

func TestTrigger_PagesThroughAllCandidates(t *testing.T) {
	e := newEnv(t)
	e.deliver(t)
	e.scheduler.WithBatchSize(1)

	n, err := e.scheduler.TriggerReminders(context.Background(), t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestTrigger_UnknownChannelAborts(t *testing.T) {
	e := newEnv(t)
	e.deliver(t)

	empty := channel.NewRegistry()
	s := NewScheduler(e.store, empty, e.store, time.UTC, zap.NewNop())

	n, err := s.TriggerReminders(context.Background(), t0.Add(3*time.Hour))
	require.Error(t, err)
	assert.ErrorIs(t, err, channel.ErrUnknownChannel)
	assert.Zero(t, n)
}

type flakyStore struct {
	*memstore.Store
	failID int64
}

func (f *flakyStore) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	if id == f.failID {
		return errors.New("serialization failure")
	}
	return f.Store.MarkReminded(ctx, id, at)
}

func TestTrigger_StoreErrorIsolatedPerItem(t *testing.T) {
	e := newEnv(t)
	e.deliver(t)

	flaky := &flakyStore{Store: e.store, failID: e.store.Preference(e.alert.ID, 2).ID}
	s := NewScheduler(flaky, e.reg, e.store, time.UTC, zap.NewNop())

	n, err := s.TriggerReminders(context.Background(), t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// 失败的那条连同本次投递记录一起回滚
	var forUser2 int
	for _, d := range e.store.Deliveries() {
		if d.UserID == 2 {
			forUser2++
		}
	}
	assert.Equal(t, 1, forUser2)
	assert.Equal(t, t0, *e.store.Preference(e.alert.ID, 2).LastRemindedAt)
}

func TestTrigger_CancelledBetweenItems(t *testing.T) {
	e := newEnv(t)
	e.deliver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := e.scheduler.TriggerReminders(ctx, t0.Add(3*time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}
