package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "alertreminder/contracts/mq"
	"alertreminder/internal/audience"
	"alertreminder/internal/channel"
	"alertreminder/internal/memstore"
	"alertreminder/internal/model"
	"alertreminder/internal/repository"
)

// recordingChannel 记录调用，并像真实渠道一样写投递记录
type recordingChannel struct {
	mu       sync.Mutex
	store    *memstore.Store
	failFor  map[int64]bool
	sentTo   []int64
	attempts int
}

func (c *recordingChannel) Send(ctx context.Context, user model.User, alert *model.Alert) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	status := model.DeliverySent
	if c.failFor[user.ID] {
		status = model.DeliveryFailed
	}
	_ = c.store.Insert(ctx, &model.DeliveryRecord{
		AlertID: alert.ID, UserID: user.ID, Channel: alert.DeliveryType,
		Status: status, MessageSnapshot: alert.Message,
	})
	if status == model.DeliveryFailed {
		return false
	}
	c.sentTo = append(c.sentTo, user.ID)
	return true
}

type fakeEvents struct {
	keys     []string
	payloads []interface{}
}

func (f *fakeEvents) Record(ctx context.Context, aggregateType string, aggregateID *int64, routingKey string, payload interface{}) error {
	f.keys = append(f.keys, routingKey)
	f.payloads = append(f.payloads, payload)
	return nil
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memstore.Store
	ch     *recordingChannel
	engine *Engine
	events *fakeEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	team := int64(10)
	store := memstore.New(
		model.User{ID: 1, Username: "alice", TeamID: &team},
		model.User{ID: 2, Username: "bob"},
		model.User{ID: 3, Username: "carol"},
	)
	store.Now = func() time.Time { return now }

	ch := &recordingChannel{store: store, failFor: map[int64]bool{}}
	reg := channel.NewRegistry()
	reg.Register(model.DeliveryInApp, ch)

	events := &fakeEvents{}
	engine := NewEngine(store, audience.NewResolver(store), store, reg, store, time.UTC, zap.NewNop()).
		WithEvents(events)
	return &fixture{store: store, ch: ch, engine: engine, events: events}
}

func (f *fixture) orgAlert(t *testing.T) *model.Alert {
	t.Helper()
	a := &model.Alert{
		Title:                    "maintenance",
		Message:                  "db maintenance at 22:00",
		Severity:                 model.SeverityInfo,
		DeliveryType:             model.DeliveryInApp,
		Visibility:               model.VisibilityOrg,
		StartAt:                  now.Add(-time.Hour),
		ReminderFrequencyMinutes: 120,
		RemindersEnabled:         true,
	}
	require.NoError(t, f.store.Create(context.Background(), a))
	return a
}

func TestDeliver_OrgAlertReachesEveryone(t *testing.T) {
	f := newFixture(t)
	a := f.orgAlert(t)

	n, err := f.engine.Deliver(context.Background(), a, now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, f.store.Preferences())

	for _, uid := range []int64{1, 2, 3} {
		p := f.store.Preference(a.ID, uid)
		require.NotNil(t, p)
		require.NotNil(t, p.LastRemindedAt)
		assert.Equal(t, now, *p.LastRemindedAt)
	}
	assert.Len(t, f.store.Deliveries(), 3)

	require.Equal(t, []string{mqcontracts.RoutingKeyAlertDelivered}, f.events.keys)
	assert.Equal(t, 3, f.events.payloads[0].(mqcontracts.AlertDeliveredPayload).Delivered)
}

func TestDeliver_GetOrCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.orgAlert(t)

	_, err := f.engine.Deliver(context.Background(), a, now)
	require.NoError(t, err)
	_, err = f.engine.Deliver(context.Background(), a, now.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 6, f.store.GetOrCreateCalls)
	assert.Equal(t, 3, f.store.PreferencesMade)
	assert.Equal(t, 3, f.store.Preferences())
}

func TestDeliver_SkipsUserSnoozedToday(t *testing.T) {
	f := newFixture(t)
	a := f.orgAlert(t)
	ctx := context.Background()

	pref, _, err := f.store.GetOrCreate(ctx, a.ID, 2)
	require.NoError(t, err)
	today := model.LocalDate(now, time.UTC)
	_, err = f.store.SetSnooze(ctx, pref.ID, &today)
	require.NoError(t, err)

	n, err := f.engine.Deliver(ctx, a, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []int64{1, 3}, f.ch.sentTo)
	assert.Nil(t, f.store.Preference(a.ID, 2).LastRemindedAt)
}

func TestDeliver_FailedSendLeavesLastRemindedUnset(t *testing.T) {
	f := newFixture(t)
	a := f.orgAlert(t)
	f.ch.failFor[3] = true

	n, err := f.engine.Deliver(context.Background(), a, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Nil(t, f.store.Preference(a.ID, 3).LastRemindedAt)
	var failed int
	for _, d := range f.store.Deliveries() {
		if d.Status == model.DeliveryFailed {
			failed++
			assert.Equal(t, int64(3), d.UserID)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestDeliver_InactiveAlertsDeliverNothing(t *testing.T) {
	cases := map[string]func(a *model.Alert){
		"archived":    func(a *model.Alert) { a.Archived = true },
		"not started": func(a *model.Alert) { a.StartAt = now.Add(time.Minute) },
		"expired": func(a *model.Alert) {
			exp := now
			a.ExpiresAt = &exp
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			a := f.orgAlert(t)
			mutate(a)

			n, err := f.engine.Deliver(context.Background(), a, now)
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Zero(t, f.store.Preferences())
			assert.Zero(t, f.ch.attempts)
			assert.Empty(t, f.events.keys)
		})
	}
}

func TestDeliver_UnknownChannelIsFatal(t *testing.T) {
	f := newFixture(t)
	a := f.orgAlert(t)
	a.DeliveryType = "pager"

	n, err := f.engine.Deliver(context.Background(), a, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, channel.ErrUnknownChannel)
	assert.Zero(t, n)
	assert.Zero(t, f.store.Preferences(), "no preference rows before the channel is known")
}

func TestDeliver_TeamWithoutTargets(t *testing.T) {
	f := newFixture(t)
	a := f.orgAlert(t)
	a.Visibility = model.VisibilityTeam

	n, err := f.engine.Deliver(context.Background(), a, now)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.store.Preferences())
}

func TestDeliver_TargetedUsersOnly(t *testing.T) {
	f := newFixture(t)
	a := f.orgAlert(t)
	a.Visibility = model.VisibilityUser
	a.TargetUsers = []int64{3}
	a.TargetTeams = []int64{10}

	n, err := f.engine.Deliver(context.Background(), a, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{3}, f.ch.sentTo)
}

func TestDeliver_CancelledContext(t *testing.T) {
	f := newFixture(t)
	a := f.orgAlert(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := f.engine.Deliver(ctx, a, now)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, n)
}

func TestDeliverByID_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.DeliverByID(context.Background(), 404, now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// failingReminded 让 MarkReminded 失败，发送之后事务回滚
type failingReminded struct {
	*memstore.Store
}

func (f failingReminded) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	return errors.New("connection reset")
}

func TestDeliver_RollbackDiscardsQueuedMessageAndRecord(t *testing.T) {
	store := memstore.New(
		model.User{ID: 1, Username: "alice", Email: "alice@example.com"},
		model.User{ID: 2, Username: "bob", Email: "bob@example.com"},
	)
	store.Now = func() time.Time { return now }

	reg := channel.NewRegistry()
	reg.Register(model.DeliveryEmail, channel.NewEmail(store, store, zap.NewNop()))
	engine := NewEngine(store, audience.NewResolver(store), failingReminded{store}, reg, store, time.UTC, zap.NewNop())

	a := &model.Alert{
		Title:        "deploy",
		Message:      "deploy freeze",
		Severity:     model.SeverityWarning,
		DeliveryType: model.DeliveryEmail,
		Visibility:   model.VisibilityOrg,
		StartAt:      now.Add(-time.Hour),
	}
	require.NoError(t, store.Create(context.Background(), a))

	n, err := engine.Deliver(context.Background(), a, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Empty(t, store.Events(), "no email may leave before the transaction commits")
	assert.Empty(t, store.Deliveries())
	assert.Equal(t, 2, store.RolledBack)
	for _, uid := range []int64{1, 2} {
		assert.Nil(t, store.Preference(a.ID, uid).LastRemindedAt)
	}
}

func TestDeliver_EmailCommitsMessageWithRecord(t *testing.T) {
	store := memstore.New(model.User{ID: 1, Username: "alice", Email: "alice@example.com"})
	store.Now = func() time.Time { return now }

	reg := channel.NewRegistry()
	reg.Register(model.DeliveryEmail, channel.NewEmail(store, store, zap.NewNop()))
	engine := NewEngine(store, audience.NewResolver(store), store, reg, store, time.UTC, zap.NewNop())

	a := &model.Alert{
		Title:        "deploy",
		Message:      "deploy freeze",
		DeliveryType: model.DeliveryEmail,
		Visibility:   model.VisibilityOrg,
		StartAt:      now.Add(-time.Hour),
	}
	require.NoError(t, store.Create(context.Background(), a))

	n, err := engine.Deliver(context.Background(), a, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, mqcontracts.RoutingKeyEmail, events[0].RoutingKey)
	assert.Equal(t, "alice@example.com", events[0].Payload.(mqcontracts.AlertNotificationPayload).Address)
	require.Len(t, store.Deliveries(), 1)
	assert.Equal(t, 1, store.Committed)
}
