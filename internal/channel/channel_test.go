package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "alertreminder/contracts/mq"
	"alertreminder/internal/model"
)

type memRecorder struct {
	mu      sync.Mutex
	records []model.DeliveryRecord
	err     error
}

func (m *memRecorder) Insert(ctx context.Context, rec *model.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, *rec)
	return nil
}

type fakeOutbox struct {
	keys     []string
	payloads []interface{}
	err      error
}

func (f *fakeOutbox) Record(ctx context.Context, aggregateType string, aggregateID *int64, routingKey string, payload interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, routingKey)
	f.payloads = append(f.payloads, payload)
	return nil
}

var testAlert = &model.Alert{ID: 1, Title: "disk", Message: "disk 95% full", Severity: model.SeverityWarning}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	inApp := NewInApp(&memRecorder{}, nil, zap.NewNop())
	r.Register(model.DeliveryInApp, inApp)

	ch, err := r.Get(model.DeliveryInApp)
	require.NoError(t, err)
	assert.Same(t, inApp, ch)

	_, err = r.Get("pager")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownChannel)
	assert.Contains(t, err.Error(), "pager")

	assert.ElementsMatch(t, []model.DeliveryType{model.DeliveryInApp}, r.Keys())
}

func TestInApp_RecordsAndPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, RealtimeTopic(42))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	rec := &memRecorder{}
	c := NewInApp(rec, rdb, zap.NewNop())

	ok := c.Send(ctx, model.User{ID: 42}, testAlert)
	require.True(t, ok)
	require.Len(t, rec.records, 1)
	assert.Equal(t, model.DeliverySent, rec.records[0].Status)
	assert.Equal(t, "disk 95% full", rec.records[0].MessageSnapshot)
	assert.Equal(t, model.DeliveryInApp, rec.records[0].Channel)

	select {
	case msg := <-sub.Channel():
		var ev realtimeEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, int64(1), ev.AlertID)
	case <-time.After(2 * time.Second):
		t.Fatal("no realtime event")
	}
}

func TestInApp_RedisDownStillSucceeds(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	rec := &memRecorder{}
	c := NewInApp(rec, rdb, zap.NewNop())

	assert.True(t, c.Send(context.Background(), model.User{ID: 1}, testAlert))
	assert.Len(t, rec.records, 1)
}

func TestInApp_RecorderErrorIsFailure(t *testing.T) {
	rec := &memRecorder{err: errors.New("db down")}
	c := NewInApp(rec, nil, zap.NewNop())

	assert.False(t, c.Send(context.Background(), model.User{ID: 1}, testAlert))
}

func TestEmail_RecordsOutboxEvent(t *testing.T) {
	ob := &fakeOutbox{}
	rec := &memRecorder{}
	c := NewEmail(ob, rec, zap.NewNop())

	ok := c.Send(context.Background(), model.User{ID: 2, Email: "bob@example.com"}, testAlert)
	require.True(t, ok)
	require.Equal(t, []string{mqcontracts.RoutingKeyEmail}, ob.keys)

	payload := ob.payloads[0].(mqcontracts.AlertNotificationPayload)
	assert.Equal(t, "bob@example.com", payload.Address)
	assert.Equal(t, "email", payload.Channel)
	require.Len(t, rec.records, 1)
	assert.Equal(t, model.DeliverySent, rec.records[0].Status)
}

func TestSMS_MissingPhoneRecordsFailure(t *testing.T) {
	ob := &fakeOutbox{}
	rec := &memRecorder{}
	c := NewSMS(ob, rec, zap.NewNop())

	ok := c.Send(context.Background(), model.User{ID: 2, Email: "bob@example.com"}, testAlert)
	assert.False(t, ok)
	assert.Empty(t, ob.keys)
	require.Len(t, rec.records, 1)
	assert.Equal(t, model.DeliveryFailed, rec.records[0].Status)
	assert.Equal(t, model.DeliverySMS, rec.records[0].Channel)
	assert.Equal(t, ErrNoPhoneNumber.Error(), rec.records[0].Error)
}

func TestSMS_OutboxErrorRecordsFailure(t *testing.T) {
	ob := &fakeOutbox{err: errors.New("connection reset")}
	rec := &memRecorder{}
	c := NewSMS(ob, rec, zap.NewNop())

	assert.False(t, c.Send(context.Background(), model.User{ID: 2, Phone: "+15550100"}, testAlert))
	require.Len(t, rec.records, 1)
	assert.Equal(t, model.DeliveryFailed, rec.records[0].Status)
	assert.Equal(t, "connection reset", rec.records[0].Error)
}
