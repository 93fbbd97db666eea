// Package memstore 内存版存储，仅用于单元测试。
// 方法签名与 internal/repository 保持一致。
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"alertreminder/internal/audience"
	"alertreminder/internal/model"
	"alertreminder/internal/repository"
)

type pair struct{ alertID, userID int64 }

type Store struct {
	mu sync.Mutex

	users      []model.User
	alerts     map[int64]*model.Alert
	prefs      map[int64]*model.Preference
	byPair     map[pair]int64
	deliveries []model.DeliveryRecord
	events     []Event
	// 每个 preference 一个容量为 1 的 channel 充当行锁
	rows   map[int64]chan struct{}
	nextID int64

	// 调用计数，测试断言用
	GetOrCreateCalls int
	PreferencesMade  int
	Committed        int
	RolledBack       int
	Now              func() time.Time
}

// Event 写入 outbox 的事件
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   *int64
	RoutingKey    string
	Payload       interface{}
}

func New(users ...model.User) *Store {
	return &Store{
		users:  users,
		alerts: make(map[int64]*model.Alert),
		prefs:  make(map[int64]*model.Preference),
		byPair: make(map[pair]int64),
		rows:   make(map[int64]chan struct{}),
		Now:    time.Now,
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// ---- users ----

func (s *Store) ListAll(ctx context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.User(nil), s.users...), nil
}

func (s *Store) ListByTeams(ctx context.Context, teamIDs []int64) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.User
	for _, u := range s.users {
		if u.InTeam(teamIDs) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) ListByIDs(ctx context.Context, ids []int64) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.User
	for _, u := range s.users {
		if want[u.ID] {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			cp := u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) user(id int64) model.User {
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return model.User{ID: id}
}

// ---- alerts ----

func (s *Store) Create(ctx context.Context, a *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.id()
	}
	now := s.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *Store) Update(ctx context.Context, a *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.alerts[a.ID]
	if !ok {
		return repository.ErrNotFound
	}
	a.CreatedAt = old.CreatedAt
	a.CreatedBy = old.CreatedBy
	a.UpdatedAt = s.Now()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *Store) Archive(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Archived = true
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) List(ctx context.Context) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) ListVisibleActive(ctx context.Context, user *model.User, now time.Time) ([]model.Alert, error) {
	all, _ := s.List(ctx)
	var out []model.Alert
	for i := len(all) - 1; i >= 0; i-- {
		a := all[i]
		if a.IsActiveAt(now) && audience.CanSee(&a, user) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context, alertIDs []int64, today time.Time) (map[int64]model.AlertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]bool, len(alertIDs))
	for _, id := range alertIDs {
		want[id] = true
	}
	out := make(map[int64]model.AlertStats)
	for _, p := range s.prefs {
		if !want[p.AlertID] {
			continue
		}
		st := out[p.AlertID]
		st.NumPreferences++
		if p.IsRead {
			st.NumRead++
		} else {
			st.NumUnread++
		}
		if p.IsSnoozedOn(today) {
			st.NumSnoozedToday++
		}
		out[p.AlertID] = st
	}
	return out, nil
}

func (s *Store) Analytics(ctx context.Context, today time.Time) (*model.Analytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &model.Analytics{
		TotalAlerts: len(s.alerts),
		Deliveries:  len(s.deliveries),
	}
	for _, p := range s.prefs {
		if p.IsRead {
			a.Read++
		}
		if p.IsSnoozedOn(today) {
			a.SnoozedToday++
		}
	}
	counts := map[model.Severity]int{}
	for _, al := range s.alerts {
		counts[al.Severity]++
	}
	a.SeverityBreakdown = []model.SeverityCount{}
	for sev, n := range counts {
		a.SeverityBreakdown = append(a.SeverityBreakdown, model.SeverityCount{Severity: sev, Count: n})
	}
	sort.Slice(a.SeverityBreakdown, func(i, j int) bool {
		return a.SeverityBreakdown[i].Severity < a.SeverityBreakdown[j].Severity
	})
	return a, nil
}

// ---- preferences ----

func (s *Store) GetOrCreate(ctx context.Context, alertID, userID int64) (*model.Preference, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetOrCreateCalls++
	if id, ok := s.byPair[pair{alertID, userID}]; ok {
		cp := *s.prefs[id]
		return &cp, false, nil
	}
	now := s.Now()
	p := &model.Preference{
		ID:          s.id(),
		AlertID:     alertID,
		UserID:      userID,
		FirstSeenAt: now,
		UpdatedAt:   now,
	}
	s.prefs[p.ID] = p
	s.byPair[pair{alertID, userID}] = p.ID
	s.PreferencesMade++
	onRollback(ctx, func() {
		delete(s.prefs, p.ID)
		delete(s.byPair, pair{alertID, userID})
		s.PreferencesMade--
	})
	cp := *p
	return &cp, true, nil
}

// Preference 测试辅助：按 (alert, user) 取当前状态
func (s *Store) Preference(alertID, userID int64) *model.Preference {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPair[pair{alertID, userID}]
	if !ok {
		return nil
	}
	cp := *s.prefs[id]
	return &cp
}

// Preferences 测试辅助：当前所有 preference 数量
func (s *Store) Preferences() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prefs)
}

func (s *Store) LockForUpdate(ctx context.Context, id int64) (*model.Preference, error) {
	if _, err := s.acquire(ctx, id, false); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) LockDetail(ctx context.Context, id int64) (*model.PreferenceDetail, error) {
	ok, err := s.acquire(ctx, id, true)
	if err != nil || !ok {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[id]
	if !ok {
		return nil, nil
	}
	d := s.detail(p)
	return &d, nil
}

func (s *Store) detail(p *model.Preference) model.PreferenceDetail {
	d := model.PreferenceDetail{Preference: *p, User: s.user(p.UserID)}
	if a, ok := s.alerts[p.AlertID]; ok {
		d.Alert = *a
	}
	return d
}

func (s *Store) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	_, err := s.update(ctx, id, func(p *model.Preference) {
		t := at
		p.LastRemindedAt = &t
	})
	return err
}

// update 和 UPDATE 语句一样先拿行锁
func (s *Store) update(ctx context.Context, id int64, fn func(p *model.Preference)) (*model.Preference, error) {
	if _, err := s.acquire(ctx, id, false); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	old := *p
	onRollback(ctx, func() { *p = old })
	fn(p)
	p.UpdatedAt = s.Now()
	cp := *p
	return &cp, nil
}

func (s *Store) SetRead(ctx context.Context, id int64, isRead bool) (*model.Preference, error) {
	return s.update(ctx, id, func(p *model.Preference) { p.IsRead = isRead })
}

func (s *Store) ToggleRead(ctx context.Context, id int64) (*model.Preference, error) {
	return s.update(ctx, id, func(p *model.Preference) { p.IsRead = !p.IsRead })
}

func (s *Store) SetSnooze(ctx context.Context, id int64, day *time.Time) (*model.Preference, error) {
	return s.update(ctx, id, func(p *model.Preference) {
		if day == nil {
			p.SnoozedOn = nil
			return
		}
		d := *day
		p.SnoozedOn = &d
	})
}

func (s *Store) ListCandidates(ctx context.Context, afterID int64, limit int) ([]model.PreferenceDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.prefs))
	for id := range s.prefs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []model.PreferenceDetail
	for _, id := range ids {
		if id <= afterID {
			continue
		}
		d := s.detail(s.prefs[id])
		if d.IsRead || d.Alert.Archived || !d.Alert.RemindersEnabled {
			continue
		}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListForUser(ctx context.Context, userID int64) ([]model.PreferenceDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PreferenceDetail
	for _, p := range s.prefs {
		if p.UserID == userID {
			out = append(out, s.detail(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// ---- deliveries ----

func (s *Store) Insert(ctx context.Context, rec *model.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.id()
	rec.SentAt = s.Now()
	s.deliveries = append(s.deliveries, *rec)
	id := rec.ID
	onRollback(ctx, func() {
		for i := range s.deliveries {
			if s.deliveries[i].ID == id {
				s.deliveries = append(s.deliveries[:i], s.deliveries[i+1:]...)
				return
			}
		}
	})
	return nil
}

// ListByAlert 最新的在前
func (s *Store) ListByAlert(ctx context.Context, alertID int64, limit int) ([]model.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DeliveryRecord
	for i := len(s.deliveries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.deliveries[i].AlertID == alertID {
			out = append(out, s.deliveries[i])
		}
	}
	return out, nil
}

func (s *Store) Deliveries() []model.DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.DeliveryRecord(nil), s.deliveries...)
}

// ---- outbox ----

// Record 与 outbox.Repository.Record 相同：随事务提交或回滚
func (s *Store) Record(ctx context.Context, aggregateType string, aggregateID *int64, routingKey string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := Event{
		ID:            s.id(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       payload,
	}
	s.events = append(s.events, ev)
	onRollback(ctx, func() {
		for i := range s.events {
			if s.events[i].ID == ev.ID {
				s.events = append(s.events[:i], s.events[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
