package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"pricealert/internal/application/port"
	"pricealert/internal/domain/model"

	"github.com/shopspring/decimal"
)

// recorder 记录跨 fake 的调用顺序
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// fakeStore 内存版 AlertRepository
type fakeStore struct {
	rec *recorder

	mu        sync.Mutex
	nextID    int64
	users     map[string]*model.User
	alerts    map[int64]*model.Alert
	events    []*model.AlertEvent
	appendErr error
	updateErr error
}

var _ port.AlertRepository = (*fakeStore)(nil)

func newFakeStore(rec *recorder) *fakeStore {
	return &fakeStore{
		rec:    rec,
		users:  make(map[string]*model.User),
		alerts: make(map[int64]*model.Alert),
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) chatOf(userID int64) string {
	for _, u := range s.users {
		if u.ID == userID {
			return u.ChatID
		}
	}
	return ""
}

// seed 直接插入一个活跃 alert
func (s *fakeStore) seed(chatID, symbol, move, anchor string) *model.Alert {
	u, _ := s.FindOrCreateUser(context.Background(), chatID, "")
	a, _ := s.CreateAlert(context.Background(), u.ID, model.MovementPayload{
		Symbol:      symbol,
		MoveAmount:  decimal.RequireFromString(move),
		AnchorPrice: decimal.RequireFromString(anchor),
	})
	return a
}

func (s *fakeStore) setErrors(appendErr, updateErr error) {
	s.mu.Lock()
	s.appendErr, s.updateErr = appendErr, updateErr
	s.mu.Unlock()
}

func (s *fakeStore) alert(id int64) *model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts[id].Clone()
}

func (s *fakeStore) eventsOf(kind model.EventKind) []*model.AlertEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.AlertEvent
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (s *fakeStore) FindOrCreateUser(_ context.Context, chatID, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[chatID]; ok {
		if username != "" {
			u.Username = username
		}
		c := *u
		return &c, nil
	}
	u := &model.User{ID: s.id(), ChatID: chatID, Username: username, Active: true, CreatedAt: time.Now()}
	s.users[chatID] = u
	c := *u
	return &c, nil
}

func (s *fakeStore) CreateAlert(_ context.Context, userID int64, payload model.MovementPayload) (*model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &model.Alert{
		ID:        s.id(),
		UserID:    userID,
		ChatID:    s.chatOf(userID),
		Type:      model.AlertTypeMovement,
		Payload:   payload,
		Active:    true,
		CreatedAt: time.Now(),
	}
	s.alerts[a.ID] = a
	return a.Clone(), nil
}

func (s *fakeStore) GetAlert(_ context.Context, alertID int64) (*model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return nil, model.ErrAlertNotFound
	}
	return a.Clone(), nil
}

func (s *fakeStore) LoadActive(context.Context) ([]*model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Alert
	for _, a := range s.alerts {
		if a.Active {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) ListActiveByUser(ctx context.Context, userID int64) ([]*model.Alert, error) {
	all, _ := s.LoadActive(ctx)
	var out []*model.Alert
	for _, a := range all {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdatePayload(_ context.Context, alertID int64, payload model.MovementPayload) error {
	s.rec.add("update_payload")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	a, ok := s.alerts[alertID]
	if !ok || !a.Active {
		return model.ErrAlertNotFound
	}
	a.Payload = payload
	return nil
}

func (s *fakeStore) Deactivate(_ context.Context, alertID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok || !a.Active {
		return model.ErrAlertNotFound
	}
	a.Active = false
	return nil
}

func (s *fakeStore) DeactivateAllForUser(ctx context.Context, userID int64) ([]*model.Alert, error) {
	list, _ := s.ListActiveByUser(ctx, userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range list {
		s.alerts[a.ID].Active = false
		a.Active = false
	}
	return list, nil
}

func (s *fakeStore) CountActive(ctx context.Context) (int, error) {
	all, _ := s.LoadActive(ctx)
	return len(all), nil
}

func (s *fakeStore) AppendEvent(_ context.Context, ev *model.AlertEvent) error {
	s.rec.add("append_event:" + string(ev.Kind))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	ev.ID = s.id()
	ev.CreatedAt = time.Now()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeStore) ListEvents(_ context.Context, alertID int64) ([]*model.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.AlertEvent
	for _, ev := range s.events {
		if ev.AlertID == alertID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

type sentMsg struct {
	chatID string
	text   string
}

// fakeNotifier 同步记录入队的通知
type fakeNotifier struct {
	rec *recorder

	mu   sync.Mutex
	msgs []sentMsg
}

func (n *fakeNotifier) Enqueue(chatID, text string) {
	n.rec.add("notify")
	n.mu.Lock()
	n.msgs = append(n.msgs, sentMsg{chatID, text})
	n.mu.Unlock()
}

func (n *fakeNotifier) list() []sentMsg {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMsg(nil), n.msgs...)
}

type fakeTriggerSink struct {
	mu     sync.Mutex
	events []*model.AlertEvent
	err    error
}

func (f *fakeTriggerSink) PublishTrigger(_ context.Context, ev *model.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func px(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tick(symbol, price, source string) model.PriceUpdate {
	return model.PriceUpdate{Symbol: symbol, Price: px(price), Source: source, Timestamp: time.Now()}
}
