package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/outbox"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/storage"
	"github.com/stretchr/testify/mock"
)

// memStore keeps appointments in memory. A single mutex stands in for the per-day
// advisory lock, and a failed callback restores the snapshot taken before it ran.
type memStore struct {
	mu     sync.Mutex
	appts  map[string]model.Appointment
	events []outbox.Event
	// insertErr, when set, is returned by every Insert.
	insertErr error
}

func newMemStore(appts ...model.Appointment) *memStore {
	s := &memStore{appts: map[string]model.Appointment{}}
	for _, a := range appts {
		s.appts[a.ID] = a
	}
	return s
}

func (s *memStore) WithinDay(ctx context.Context, date time.Time, fn func(context.Context, storage.DayTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]model.Appointment, len(s.appts))
	for k, v := range s.appts {
		snapshot[k] = v
	}
	events := len(s.events)

	if err := fn(ctx, &memTx{store: s, date: date}); err != nil {
		s.appts = snapshot
		s.events = s.events[:events]
		return err
	}
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *memStore) List(_ context.Context, f storage.ListFilter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Appointment
	for _, a := range s.appts {
		if f.PatientID != "" && a.PatientID != f.PatientID {
			continue
		}
		if !f.Date.IsZero() && !sameDate(a.Date, f.Date) {
			continue
		}
		if !f.From.IsZero() && dateKey(a.Date) < dateKey(f.From) {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, a.Status) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := dateKey(out[i].Date), dateKey(out[j].Date)
		if ki == kj {
			ki, kj = itoa4(out[i].StartMinute), itoa4(out[j].StartMinute)
		}
		if f.Ascending {
			return ki < kj
		}
		return ki > kj
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memStore) Summary(_ context.Context, today time.Time) (model.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum model.Summary
	for _, a := range s.appts {
		switch a.Status {
		case model.StatusPending:
			sum.Pending++
		case model.StatusConfirmed:
			sum.Confirmed++
		}
		if a.Status.Active() {
			if sameDate(a.Date, today) {
				sum.Today++
			}
			if dateKey(a.Date) >= dateKey(today) {
				sum.Upcoming++
			}
		}
	}
	return sum, nil
}

type memTx struct {
	store *memStore
	date  time.Time
}

func (t *memTx) ActiveOn(context.Context) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range t.store.appts {
		if a.Status.Active() && sameDate(a.Date, t.date) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *memTx) GetForUpdate(_ context.Context, id string) (model.Appointment, error) {
	a, ok := t.store.appts[id]
	if !ok || !sameDate(a.Date, t.date) {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (t *memTx) Insert(_ context.Context, appt *model.Appointment) error {
	if t.store.insertErr != nil {
		return t.store.insertErr
	}
	t.store.appts[appt.ID] = *appt
	return nil
}

func (t *memTx) UpdateStatus(_ context.Context, id string, status model.Status) (time.Time, error) {
	a, ok := t.store.appts[id]
	if !ok {
		return time.Time{}, storage.ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	t.store.appts[id] = a
	return a.UpdatedAt, nil
}

func (t *memTx) Delete(_ context.Context, id string) error {
	if _, ok := t.store.appts[id]; !ok {
		return storage.ErrNotFound
	}
	delete(t.store.appts, id)
	return nil
}

func (t *memTx) Emit(_ context.Context, evt outbox.Event) error {
	t.store.events = append(t.store.events, evt)
	return nil
}

func sameDate(a, b time.Time) bool {
	return dateKey(a) == dateKey(b)
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func itoa4(n int) string {
	b := []byte("0000")
	for i := 3; i >= 0 && n > 0; i-- {
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b)
}

func hasStatus(list []model.Status, s model.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type mockPatients struct {
	mock.Mock
}

func (m *mockPatients) ByUserID(ctx context.Context, userID string) (model.Patient, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.Patient), args.Error(1)
}

func (m *mockPatients) Create(ctx context.Context, p *model.Patient) error {
	args := m.Called(ctx, p)
	if args.Error(0) == nil {
		p.ID = "pat-new"
	}
	return args.Error(0)
}
