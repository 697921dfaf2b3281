package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"medalert/internal/model"
)

// Store keeps alerts in memory. When it grows past its limit the oldest
// resolved alerts are dropped; open alerts are never evicted because they
// carry the dedup state.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int
	now   func() time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 10000
	}
	return &Store{limit: limit, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Create(_ context.Context, fact model.AlertFact) (model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(fact), nil
}

func (s *Store) CreateIfAbsent(_ context.Context, fact model.AlertFact) (model.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findOpen(fact.MedicineID, fact.Type); i >= 0 {
		return s.buf[i], false, nil
	}
	return s.insert(fact), true, nil
}

func (s *Store) insert(fact model.AlertFact) model.Alert {
	alert := model.NewAlert(uuid.NewString(), fact, s.now())
	s.buf = append(s.buf, alert)
	if len(s.buf) > s.limit {
		s.evictResolved()
	}
	return alert
}

func (s *Store) evictResolved() {
	for i, a := range s.buf {
		if !a.Status.Open() {
			s.buf = append(s.buf[:i], s.buf[i+1:]...)
			return
		}
	}
}

func (s *Store) FindOpen(_ context.Context, medicineID string, alertType model.AlertType) (*model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.findOpen(medicineID, alertType)
	if i < 0 {
		return nil, nil
	}
	a := s.buf[i]
	return &a, nil
}

func (s *Store) findOpen(medicineID string, alertType model.AlertType) int {
	for i := len(s.buf) - 1; i >= 0; i-- {
		a := s.buf[i]
		if a.MedicineID == medicineID && a.Type == alertType && a.Status.Open() {
			return i
		}
	}
	return -1
}

func (s *Store) Get(_ context.Context, id string) (model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.buf {
		if a.ID == id {
			return a, nil
		}
	}
	return model.Alert{}, model.ErrNotFound
}

// List returns matching alerts, newest first.
func (s *Store) List(_ context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if filter.Match(s.buf[i]) {
			out = append(out, s.buf[i])
		}
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkRead(_ context.Context, id string) (model.Alert, error) {
	return s.update(id, func(a *model.Alert) { a.Read = true })
}

func (s *Store) Resolve(_ context.Context, id string) (model.Alert, error) {
	return s.update(id, func(a *model.Alert) { a.Status = model.StatusResolved })
}

func (s *Store) update(id string, fn func(*model.Alert)) (model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		if s.buf[i].ID == id {
			fn(&s.buf[i])
			s.buf[i].UpdatedAt = s.now()
			return s.buf[i], nil
		}
	}
	return model.Alert{}, model.ErrNotFound
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		if s.buf[i].ID == id {
			s.buf = append(s.buf[:i], s.buf[i+1:]...)
			return nil
		}
	}
	return model.ErrNotFound
}

// CountOpen counts unresolved alerts per priority.
func (s *Store) CountOpen(_ context.Context) (map[model.Priority]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Priority]int)
	for _, a := range s.buf {
		if a.Status.Open() {
			out[a.Priority]++
		}
	}
	return out, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

// Clear drops every alert, open or resolved.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	return nil
}

