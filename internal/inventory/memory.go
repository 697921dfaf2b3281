package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"medalert/internal/model"
)

const day = 24 * time.Hour

// ExpiryWindow returns the half-open bounds (after, until] for medicines
// expiring between fromDays and toDays from now.
func ExpiryWindow(now time.Time, fromDays, toDays int) (after, until time.Time) {
	return now.Add(time.Duration(fromDays) * day), now.Add(time.Duration(toDays) * day)
}

// InWindow reports whether expiry falls in the (after, until] bounds.
func InWindow(expiry, after, until time.Time) bool {
	return expiry.After(after) && !expiry.After(until)
}

// Memory is an in-process snapshot feed used when no database is configured.
type Memory struct {
	mu    sync.RWMutex
	items map[string]model.MedicineSnapshot
}

func NewMemory(items ...model.MedicineSnapshot) *Memory {
	m := &Memory{items: make(map[string]model.MedicineSnapshot, len(items))}
	for _, it := range items {
		m.items[it.ID] = it
	}
	return m
}

func (m *Memory) UpsertMedicine(_ context.Context, s model.MedicineSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	m.items[s.ID] = s
	return nil
}

func (m *Memory) GetMedicine(_ context.Context, id string) (model.MedicineSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.items[id]
	if !ok {
		return model.MedicineSnapshot{}, model.ErrNotFound
	}
	return s, nil
}

// ListAll returns snapshots ordered by id.
func (m *Memory) ListAll(_ context.Context) ([]model.MedicineSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.MedicineSnapshot, 0, len(m.items))
	for _, s := range m.items {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CountByExpiryWindow(_ context.Context, now time.Time, fromDays, toDays int) (int, error) {
	after, until := ExpiryWindow(now, fromDays, toDays)
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.items {
		if s.ExpiryDate != nil && InWindow(*s.ExpiryDate, after, until) {
			n++
		}
	}
	return n, nil
}
