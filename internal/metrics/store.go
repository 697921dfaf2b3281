package metrics

import (
	"sync"

	"medalert/internal/model"
)

// ScanRecord is the most recent outcome of one scan kind.
type ScanRecord struct {
	Summary model.ScanSummary `json:"summary"`
	Error   string            `json:"error,omitempty"`
	Runs    int               `json:"runs"`
}

// Store keeps the last summary per scan kind for the status endpoint.
type Store struct {
	mu     sync.RWMutex
	byKind map[model.ScanKind]ScanRecord
	alerts int
}

func NewStore() *Store {
	return &Store{byKind: make(map[model.ScanKind]ScanRecord)}
}

func (s *Store) Update(summary model.ScanSummary, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.byKind[summary.Kind]
	rec.Summary = summary
	rec.Error = ""
	if err != nil {
		rec.Error = err.Error()
	}
	rec.Runs++
	s.byKind[summary.Kind] = rec
}

func (s *Store) Get(kind model.ScanKind) (ScanRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byKind[kind]
	return rec, ok
}

func (s *Store) GetAll() map[model.ScanKind]ScanRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.ScanKind]ScanRecord, len(s.byKind))
	for k, v := range s.byKind {
		out[k] = v
	}
	return out
}

// AlertsCreated is the number of alerts created since start.
func (s *Store) AlertsCreated() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alerts
}

func (s *Store) addAlert() {
	s.mu.Lock()
	s.alerts++
	s.mu.Unlock()
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKind = make(map[model.ScanKind]ScanRecord)
	s.alerts = 0
}
