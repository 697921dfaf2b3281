package model

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks store failures that affect every record, not just one.
	ErrUnavailable = errors.New("store unavailable")
)

type AlertType string

const (
	AlertLowStock AlertType = "low_stock"
	AlertExpiring AlertType = "expiring"
	AlertExpired  AlertType = "expired"
	AlertReorder  AlertType = "reorder"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertLowStock, AlertExpiring, AlertExpired, AlertReorder:
		return true
	}
	return false
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityWarning  Priority = "warning"
	PriorityInfo     Priority = "info"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityWarning, PriorityInfo:
		return true
	}
	return false
}

type Status string

const (
	StatusNew      Status = "new"
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Open reports whether an alert in this status still blocks a new alert
// for the same medicine and type.
func (s Status) Open() bool {
	return s != StatusResolved
}

// MedicineSnapshot is the read-only inventory view the engine classifies.
// A nil ExpiryDate means the item never expires.
type MedicineSnapshot struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Unit         string     `json:"unit"`
	Stock        int        `json:"stock"`
	MinimumStock int        `json:"minimum_stock"`
	ReorderLevel *int       `json:"reorder_level,omitempty"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	BatchNumber  string     `json:"batch_number,omitempty"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Supplier     string     `json:"supplier,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AlertDetails is the structured payload stored alongside an alert.
type AlertDetails struct {
	CurrentStock      int        `json:"current_stock"`
	MinimumStock      int        `json:"minimum_stock"`
	ReorderLevel      *int       `json:"reorder_level,omitempty"`
	Unit              string     `json:"unit,omitempty"`
	BatchNumber       string     `json:"batch_number,omitempty"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty"`
	DaysUntilExpiry   *int       `json:"days_until_expiry,omitempty"`
	SuggestedOrder    int        `json:"suggested_order,omitempty"`
	DaysUntilStockout *int       `json:"days_until_stockout,omitempty"`
}

// AlertFact is a candidate alert that has not been persisted yet.
type AlertFact struct {
	Title      string       `json:"title"`
	Message    string       `json:"message"`
	Type       AlertType    `json:"type"`
	Priority   Priority     `json:"priority"`
	MedicineID string       `json:"medicine_id"`
	Details    AlertDetails `json:"details"`
}

type Alert struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Message    string       `json:"message"`
	Type       AlertType    `json:"type"`
	Priority   Priority     `json:"priority"`
	MedicineID string       `json:"medicine_id"`
	Details    AlertDetails `json:"details"`
	Status     Status       `json:"status"`
	Read       bool         `json:"read"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// NewAlert builds the initial persisted form of a fact.
func NewAlert(id string, fact AlertFact, now time.Time) Alert {
	return Alert{
		ID:         id,
		Title:      fact.Title,
		Message:    fact.Message,
		Type:       fact.Type,
		Priority:   fact.Priority,
		MedicineID: fact.MedicineID,
		Details:    fact.Details,
		Status:     StatusNew,
		Read:       false,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AlertFilter selects alerts. Zero-valued fields do not filter.
type AlertFilter struct {
	MedicineID string    `json:"medicine_id,omitempty"`
	Type       AlertType `json:"type,omitempty"`
	Priority   Priority  `json:"priority,omitempty"`
	Status     Status    `json:"status,omitempty"`
	OpenOnly   bool      `json:"open_only,omitempty"`
	Read       *bool     `json:"read,omitempty"`
	Limit      int       `json:"limit,omitempty"`
}

func (f AlertFilter) Match(a Alert) bool {
	if f.MedicineID != "" && a.MedicineID != f.MedicineID {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Priority != "" && a.Priority != f.Priority {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.OpenOnly && !a.Status.Open() {
		return false
	}
	if f.Read != nil && a.Read != *f.Read {
		return false
	}
	return true
}

type ScanKind string

const (
	ScanFull           ScanKind = "full"
	ScanLowStock       ScanKind = "low_stock"
	ScanImminentExpiry ScanKind = "imminent_expiry"
)

// ScanSummary is returned by every scan entry point, including on failure.
type ScanSummary struct {
	Kind       ScanKind  `json:"kind"`
	Created    int       `json:"created"`
	Considered int       `json:"considered"`
	Candidates int       `json:"candidates"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
	Skipped    bool      `json:"skipped,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s ScanSummary) Duration() time.Duration {
	if s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
