package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"medalert/internal/config"
	"medalert/internal/model"
)

var ErrInvalidSnapshot = errors.New("invalid medicine snapshot")

// Rule selects which classification rules run.
type Rule uint8

const (
	RuleStock Rule = 1 << iota
	RuleReorder
	RuleExpiry

	AllRules = RuleStock | RuleReorder | RuleExpiry
)

func (r Rule) Has(other Rule) bool {
	return r&other != 0
}

// Reason pins down which branch of a rule fired. Titles and messages are
// derived from it.
type Reason string

const (
	ReasonOutOfStock     Reason = "out_of_stock"
	ReasonCriticalLow    Reason = "critical_low_stock"
	ReasonLowStock       Reason = "low_stock"
	ReasonReorder        Reason = "reorder_level"
	ReasonExpired        Reason = "expired"
	ReasonExpiryCritical Reason = "expiry_critical"
	ReasonExpiryWarning  Reason = "expiry_warning"
	ReasonExpiryUpcoming Reason = "expiry_upcoming"
)

// Decision is the string-free outcome of one rule for one medicine.
type Decision struct {
	Type              model.AlertType
	Priority          model.Priority
	Reason            Reason
	CurrentStock      int
	MinimumStock      int
	ReorderLevel      *int
	DaysUntilExpiry   *int
	SuggestedOrder    int
	DaysUntilStockout *int
}

func ValidateSnapshot(s model.MedicineSnapshot) error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("%w: missing id", ErrInvalidSnapshot)
	case s.Stock < 0:
		return fmt.Errorf("%w: %s has negative stock %d", ErrInvalidSnapshot, s.ID, s.Stock)
	case s.MinimumStock < 0:
		return fmt.Errorf("%w: %s has negative minimum stock %d", ErrInvalidSnapshot, s.ID, s.MinimumStock)
	case s.ReorderLevel != nil && *s.ReorderLevel < 0:
		return fmt.Errorf("%w: %s has negative reorder level %d", ErrInvalidSnapshot, s.ID, *s.ReorderLevel)
	}
	return nil
}

// Classify evaluates the selected rules independently. A medicine yields at
// most one decision per alert type.
func Classify(s model.MedicineSnapshot, t config.Thresholds, now time.Time, rules Rule) []Decision {
	var out []Decision
	if rules.Has(RuleStock) {
		if d, ok := classifyStock(s); ok {
			out = append(out, d)
		}
	}
	if rules.Has(RuleReorder) {
		if d, ok := classifyReorder(s); ok {
			out = append(out, d)
		}
	}
	if rules.Has(RuleExpiry) {
		if d, ok := classifyExpiry(s, t.Expiry, now); ok {
			out = append(out, d)
		}
	}
	return out
}

func classifyStock(s model.MedicineSnapshot) (Decision, bool) {
	if s.Stock > s.MinimumStock {
		return Decision{}, false
	}
	d := Decision{
		Type:              model.AlertLowStock,
		Priority:          model.PriorityWarning,
		Reason:            ReasonLowStock,
		CurrentStock:      s.Stock,
		MinimumStock:      s.MinimumStock,
		SuggestedOrder:    SuggestedOrder(s.Stock, s.MinimumStock),
		DaysUntilStockout: DaysUntilStockout(s.Stock, s.MinimumStock),
	}
	switch {
	case s.Stock == 0:
		d.Priority = model.PriorityCritical
		d.Reason = ReasonOutOfStock
	case 2*s.Stock < s.MinimumStock:
		d.Priority = model.PriorityCritical
		d.Reason = ReasonCriticalLow
	}
	return d, true
}

func classifyReorder(s model.MedicineSnapshot) (Decision, bool) {
	if s.ReorderLevel == nil {
		return Decision{}, false
	}
	level := *s.ReorderLevel
	if s.Stock <= 0 || s.Stock > level {
		return Decision{}, false
	}
	return Decision{
		Type:           model.AlertReorder,
		Priority:       model.PriorityWarning,
		Reason:         ReasonReorder,
		CurrentStock:   s.Stock,
		MinimumStock:   s.MinimumStock,
		ReorderLevel:   &level,
		SuggestedOrder: SuggestedOrder(s.Stock, s.MinimumStock),
	}, true
}

func classifyExpiry(s model.MedicineSnapshot, t config.ExpiryThresholds, now time.Time) (Decision, bool) {
	if s.ExpiryDate == nil {
		return Decision{}, false
	}
	days := DaysUntilExpiry(*s.ExpiryDate, now)
	d := Decision{
		Type:            model.AlertExpiring,
		CurrentStock:    s.Stock,
		MinimumStock:    s.MinimumStock,
		DaysUntilExpiry: &days,
	}
	switch {
	case days <= 0:
		d.Type = model.AlertExpired
		d.Priority = model.PriorityCritical
		d.Reason = ReasonExpired
	case days <= t.Critical:
		d.Priority = model.PriorityCritical
		d.Reason = ReasonExpiryCritical
	case days <= t.Warning:
		d.Priority = model.PriorityWarning
		d.Reason = ReasonExpiryWarning
	case days <= t.Upcoming:
		d.Priority = model.PriorityInfo
		d.Reason = ReasonExpiryUpcoming
	default:
		return Decision{}, false
	}
	return d, true
}

// DaysUntilExpiry rounds the remaining time up to whole days, so anything
// expiring later today counts as one day and anything already past is <= 0.
func DaysUntilExpiry(expiry, now time.Time) int {
	return int(math.Ceil(expiry.Sub(now).Hours() / 24))
}

// SuggestedOrder is ceil(max(0, 2*minimum-stock) * 1.2).
func SuggestedOrder(stock, minimum int) int {
	gap := 2*minimum - stock
	if gap <= 0 {
		return 0
	}
	return (gap*6 + 4) / 5
}

// DaysUntilStockout assumes a tenth of the minimum is used per day.
// It is nil when the minimum is zero.
func DaysUntilStockout(stock, minimum int) *int {
	if minimum <= 0 {
		return nil
	}
	days := (stock * 10) / minimum
	return &days
}
