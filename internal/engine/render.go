package engine

import (
	"fmt"
	"time"

	"medalert/internal/config"
	"medalert/internal/model"
)

var titles = map[Reason]string{
	ReasonOutOfStock:     "Out of Stock",
	ReasonCriticalLow:    "Critical Low Stock",
	ReasonLowStock:       "Low Stock Alert",
	ReasonReorder:        "Reorder Required",
	ReasonExpired:        "Medicine Expired",
	ReasonExpiryCritical: "Critical Expiry Alert",
	ReasonExpiryWarning:  "Expiring Soon",
	ReasonExpiryUpcoming: "Expiry Notice",
}

// Render turns a decision into a persistable fact with human readable text.
func Render(d Decision, s model.MedicineSnapshot) model.AlertFact {
	return model.AlertFact{
		Title:      titles[d.Reason],
		Message:    message(d, s),
		Type:       d.Type,
		Priority:   d.Priority,
		MedicineID: s.ID,
		Details: model.AlertDetails{
			CurrentStock:      d.CurrentStock,
			MinimumStock:      d.MinimumStock,
			ReorderLevel:      d.ReorderLevel,
			Unit:              s.Unit,
			BatchNumber:       s.BatchNumber,
			ExpiryDate:        s.ExpiryDate,
			DaysUntilExpiry:   d.DaysUntilExpiry,
			SuggestedOrder:    d.SuggestedOrder,
			DaysUntilStockout: d.DaysUntilStockout,
		},
	}
}

// Facts classifies and renders in one step.
func Facts(s model.MedicineSnapshot, t config.Thresholds, now time.Time, rules Rule) []model.AlertFact {
	decisions := Classify(s, t, now, rules)
	if len(decisions) == 0 {
		return nil
	}
	out := make([]model.AlertFact, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, Render(d, s))
	}
	return out
}

func message(d Decision, s model.MedicineSnapshot) string {
	unit := s.Unit
	if unit == "" {
		unit = "units"
	}
	name := s.Name
	if name == "" {
		name = s.ID
	}
	switch d.Reason {
	case ReasonOutOfStock:
		return fmt.Sprintf("%s is out of stock (0 %s). Minimum required: %d %s.", name, unit, d.MinimumStock, unit)
	case ReasonCriticalLow:
		return fmt.Sprintf("%s is critically low: %d %s in stock, minimum required %d %s.", name, d.CurrentStock, unit, d.MinimumStock, unit)
	case ReasonLowStock:
		return fmt.Sprintf("%s is running low: %d %s in stock, minimum required %d %s.", name, d.CurrentStock, unit, d.MinimumStock, unit)
	case ReasonReorder:
		level := 0
		if d.ReorderLevel != nil {
			level = *d.ReorderLevel
		}
		return fmt.Sprintf("%s has reached its reorder level: %d %s in stock, reorder level %d %s. Suggested order: %d %s.",
			name, d.CurrentStock, unit, level, unit, d.SuggestedOrder, unit)
	}

	days := 0
	if d.DaysUntilExpiry != nil {
		days = *d.DaysUntilExpiry
	}
	label := name
	if s.BatchNumber != "" {
		label = fmt.Sprintf("%s (batch %s)", name, s.BatchNumber)
	}
	switch d.Reason {
	case ReasonExpired:
		if days == 0 {
			return fmt.Sprintf("%s expired today.", label)
		}
		return fmt.Sprintf("%s expired %s ago.", label, dayCount(-days))
	case ReasonExpiryCritical, ReasonExpiryWarning, ReasonExpiryUpcoming:
		return fmt.Sprintf("%s expires in %s.", label, dayCount(days))
	}
	return ""
}

func dayCount(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
