package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"medalert/internal/model"
)

// StorageLayout is a fixed-width UTC layout, so stored values compare
// correctly as strings.
const StorageLayout = "2006-01-02T15:04:05.000000000Z"

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	StorageLayout,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(StorageLayout)
}

// DecodeTime converts a scanned column value into a time. Drivers hand back
// time.Time, string or []byte depending on column type; nil means NULL.
func DecodeTime(v any) (time.Time, bool, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return t.UTC(), true, nil
	case string:
		ts, err := ParseTimestamp(t, time.UTC)
		if err != nil {
			return time.Time{}, false, err
		}
		return ts.UTC(), true, nil
	case []byte:
		return DecodeTime(string(t))
	case int64:
		return time.Unix(t, 0).UTC(), true, nil
	}
	return time.Time{}, false, fmt.Errorf("unsupported time value %T", v)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

// InventoryEvent is a stock or catalogue change published by the inventory
// or billing services. Absent fields leave the stored value untouched.
type InventoryEvent struct {
	MedicineID   string `json:"medicineId"`
	Name         string `json:"name,omitempty"`
	Unit         string `json:"unit,omitempty"`
	Stock        *int   `json:"stock,omitempty"`
	MinimumStock *int   `json:"minimumStock,omitempty"`
	ReorderLevel *int   `json:"reorderLevel,omitempty"`
	ExpiryDate   string `json:"expiryDate,omitempty"`
	BatchNumber  string `json:"batchNumber,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Supplier     string `json:"supplier,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// Apply merges the event into base and returns the new snapshot.
func Apply(base model.MedicineSnapshot, ev InventoryEvent, now time.Time) (model.MedicineSnapshot, error) {
	id := strings.TrimSpace(ev.MedicineID)
	if id == "" {
		return model.MedicineSnapshot{}, errors.New("event has no medicineId")
	}
	out := base
	out.ID = id
	if v := strings.TrimSpace(ev.Name); v != "" {
		out.Name = v
	}
	if v := strings.TrimSpace(ev.Unit); v != "" {
		out.Unit = v
	}
	if ev.Stock != nil {
		if *ev.Stock < 0 {
			return model.MedicineSnapshot{}, fmt.Errorf("negative stock %d for %s", *ev.Stock, id)
		}
		out.Stock = *ev.Stock
	}
	if ev.MinimumStock != nil {
		out.MinimumStock = *ev.MinimumStock
	}
	if ev.ReorderLevel != nil {
		level := *ev.ReorderLevel
		out.ReorderLevel = &level
	}
	if ev.ExpiryDate != "" {
		exp, err := ParseTimestamp(ev.ExpiryDate, time.UTC)
		if err != nil {
			return model.MedicineSnapshot{}, fmt.Errorf("parse expiryDate: %w", err)
		}
		exp = exp.UTC()
		out.ExpiryDate = &exp
	}
	if v := strings.TrimSpace(ev.BatchNumber); v != "" {
		out.BatchNumber = v
	}
	if v := strings.TrimSpace(ev.Manufacturer); v != "" {
		out.Manufacturer = v
	}
	if v := strings.TrimSpace(ev.Supplier); v != "" {
		out.Supplier = v
	}
	out.UpdatedAt = now.UTC()
	if ev.Timestamp != "" {
		if ts, err := ParseTimestamp(ev.Timestamp, time.UTC); err == nil {
			out.UpdatedAt = ts.UTC()
		}
	}
	return out, nil
}
