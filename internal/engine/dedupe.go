package engine

import (
	"context"

	"medalert/internal/model"
)

// Deduplicator answers whether an open alert already covers a dedup key.
// The check and the following insert are not atomic; two overlapping scans
// can both miss and insert. Stores implementing AtomicAlertStore close that
// window on the write side.
type Deduplicator struct {
	store AlertStore
}

func NewDeduplicator(store AlertStore) *Deduplicator {
	return &Deduplicator{store: store}
}

func (d *Deduplicator) Exists(ctx context.Context, medicineID string, alertType model.AlertType) (bool, error) {
	open, err := d.store.FindOpen(ctx, medicineID, alertType)
	if err != nil {
		return false, err
	}
	return open != nil, nil
}
