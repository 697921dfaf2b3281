package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"medalert/internal/model"
	"medalert/internal/normalize"
)

// Snapshots is the writable side of the inventory feed.
type Snapshots interface {
	GetMedicine(ctx context.Context, id string) (model.MedicineSnapshot, error)
	UpsertMedicine(ctx context.Context, s model.MedicineSnapshot) error
}

// Checker runs the narrow checks after a stock change.
type Checker interface {
	CheckLowStockOnly(ctx context.Context) (model.ScanSummary, error)
	CheckImminentExpiryOnly(ctx context.Context) (model.ScanSummary, error)
}

const triggerKey = "inventory-change"

// Handler applies inventory events to the snapshot store and triggers the
// narrow checks at most once per cooldown window.
type Handler struct {
	snapshots Snapshots
	checker   Checker
	cooldown  *Cooldown
	window    time.Duration
	logger    *slog.Logger
}

func NewHandler(snapshots Snapshots, checker Checker, window time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		snapshots: snapshots,
		checker:   checker,
		cooldown:  NewCooldown(),
		window:    window,
		logger:    logger,
	}
}

// Handle decodes one event payload. The returned bool reports whether the
// narrow checks ran.
func (h *Handler) Handle(ctx context.Context, payload []byte) (bool, error) {
	var ev normalize.InventoryEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return false, fmt.Errorf("decode inventory event: %w", err)
	}
	base, err := h.snapshots.GetMedicine(ctx, ev.MedicineID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return false, fmt.Errorf("load medicine %s: %w", ev.MedicineID, err)
	}
	snap, err := normalize.Apply(base, ev, time.Now())
	if err != nil {
		return false, err
	}
	if err := h.snapshots.UpsertMedicine(ctx, snap); err != nil {
		return false, fmt.Errorf("store medicine %s: %w", snap.ID, err)
	}
	if !h.cooldown.Allow(triggerKey, h.window) {
		if h.logger != nil {
			h.logger.Debug("inventory change trigger suppressed", "medicine_id", snap.ID)
		}
		return false, nil
	}
	if _, err := h.checker.CheckLowStockOnly(ctx); err != nil {
		return true, fmt.Errorf("low stock check: %w", err)
	}
	if _, err := h.checker.CheckImminentExpiryOnly(ctx); err != nil {
		return true, fmt.Errorf("expiry check: %w", err)
	}
	return true, nil
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
