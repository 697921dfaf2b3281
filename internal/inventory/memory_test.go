package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"medalert/internal/model"
)

func TestCountByExpiryWindowBounds(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := now.Add(d); return &v }
	m := NewMemory(
		model.MedicineSnapshot{ID: "edge", ExpiryDate: at(7 * day)},
		model.MedicineSnapshot{ID: "now", ExpiryDate: at(0)},
		model.MedicineSnapshot{ID: "past", ExpiryDate: at(-day)},
		model.MedicineSnapshot{ID: "later", ExpiryDate: at(7*day + time.Second)},
		model.MedicineSnapshot{ID: "never"},
	)
	n, err := m.CountByExpiryWindow(context.Background(), now, 0, 7)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v; want 1", n, err)
	}
}

func TestUpsertGetList(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, id := range []string{"c", "a", "b"} {
		if err := m.UpsertMedicine(ctx, model.MedicineSnapshot{ID: id, Stock: 1}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	got, err := m.GetMedicine(ctx, "a")
	if err != nil || got.UpdatedAt.IsZero() {
		t.Fatalf("get: %+v %v", got, err)
	}
	list, _ := m.ListAll(ctx)
	if len(list) != 3 || list[0].ID != "a" || list[2].ID != "c" {
		t.Fatalf("list order: %+v", list)
	}
	if _, err := m.GetMedicine(ctx, "zzz"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
}
