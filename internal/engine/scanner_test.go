package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medalert/internal/alerts"
	"medalert/internal/config"
	"medalert/internal/inventory"
	"medalert/internal/model"
)

func newScannerForTest(inv Inventory, store AlertStore, opts ...Option) *Scanner {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewScanner(inv, store, config.StaticThresholds(config.DefaultThresholds()), opts...)
}

func lowStockBelowReorder() model.MedicineSnapshot {
	s := medicine("c", 8, 10)
	s.ReorderLevel = intPtr(15)
	s.ExpiryDate = daysFromNow(200)
	return s
}

// createOnly exposes only the AlertStore methods, forcing the
// check-then-create path.
type createOnly struct {
	store *alerts.Store
}

func (c createOnly) Create(ctx context.Context, fact model.AlertFact) (model.Alert, error) {
	return c.store.Create(ctx, fact)
}

func (c createOnly) FindOpen(ctx context.Context, medicineID string, t model.AlertType) (*model.Alert, error) {
	return c.store.FindOpen(ctx, medicineID, t)
}

type failingCreate struct {
	createOnly
	failFor string
	err     error
}

func newFailingCreate(failFor string, err error) *failingCreate {
	return &failingCreate{createOnly: createOnly{alerts.NewStore(100)}, failFor: failFor, err: err}
}

func (f *failingCreate) Create(ctx context.Context, fact model.AlertFact) (model.Alert, error) {
	if fact.MedicineID == f.failFor {
		return model.Alert{}, f.err
	}
	return f.createOnly.Create(ctx, fact)
}

type brokenInventory struct{ err error }

func (b brokenInventory) ListAll(context.Context) ([]model.MedicineSnapshot, error) {
	return nil, b.err
}

func (b brokenInventory) CountByExpiryWindow(context.Context, time.Time, int, int) (int, error) {
	return 0, b.err
}

type countingInventory struct {
	*inventory.Memory
	mu    sync.Mutex
	lists int
}

func (c *countingInventory) ListAll(ctx context.Context) ([]model.MedicineSnapshot, error) {
	c.mu.Lock()
	c.lists++
	c.mu.Unlock()
	return c.Memory.ListAll(ctx)
}

type recordingPublisher struct {
	published []model.Alert
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, a model.Alert) error {
	p.published = append(p.published, a)
	return p.err
}

type recordingRecorder struct {
	created   int
	summaries []model.ScanSummary
	errs      []error
}

func (r *recordingRecorder) AlertCreated(model.Alert) { r.created++ }

func (r *recordingRecorder) ScanFinished(s model.ScanSummary, err error) {
	r.summaries = append(r.summaries, s)
	r.errs = append(r.errs, err)
}

func TestFullScanTwiceCreatesNothingNew(t *testing.T) {
	store := alerts.NewStore(100)
	sc := newScannerForTest(inventory.NewMemory(lowStockBelowReorder()), store)
	ctx := context.Background()

	first, err := sc.RunFullScan(ctx)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if first.Created != 2 || first.Considered != 1 {
		t.Fatalf("first scan summary: %+v", first)
	}
	second, err := sc.RunFullScan(ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if second.Created != 0 || second.Duplicates != 2 {
		t.Fatalf("second scan summary: %+v", second)
	}
	if store.Len() != 2 {
		t.Fatalf("store has %d alerts, want 2", store.Len())
	}
}

func TestCheckThenCreatePathDedupes(t *testing.T) {
	store := createOnly{alerts.NewStore(100)}
	sc := newScannerForTest(inventory.NewMemory(lowStockBelowReorder()), store)
	if _, ok := AlertStore(store).(AtomicAlertStore); ok {
		t.Fatalf("wrapper must not expose CreateIfAbsent")
	}
	ctx := context.Background()
	if s, _ := sc.RunFullScan(ctx); s.Created != 2 {
		t.Fatalf("first scan created %d", s.Created)
	}
	if s, _ := sc.RunFullScan(ctx); s.Created != 0 {
		t.Fatalf("second scan created %d", s.Created)
	}
}

func TestResolvedAlertAllowsRecreation(t *testing.T) {
	store := alerts.NewStore(100)
	sc := newScannerForTest(inventory.NewMemory(medicine("a", 0, 10)), store)
	ctx := context.Background()

	if s, _ := sc.RunFullScan(ctx); s.Created != 1 {
		t.Fatalf("initial scan created %d", s.Created)
	}
	open, err := store.FindOpen(ctx, "a", model.AlertLowStock)
	if err != nil || open == nil {
		t.Fatalf("expected open alert: %v", err)
	}
	if _, err := store.Resolve(ctx, open.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	s, err := sc.RunFullScan(ctx)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if s.Created != 1 {
		t.Fatalf("rescan created %d, want 1", s.Created)
	}
	fresh, _ := store.FindOpen(ctx, "a", model.AlertLowStock)
	if fresh == nil || fresh.ID == open.ID || fresh.Status != model.StatusNew || fresh.Read {
		t.Fatalf("expected a new open alert, got %+v", fresh)
	}
}

func TestOutOfStockExpiredPersistsTwoAlerts(t *testing.T) {
	s := medicine("e", 0, 10)
	s.ExpiryDate = daysFromNow(-1)
	store := alerts.NewStore(100)
	sc := newScannerForTest(inventory.NewMemory(s), store)
	ctx := context.Background()
	if sum, _ := sc.RunFullScan(ctx); sum.Created != 2 {
		t.Fatalf("created %d, want 2", sum.Created)
	}
	for _, typ := range []model.AlertType{model.AlertLowStock, model.AlertExpired} {
		a, _ := store.FindOpen(ctx, "e", typ)
		if a == nil || a.Priority != model.PriorityCritical {
			t.Fatalf("%s: got %+v", typ, a)
		}
	}
}

func TestEngineNeverResolvesAlerts(t *testing.T) {
	inv := inventory.NewMemory(medicine("a", 0, 10))
	store := alerts.NewStore(100)
	sc := newScannerForTest(inv, store)
	ctx := context.Background()
	if _, err := sc.RunFullScan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	_ = inv.UpsertMedicine(ctx, medicine("a", 50, 10))
	if _, err := sc.RunFullScan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	open, _ := store.FindOpen(ctx, "a", model.AlertLowStock)
	if open == nil {
		t.Fatalf("alert must stay open after stock recovers")
	}
}

func TestPartialFailureContinues(t *testing.T) {
	store := newFailingCreate("bad", errors.New("write failed"))
	inv := inventory.NewMemory(
		medicine("bad", 0, 10),
		medicine("good", 0, 10),
		model.MedicineSnapshot{ID: "neg", Stock: -5},
	)
	sc := newScannerForTest(inv, store)
	s, err := sc.RunFullScan(context.Background())
	if err != nil {
		t.Fatalf("partial failure must not fail the scan: %v", err)
	}
	if s.Considered != 3 || s.Created != 1 || s.Failed != 2 {
		t.Fatalf("summary: %+v", s)
	}
}

func TestUnavailableStoreAbortsScan(t *testing.T) {
	store := newFailingCreate("a", model.ErrUnavailable)
	inv := inventory.NewMemory(medicine("a", 0, 10), medicine("b", 0, 10))
	sc := newScannerForTest(inv, store)
	s, err := sc.RunFullScan(context.Background())
	if !errors.Is(err, model.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if s.Created != 0 || s.Considered != 1 {
		t.Fatalf("scan should stop at the first medicine: %+v", s)
	}
}

func TestInventoryFailureReturnsError(t *testing.T) {
	rec := &recordingRecorder{}
	sc := newScannerForTest(brokenInventory{err: errors.New("db down")}, alerts.NewStore(10), WithRecorder(rec))
	s, err := sc.RunFullScan(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if s.Kind != model.ScanFull || s.Created != 0 {
		t.Fatalf("summary: %+v", s)
	}
	if len(rec.errs) != 1 || rec.errs[0] == nil {
		t.Fatalf("recorder not told about failure: %+v", rec.errs)
	}
}

func TestLowStockOnlyIgnoresExpiry(t *testing.T) {
	s := medicine("m", 0, 10)
	s.ExpiryDate = daysFromNow(2)
	s.ReorderLevel = intPtr(5)
	store := alerts.NewStore(100)
	sc := newScannerForTest(inventory.NewMemory(s), store)
	sum, err := sc.CheckLowStockOnly(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if sum.Kind != model.ScanLowStock || sum.Created != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	list, _ := store.List(context.Background(), model.AlertFilter{})
	if len(list) != 1 || list[0].Type != model.AlertLowStock {
		t.Fatalf("alerts: %+v", list)
	}
}

func TestImminentExpiryShortCircuits(t *testing.T) {
	quiet := medicine("q", 100, 10)
	quiet.ExpiryDate = daysFromNow(20)
	inv := &countingInventory{Memory: inventory.NewMemory(quiet)}
	store := alerts.NewStore(100)
	sc := newScannerForTest(inv, store)
	ctx := context.Background()

	s, err := sc.CheckImminentExpiryOnly(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !s.Skipped || s.Created != 0 || inv.lists != 0 {
		t.Fatalf("expected skipped scan without listing, got %+v lists=%d", s, inv.lists)
	}

	urgent := medicine("u", 0, 10)
	urgent.ExpiryDate = daysFromNow(3)
	_ = inv.UpsertMedicine(ctx, urgent)
	s, err = sc.CheckImminentExpiryOnly(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	// the warning-tier item is classified too once the scan runs
	if s.Skipped || s.Created != 2 || inv.lists != 1 {
		t.Fatalf("summary: %+v lists=%d", s, inv.lists)
	}
	list, _ := store.List(ctx, model.AlertFilter{Type: model.AlertLowStock})
	if len(list) != 0 {
		t.Fatalf("expiry check must not create stock alerts")
	}
}

func TestPublisherAndRecorderSeeCreatedAlerts(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	rec := &recordingRecorder{}
	sc := newScannerForTest(inventory.NewMemory(lowStockBelowReorder()), alerts.NewStore(100), WithPublisher(pub), WithRecorder(rec))
	s, err := sc.RunFullScan(context.Background())
	if err != nil {
		t.Fatalf("publish failure must not fail the scan: %v", err)
	}
	if s.Created != 2 || len(pub.published) != 2 || rec.created != 2 {
		t.Fatalf("summary %+v published %d recorded %d", s, len(pub.published), rec.created)
	}
	if len(rec.summaries) != 1 || rec.summaries[0].Kind != model.ScanFull {
		t.Fatalf("recorder summaries: %+v", rec.summaries)
	}
}

func TestThresholdsReadPerScan(t *testing.T) {
	s := medicine("m", 100, 10)
	s.ExpiryDate = daysFromNow(10)
	th := &switchingThresholds{t: config.DefaultThresholds()}
	store := alerts.NewStore(100)
	sc := NewScanner(inventory.NewMemory(s), store, th, WithClock(func() time.Time { return testNow }))
	ctx := context.Background()
	if _, err := sc.RunFullScan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	a, _ := store.FindOpen(ctx, "m", model.AlertExpiring)
	if a == nil || a.Priority != model.PriorityWarning {
		t.Fatalf("got %+v", a)
	}
	if th.loads != 1 {
		t.Fatalf("loads = %d", th.loads)
	}
	if _, err := sc.RunFullScan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if th.loads != 2 {
		t.Fatalf("thresholds must be re-read per scan, loads = %d", th.loads)
	}
}

type switchingThresholds struct {
	t     config.Thresholds
	loads int
}

func (s *switchingThresholds) Load() config.Thresholds {
	s.loads++
	return s.t
}

func TestImminentExpirySkipsAlreadyExpired(t *testing.T) {
	gone := medicine("x", 40, 10)
	gone.ExpiryDate = daysFromNow(-2)
	inv := &countingInventory{Memory: inventory.NewMemory(gone)}
	store := alerts.NewStore(100)
	sc := newScannerForTest(inv, store)
	ctx := context.Background()

	s, err := sc.CheckImminentExpiryOnly(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !s.Skipped || inv.lists != 0 || store.Len() != 0 {
		t.Fatalf("expired-only inventory should skip: %+v lists=%d", s, inv.lists)
	}
	if full, _ := sc.RunFullScan(ctx); full.Created != 1 {
		t.Fatalf("full scan created %d, want the expired alert", full.Created)
	}
}
