package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"medalert/internal/alerts"
	"medalert/internal/config"
	"medalert/internal/engine"
	"medalert/internal/inventory"
	"medalert/internal/metrics"
	"medalert/internal/model"
)

func newTestServer(t *testing.T) (*httptest.Server, *alerts.Store) {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	exp := now.Add(-24 * time.Hour)
	inv := inventory.NewMemory(
		model.MedicineSnapshot{ID: "m1", Name: "Insulin", Unit: "vials", Stock: 0, MinimumStock: 10},
		model.MedicineSnapshot{ID: "m2", Name: "Aspirin", Unit: "strips", Stock: 50, MinimumStock: 10, ExpiryDate: &exp},
	)
	store := alerts.NewStore(100)
	ms := metrics.NewStore()
	thresholds := config.StaticThresholds(config.DefaultThresholds())
	sc := engine.NewScanner(inv, store, thresholds,
		engine.WithClock(func() time.Time { return now }),
		engine.WithRecorder(metrics.NewRecorder(ms)),
	)
	srv := NewServer(Deps{Thresholds: thresholds, Alerts: store, Scanner: sc, Metrics: ms, Version: "test"})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func do(t *testing.T, method, url string, out any) int {
	t.Helper()
	return doBody(t, method, url, "", out)
}

func doBody(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestScanThenManageAlerts(t *testing.T) {
	ts, _ := newTestServer(t)

	var summary model.ScanSummary
	if code := do(t, http.MethodPost, ts.URL+"/scan/full", &summary); code != http.StatusOK {
		t.Fatalf("scan status = %d", code)
	}
	if summary.Created != 2 || summary.Kind != model.ScanFull {
		t.Fatalf("summary: %+v", summary)
	}

	var list struct {
		Alerts []model.Alert `json:"alerts"`
		Count  int           `json:"count"`
	}
	if code := do(t, http.MethodGet, ts.URL+"/alerts?type=expired", &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if list.Count != 1 || list.Alerts[0].MedicineID != "m2" {
		t.Fatalf("expired list: %+v", list)
	}
	id := list.Alerts[0].ID

	var alert model.Alert
	if code := do(t, http.MethodPost, ts.URL+"/alerts/"+id+"/read", &alert); code != http.StatusOK || !alert.Read {
		t.Fatalf("mark read: %d %+v", code, alert)
	}
	if code := do(t, http.MethodPost, ts.URL+"/alerts/"+id+"/resolve", &alert); code != http.StatusOK || alert.Status != model.StatusResolved {
		t.Fatalf("resolve: %d %+v", code, alert)
	}

	var summaryResp struct {
		Open int `json:"open"`
	}
	do(t, http.MethodGet, ts.URL+"/alerts/summary", &summaryResp)
	if summaryResp.Open != 1 {
		t.Fatalf("open after resolve = %d", summaryResp.Open)
	}

	if code := do(t, http.MethodDelete, ts.URL+"/alerts/"+id, nil); code != http.StatusNoContent {
		t.Fatalf("delete status = %d", code)
	}
	var errResp map[string]any
	if code := do(t, http.MethodGet, ts.URL+"/alerts/"+id, &errResp); code != http.StatusNotFound {
		t.Fatalf("get deleted status = %d", code)
	}
}

func TestListRejectsBadFilters(t *testing.T) {
	ts, _ := newTestServer(t)
	for _, q := range []string{"type=bogus", "priority=urgent", "status=closed", "read=maybe", "limit=-1"} {
		var body map[string]any
		if code := do(t, http.MethodGet, ts.URL+"/alerts?"+q, &body); code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", q, code)
		}
	}
}

func TestStatusAndSettings(t *testing.T) {
	ts, _ := newTestServer(t)
	do(t, http.MethodPost, ts.URL+"/scan/low-stock", nil)

	var status statusResponse
	if code := do(t, http.MethodGet, ts.URL+"/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status.Status != "ok" || status.Version != "test" {
		t.Fatalf("status: %+v", status)
	}
	if rec, ok := status.Scans[model.ScanLowStock]; !ok || rec.Summary.Created != 1 {
		t.Fatalf("low stock record: %+v", status.Scans)
	}

	var settings config.Thresholds
	do(t, http.MethodGet, ts.URL+"/settings", &settings)
	if settings != config.DefaultThresholds() {
		t.Fatalf("settings: %+v", settings)
	}
}

type brokenRunner struct{}

func (brokenRunner) RunFullScan(context.Context) (model.ScanSummary, error) {
	return model.ScanSummary{Kind: model.ScanFull, Considered: 3}, errors.New("inventory offline")
}

func (brokenRunner) CheckLowStockOnly(context.Context) (model.ScanSummary, error) {
	return model.ScanSummary{Kind: model.ScanLowStock}, nil
}

func (brokenRunner) CheckImminentExpiryOnly(context.Context) (model.ScanSummary, error) {
	return model.ScanSummary{Kind: model.ScanImminentExpiry, Skipped: true}, nil
}

func TestScanFailureReturnsPartialSummary(t *testing.T) {
	srv := NewServer(Deps{Alerts: alerts.NewStore(10), Scanner: brokenRunner{}})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var body struct {
		Summary model.ScanSummary `json:"summary"`
		Error   string            `json:"error"`
	}
	if code := do(t, http.MethodPost, ts.URL+"/scan/full", &body); code != http.StatusBadGateway {
		t.Fatalf("status = %d", code)
	}
	if body.Summary.Considered != 3 || body.Error != "inventory offline" {
		t.Fatalf("body: %+v", body)
	}
	var skipped model.ScanSummary
	if code := do(t, http.MethodPost, ts.URL+"/scan/expiry", &skipped); code != http.StatusOK || !skipped.Skipped {
		t.Fatalf("expiry: %d %+v", code, skipped)
	}
}

func TestConfigUpdatePersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := config.Save(path, config.DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	notified := make(chan *config.Config, 1)
	srv := NewServer(Deps{
		Config:        mgr,
		Alerts:        alerts.NewStore(10),
		Scanner:       brokenRunner{},
		ConfigUpdated: func(c *config.Config) { notified <- c },
	})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var got config.Config
	if code := doBody(t, http.MethodPut, ts.URL+"/config", `{"log_level":"debug"}`, &got); code != http.StatusOK {
		t.Fatalf("update status = %d", code)
	}
	if got.LogLevel != "debug" || got.LogFormat != config.DefaultConfig().LogFormat {
		t.Fatalf("response: %+v", got)
	}
	select {
	case c := <-notified:
		if c.LogLevel != "debug" {
			t.Fatalf("callback config: %+v", c)
		}
	default:
		t.Fatalf("callback not run")
	}
	onDisk, err := config.Load(path)
	if err != nil || onDisk.LogLevel != "debug" {
		t.Fatalf("persisted: %+v %v", onDisk, err)
	}

	var errResp map[string]any
	if code := doBody(t, http.MethodPut, ts.URL+"/config", `{"log_format":"xml"}`, &errResp); code != http.StatusBadRequest {
		t.Fatalf("invalid update status = %d", code)
	}
	if mgr.Get().LogFormat == "xml" {
		t.Fatalf("invalid config was applied")
	}
	if code := doBody(t, http.MethodPut, ts.URL+"/config", `{not json`, &errResp); code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", code)
	}

	var current config.Config
	if code := do(t, http.MethodGet, ts.URL+"/config", &current); code != http.StatusOK || current.LogLevel != "debug" {
		t.Fatalf("get config: %d %+v", code, current)
	}
}

func TestConfigRoutesWithoutManager(t *testing.T) {
	ts, _ := newTestServer(t)
	var errResp map[string]any
	if code := doBody(t, http.MethodPut, ts.URL+"/config", `{}`, &errResp); code != http.StatusNotFound {
		t.Fatalf("status = %d", code)
	}
}

func TestAdminClearTargets(t *testing.T) {
	ts, store := newTestServer(t)
	do(t, http.MethodPost, ts.URL+"/scan/full", nil)
	if store.Len() == 0 {
		t.Fatalf("scan created no alerts")
	}

	var rec metrics.ScanRecord
	if code := do(t, http.MethodGet, ts.URL+"/scans/full", &rec); code != http.StatusOK || rec.Runs != 1 {
		t.Fatalf("scan record: %d %+v", code, rec)
	}

	var body map[string]any
	if code := doBody(t, http.MethodPost, ts.URL+"/admin/clear", `{"target":"alerts"}`, &body); code != http.StatusOK {
		t.Fatalf("clear alerts status = %d", code)
	}
	if store.Len() != 0 {
		t.Fatalf("alerts left: %d", store.Len())
	}
	if code := do(t, http.MethodGet, ts.URL+"/scans/full", &rec); code != http.StatusOK {
		t.Fatalf("metrics cleared with alerts: %d", code)
	}

	if code := doBody(t, http.MethodPost, ts.URL+"/admin/clear", `{"target":"metrics"}`, &body); code != http.StatusOK {
		t.Fatalf("clear metrics status = %d", code)
	}
	if code := do(t, http.MethodGet, ts.URL+"/scans/full", &body); code != http.StatusNotFound {
		t.Fatalf("record after clear status = %d", code)
	}

	if code := doBody(t, http.MethodPost, ts.URL+"/admin/clear", `{"target":"everything"}`, &body); code != http.StatusBadRequest {
		t.Fatalf("unknown target status = %d", code)
	}
	do(t, http.MethodPost, ts.URL+"/scan/full", nil)
	if code := do(t, http.MethodPost, ts.URL+"/admin/clear", &body); code != http.StatusOK || store.Len() != 0 {
		t.Fatalf("clear all: %d, %d alerts", code, store.Len())
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestStatusReportsStorageHealth(t *testing.T) {
	for _, tc := range []struct {
		name    string
		err     error
		status  string
		healthy bool
	}{
		{"reachable", nil, "ok", true},
		{"unreachable", errors.New("connection refused"), "degraded", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewServer(Deps{Alerts: alerts.NewStore(10), Scanner: brokenRunner{}, Storage: stubPinger{err: tc.err}})
			ts := httptest.NewServer(srv.Router())
			defer ts.Close()

			var status statusResponse
			if code := do(t, http.MethodGet, ts.URL+"/status", &status); code != http.StatusOK {
				t.Fatalf("status code = %d", code)
			}
			if status.Status != tc.status || status.Storage.Healthy == nil || *status.Storage.Healthy != tc.healthy {
				t.Fatalf("status: %+v storage: %+v", status.Status, status.Storage)
			}
			if !tc.healthy && status.Storage.Error != "connection refused" {
				t.Fatalf("storage error = %q", status.Storage.Error)
			}
		})
	}
}
