package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"medalert/internal/config"
	"medalert/internal/metrics"
	"medalert/internal/model"
	"medalert/internal/scheduler"
)

// AlertManager is the alert administration surface shared by the memory and
// SQL stores.
type AlertManager interface {
	Get(ctx context.Context, id string) (model.Alert, error)
	List(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error)
	MarkRead(ctx context.Context, id string) (model.Alert, error)
	Resolve(ctx context.Context, id string) (model.Alert, error)
	Delete(ctx context.Context, id string) error
	CountOpen(ctx context.Context) (map[model.Priority]int, error)
	Clear(ctx context.Context) error
}

// Pinger reports database reachability for /status.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ScheduleInfo reports the armed cadences; nil when the scheduler is off.
type ScheduleInfo interface {
	Entries() []scheduler.EntryInfo
}

type Deps struct {
	Config     *config.Manager
	Thresholds config.ThresholdProvider
	Alerts     AlertManager
	Scanner    scheduler.Runner
	Metrics    *metrics.Store
	Schedule   ScheduleInfo
	Storage    Pinger
	Logger     *slog.Logger
	Version    string

	// ConfigUpdated runs after PUT /config persisted a new document.
	ConfigUpdated func(*config.Config)
}

type Server struct {
	Deps
}

type statusResponse struct {
	Status        string                                `json:"status"`
	Time          string                                `json:"time"`
	Version       string                                `json:"version"`
	ConfigPath    string                                `json:"config_path,omitempty"`
	SettingsPath  string                                `json:"settings_path,omitempty"`
	Storage       storageStatus                         `json:"storage"`
	Kafka         bool                                  `json:"kafka"`
	Schedule      []scheduler.EntryInfo                 `json:"schedule"`
	Scans         map[model.ScanKind]metrics.ScanRecord `json:"scans"`
	AlertsCreated int                                   `json:"alerts_created"`
	OpenAlerts    map[model.Priority]int                `json:"open_alerts,omitempty"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver,omitempty"`
	Healthy *bool  `json:"healthy,omitempty"`
	Error   string `json:"error,omitempty"`
}

func NewServer(deps Deps) *Server {
	return &Server{Deps: deps}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Get("/settings", s.handleSettings)
	r.Get("/config", s.handleGetConfig)
	r.Put("/config", s.handleUpdateConfig)
	r.Post("/admin/clear", s.handleClear)
	r.Get("/scans/{kind}", s.handleScanRecord)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", s.handleListAlerts)
		r.Get("/summary", s.handleSummary)
		r.Get("/{id}", s.handleGetAlert)
		r.Post("/{id}/read", s.handleMarkRead)
		r.Post("/{id}/resolve", s.handleResolve)
		r.Delete("/{id}", s.handleDelete)
	})

	r.Route("/scan", func(r chi.Router) {
		r.Post("/full", s.scanHandler(s.Scanner.RunFullScan))
		r.Post("/low-stock", s.scanHandler(s.Scanner.CheckLowStockOnly))
		r.Post("/expiry", s.scanHandler(s.Scanner.CheckImminentExpiryOnly))
	})
	return r
}

func Start(ctx context.Context, addr string, server *Server, logger *slog.Logger) *http.Server {
	if logger != nil {
		logger.Info("api enabled", "addr", addr)
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:   "ok",
		Time:     time.Now().UTC().Format(time.RFC3339Nano),
		Version:  s.Version,
		Schedule: []scheduler.EntryInfo{},
		Scans:    map[model.ScanKind]metrics.ScanRecord{},
	}
	if s.Config != nil {
		cfg := s.Config.Get()
		resp.ConfigPath = s.Config.Path()
		resp.SettingsPath = cfg.Settings.Path
		resp.Storage = storageStatus{Enabled: cfg.Storage.Enabled}
		if cfg.Storage.Enabled {
			resp.Storage.Driver = cfg.Storage.Driver
		}
		resp.Kafka = cfg.Kafka.Enabled
	}
	if s.Storage != nil {
		resp.Storage.Enabled = true
		healthy := true
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := s.Storage.Ping(ctx); err != nil {
			healthy = false
			resp.Storage.Error = err.Error()
			resp.Status = "degraded"
		}
		cancel()
		resp.Storage.Healthy = &healthy
	}
	if s.Schedule != nil {
		resp.Schedule = s.Schedule.Entries()
	}
	if s.Metrics != nil {
		resp.Scans = s.Metrics.GetAll()
		resp.AlertsCreated = s.Metrics.AlertsCreated()
	}
	if counts, err := s.Alerts.CountOpen(r.Context()); err == nil {
		resp.OpenAlerts = counts
	} else {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	t := config.DefaultThresholds()
	if s.Thresholds != nil {
		t = s.Thresholds.Load()
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.Config == nil {
		writeError(w, http.StatusNotFound, errors.New("no config file"))
		return
	}
	writeJSON(w, http.StatusOK, s.Config.Get())
}

// handleUpdateConfig overlays the request body on the running config, so
// omitted fields keep their current values.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if s.Config == nil {
		writeError(w, http.StatusNotFound, errors.New("no config file"))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	next := *s.Config.Get()
	if err := json.Unmarshal(body, &next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := config.Validate(&next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Config.Update(&next); err != nil {
		if s.Logger != nil {
			s.Logger.Error("config update failed", "err", err)
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.ConfigUpdated != nil {
		s.ConfigUpdated(&next)
	}
	writeJSON(w, http.StatusOK, &next)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	clearAlerts := target == "all" || target == "alerts"
	clearMetrics := target == "all" || target == "metrics"
	if !clearAlerts && !clearMetrics {
		writeError(w, http.StatusBadRequest, errors.New("unknown target "+strconv.Quote(req.Target)))
		return
	}
	if clearAlerts {
		if err := s.Alerts.Clear(r.Context()); err != nil {
			s.storeError(w, err)
			return
		}
	}
	if clearMetrics && s.Metrics != nil {
		s.Metrics.Clear()
	}
	if s.Logger != nil {
		s.Logger.Info("cleared", "target", target)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "target": target})
}

func (s *Server) handleScanRecord(w http.ResponseWriter, r *http.Request) {
	kind := model.ScanKind(chi.URLParam(r, "kind"))
	if s.Metrics == nil {
		writeError(w, http.StatusNotFound, errors.New("no scan records"))
		return
	}
	rec, ok := s.Metrics.Get(kind)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no run recorded for "+strconv.Quote(string(kind))))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := s.Alerts.List(r.Context(), filter)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if list == nil {
		list = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := s.Alerts.CountOpen(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"open":        total,
		"by_priority": counts,
	})
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.Alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	alert, err := s.Alerts.MarkRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	alert, err := s.Alerts.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Alerts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type scanFunc func(ctx context.Context) (model.ScanSummary, error)

// scanHandler runs a scan inline. A scan that aborts still reports the
// partial summary.
func (s *Server) scanHandler(run scanFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := run(r.Context())
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"summary": summary,
				"error":   err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, model.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		if s.Logger != nil {
			s.Logger.Error("alert store error", "err", err)
		}
		writeError(w, http.StatusInternalServerError, err)
	}
}

func parseFilter(r *http.Request) (model.AlertFilter, error) {
	q := r.URL.Query()
	var f model.AlertFilter
	f.MedicineID = strings.TrimSpace(q.Get("medicine_id"))
	if v := q.Get("type"); v != "" {
		f.Type = model.AlertType(v)
		if !f.Type.Valid() {
			return f, errors.New("unknown alert type " + strconv.Quote(v))
		}
	}
	if v := q.Get("priority"); v != "" {
		f.Priority = model.Priority(v)
		if !f.Priority.Valid() {
			return f, errors.New("unknown priority " + strconv.Quote(v))
		}
	}
	switch v := q.Get("status"); v {
	case "":
	case "open":
		f.OpenOnly = true
	case string(model.StatusNew), string(model.StatusPending), string(model.StatusResolved):
		f.Status = model.Status(v)
	default:
		return f, errors.New("unknown status " + strconv.Quote(v))
	}
	if v := q.Get("read"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("read must be true or false")
		}
		f.Read = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Logger == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
