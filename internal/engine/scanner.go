package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"medalert/internal/config"
	"medalert/internal/model"
)

// Inventory is the medicine snapshot feed.
type Inventory interface {
	ListAll(ctx context.Context) ([]model.MedicineSnapshot, error)
	// CountByExpiryWindow counts medicines expiring after now+fromDays and
	// no later than now+toDays.
	CountByExpiryWindow(ctx context.Context, now time.Time, fromDays, toDays int) (int, error)
}

type AlertStore interface {
	Create(ctx context.Context, fact model.AlertFact) (model.Alert, error)
	// FindOpen returns nil, nil when no unresolved alert exists for the key.
	FindOpen(ctx context.Context, medicineID string, alertType model.AlertType) (*model.Alert, error)
}

// AtomicAlertStore inserts only when no open alert exists for the fact's
// dedup key, in one step. The bool reports whether a row was created.
type AtomicAlertStore interface {
	CreateIfAbsent(ctx context.Context, fact model.AlertFact) (model.Alert, bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, alert model.Alert) error
}

type Recorder interface {
	AlertCreated(alert model.Alert)
	ScanFinished(summary model.ScanSummary, err error)
}

type Scanner struct {
	inventory  Inventory
	alerts     AlertStore
	dedupe     *Deduplicator
	thresholds config.ThresholdProvider
	logger     *slog.Logger
	now        func() time.Time
	publisher  Publisher
	recorder   Recorder
}

type Option func(*Scanner)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

func WithPublisher(p Publisher) Option {
	return func(s *Scanner) { s.publisher = p }
}

func WithRecorder(r Recorder) Option {
	return func(s *Scanner) { s.recorder = r }
}

func NewScanner(inventory Inventory, alerts AlertStore, thresholds config.ThresholdProvider, opts ...Option) *Scanner {
	s := &Scanner{
		inventory:  inventory,
		alerts:     alerts,
		dedupe:     NewDeduplicator(alerts),
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.thresholds == nil {
		s.thresholds = config.StaticThresholds(config.DefaultThresholds())
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunFullScan classifies every medicine against every rule.
func (s *Scanner) RunFullScan(ctx context.Context) (model.ScanSummary, error) {
	return s.scan(ctx, model.ScanFull, AllRules)
}

func (s *Scanner) CheckLowStockOnly(ctx context.Context) (model.ScanSummary, error) {
	return s.scan(ctx, model.ScanLowStock, RuleStock)
}

// CheckImminentExpiryOnly runs the expiry rule, but only after a count query
// shows at least one medicine inside the critical window (now, now+critical
// days]. Medicines that have already expired are not counted, so a tick that
// finds only expired stock is skipped and leaves them to the full and
// regular scans.
func (s *Scanner) CheckImminentExpiryOnly(ctx context.Context) (model.ScanSummary, error) {
	now := s.now()
	t := s.thresholds.Load()
	n, err := s.inventory.CountByExpiryWindow(ctx, now, 0, t.Expiry.Critical)
	if err != nil {
		summary := model.ScanSummary{Kind: model.ScanImminentExpiry, StartedAt: now, FinishedAt: s.now()}
		err = fmt.Errorf("count expiring medicines: %w", err)
		s.finish(summary, err)
		return summary, err
	}
	if n == 0 {
		summary := model.ScanSummary{Kind: model.ScanImminentExpiry, Skipped: true, StartedAt: now, FinishedAt: s.now()}
		s.finish(summary, nil)
		return summary, nil
	}
	return s.scan(ctx, model.ScanImminentExpiry, RuleExpiry)
}

func (s *Scanner) scan(ctx context.Context, kind model.ScanKind, rules Rule) (model.ScanSummary, error) {
	now := s.now()
	summary := model.ScanSummary{Kind: kind, StartedAt: now}
	thresholds := s.thresholds.Load()

	snapshots, err := s.inventory.ListAll(ctx)
	if err != nil {
		summary.FinishedAt = s.now()
		err = fmt.Errorf("list medicines: %w", err)
		s.finish(summary, err)
		return summary, err
	}

	for _, snap := range snapshots {
		if err := ctx.Err(); err != nil {
			summary.FinishedAt = s.now()
			s.finish(summary, err)
			return summary, err
		}
		summary.Considered++
		if err := ValidateSnapshot(snap); err != nil {
			summary.Failed++
			s.warn("skipping medicine", "medicine_id", snap.ID, "err", err)
			continue
		}
		for _, fact := range Facts(snap, thresholds, now, rules) {
			summary.Candidates++
			created, err := s.persist(ctx, fact)
			if err != nil {
				if errors.Is(err, model.ErrUnavailable) || ctx.Err() != nil {
					summary.FinishedAt = s.now()
					err = fmt.Errorf("persist alert: %w", err)
					s.finish(summary, err)
					return summary, err
				}
				summary.Failed++
				s.warn("alert not persisted",
					"medicine_id", fact.MedicineID,
					"alert_type", fact.Type,
					"err", err,
				)
				continue
			}
			if created == nil {
				summary.Duplicates++
				continue
			}
			summary.Created++
			s.created(ctx, *created)
		}
	}

	summary.FinishedAt = s.now()
	s.finish(summary, nil)
	return summary, nil
}

// persist returns nil when an open alert already covers the fact.
func (s *Scanner) persist(ctx context.Context, fact model.AlertFact) (*model.Alert, error) {
	exists, err := s.dedupe.Exists(ctx, fact.MedicineID, fact.Type)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if exists {
		return nil, nil
	}
	if atomic, ok := s.alerts.(AtomicAlertStore); ok {
		alert, created, err := atomic.CreateIfAbsent(ctx, fact)
		if err != nil || !created {
			return nil, err
		}
		return &alert, nil
	}
	alert, err := s.alerts.Create(ctx, fact)
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (s *Scanner) created(ctx context.Context, alert model.Alert) {
	if s.logger != nil {
		s.logger.Info("alert created",
			"alert_id", alert.ID,
			"medicine_id", alert.MedicineID,
			"alert_type", alert.Type,
			"priority", alert.Priority,
		)
	}
	if s.recorder != nil {
		s.recorder.AlertCreated(alert)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, alert); err != nil {
			s.warn("alert publish failed", "alert_id", alert.ID, "err", err)
		}
	}
}

func (s *Scanner) finish(summary model.ScanSummary, err error) {
	if s.recorder != nil {
		s.recorder.ScanFinished(summary, err)
	}
	if s.logger == nil {
		return
	}
	attrs := []any{
		"kind", summary.Kind,
		"created", summary.Created,
		"considered", summary.Considered,
		"duplicates", summary.Duplicates,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration().String(),
	}
	if err != nil {
		s.logger.Error("scan aborted", append(attrs, "err", err)...)
		return
	}
	s.logger.Info("scan complete", attrs...)
}

func (s *Scanner) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
