package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"medalert/internal/config"
	"medalert/internal/model"
)

// Runner is the scan surface driven by the cadences.
type Runner interface {
	RunFullScan(ctx context.Context) (model.ScanSummary, error)
	CheckLowStockOnly(ctx context.Context) (model.ScanSummary, error)
	CheckImminentExpiryOnly(ctx context.Context) (model.ScanSummary, error)
}

type Cadence string

const (
	CadenceQuick   Cadence = "quick"
	CadenceRegular Cadence = "regular"
	CadenceDeep    Cadence = "deep"
)

type Intervals struct {
	Quick   time.Duration
	Regular time.Duration
	Deep    time.Duration
}

func IntervalsFrom(c config.CheckIntervals) Intervals {
	return Intervals{Quick: c.Quick(), Regular: c.Regular(), Deep: c.Deep()}
}

type EntryInfo struct {
	Cadence  Cadence   `json:"cadence"`
	Interval string    `json:"interval"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
}

// Scheduler runs the three cadences on independent timers. Ticks of
// different cadences may overlap; open-alert dedup keeps that harmless.
type Scheduler struct {
	runner    Runner
	intervals Intervals
	logger    *slog.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	entries  map[Cadence]cron.EntryID
	cancel   context.CancelFunc
	started  bool
	stopOnce sync.Once
}

func New(runner Runner, intervals Intervals, logger *slog.Logger) *Scheduler {
	l := cronLogger{logger: logger}
	return &Scheduler{
		runner:    runner,
		intervals: intervals,
		logger:    logger,
		cron:      cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l))),
		entries:   make(map[Cadence]cron.EntryID),
	}
}

// Start runs a warm-up full scan, then arms the cadences. The scheduler
// stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	for _, d := range []time.Duration{s.intervals.Quick, s.intervals.Regular, s.intervals.Deep} {
		if d <= 0 {
			return errors.New("scheduler intervals must be positive")
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	s.run(ctx, "warmup", s.runner.RunFullScan)

	s.entries[CadenceQuick] = s.cron.Schedule(cron.Every(s.intervals.Quick), s.job(ctx, CadenceQuick,
		s.runner.CheckLowStockOnly,
		s.runner.CheckImminentExpiryOnly,
	))
	s.entries[CadenceRegular] = s.cron.Schedule(cron.Every(s.intervals.Regular), s.job(ctx, CadenceRegular,
		s.runner.RunFullScan,
		s.runner.CheckLowStockOnly,
		s.runner.CheckImminentExpiryOnly,
	))
	s.entries[CadenceDeep] = s.cron.Schedule(cron.Every(s.intervals.Deep), s.job(ctx, CadenceDeep,
		s.runner.RunFullScan,
	))
	s.cron.Start()
	if s.logger != nil {
		s.logger.Info("scheduler started",
			"quick", s.intervals.Quick.String(),
			"regular", s.intervals.Regular.String(),
			"deep", s.intervals.Deep.String(),
		)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop disarms every cadence and waits for running ticks to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		<-s.cron.Stop().Done()
		if s.logger != nil {
			s.logger.Info("scheduler stopped")
		}
	})
}

func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	intervals := map[Cadence]time.Duration{
		CadenceQuick:   s.intervals.Quick,
		CadenceRegular: s.intervals.Regular,
		CadenceDeep:    s.intervals.Deep,
	}
	out := make([]EntryInfo, 0, len(s.entries))
	for _, c := range []Cadence{CadenceQuick, CadenceRegular, CadenceDeep} {
		id, ok := s.entries[c]
		if !ok {
			continue
		}
		e := s.cron.Entry(id)
		out = append(out, EntryInfo{
			Cadence:  c,
			Interval: intervals[c].String(),
			Next:     e.Next,
			Prev:     e.Prev,
		})
	}
	return out
}

type scanFunc func(ctx context.Context) (model.ScanSummary, error)

func (s *Scheduler) job(ctx context.Context, cadence Cadence, steps ...scanFunc) cron.Job {
	return cron.FuncJob(func() {
		for _, step := range steps {
			if ctx.Err() != nil {
				return
			}
			s.run(ctx, string(cadence), step)
		}
	})
}

// run executes one scan. A panicking scan is logged and swallowed so the
// warm-up in Start and the remaining steps of a tick still proceed.
func (s *Scheduler) run(ctx context.Context, cadence string, step scanFunc) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error("scheduled scan panicked", "cadence", cadence, "panic", r)
		}
	}()
	summary, err := step(ctx)
	if s.logger == nil {
		return
	}
	if err != nil {
		s.logger.Error("scheduled scan failed", "cadence", cadence, "kind", summary.Kind, "err", err)
		return
	}
	s.logger.Debug("scheduled scan done", "cadence", cadence, "kind", summary.Kind, "created", summary.Created)
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if l.logger != nil {
		l.logger.Debug("cron: "+msg, keysAndValues...)
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if l.logger != nil {
		l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
	}
}
