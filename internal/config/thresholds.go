package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Thresholds is the alerting policy document. Expiry values are days,
// stock values are units and check intervals are minutes.
type Thresholds struct {
	Expiry    ExpiryThresholds `json:"expiryThresholds" yaml:"expiryThresholds" toml:"expiryThresholds"`
	Stock     StockThresholds  `json:"stockThresholds" yaml:"stockThresholds" toml:"stockThresholds"`
	Intervals CheckIntervals   `json:"checkIntervals" yaml:"checkIntervals" toml:"checkIntervals"`
}

type ExpiryThresholds struct {
	Critical int `json:"critical" yaml:"critical" toml:"critical"`
	Warning  int `json:"warning" yaml:"warning" toml:"warning"`
	Upcoming int `json:"upcoming" yaml:"upcoming" toml:"upcoming"`
}

// StockThresholds is parsed and exposed but not consulted by the classifier,
// which derives stock priority from each medicine's own minimum.
type StockThresholds struct {
	Critical int `json:"critical" yaml:"critical" toml:"critical"`
	Warning  int `json:"warning" yaml:"warning" toml:"warning"`
}

type CheckIntervals struct {
	QuickCheck   int `json:"quickCheck" yaml:"quickCheck" toml:"quickCheck"`
	RegularCheck int `json:"regularCheck" yaml:"regularCheck" toml:"regularCheck"`
	DeepScan     int `json:"deepScan" yaml:"deepScan" toml:"deepScan"`
}

func (c CheckIntervals) Quick() time.Duration   { return time.Duration(c.QuickCheck) * time.Minute }
func (c CheckIntervals) Regular() time.Duration { return time.Duration(c.RegularCheck) * time.Minute }
func (c CheckIntervals) Deep() time.Duration    { return time.Duration(c.DeepScan) * time.Minute }

func DefaultThresholds() Thresholds {
	return Thresholds{
		Expiry:    ExpiryThresholds{Critical: 7, Warning: 30, Upcoming: 90},
		Stock:     StockThresholds{Critical: 3, Warning: 5},
		Intervals: CheckIntervals{QuickCheck: 5, RegularCheck: 30, DeepScan: 240},
	}
}

// LoadThresholds parses a settings document. The format follows the file
// extension (.toml, .json, .yaml/.yml); unknown extensions are sniffed.
func LoadThresholds(path string) (Thresholds, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, err
	}
	return ParseThresholds(content, strings.ToLower(filepath.Ext(path)))
}

func ParseThresholds(content []byte, ext string) (Thresholds, error) {
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return Thresholds{}, errors.New("settings document is empty")
	}
	var t Thresholds
	var err error
	switch {
	case ext == ".toml":
		err = toml.Unmarshal([]byte(trimmed), &t)
	case ext == ".json" || looksLikeJSON(trimmed):
		err = json.Unmarshal([]byte(trimmed), &t)
	default:
		err = yaml.Unmarshal([]byte(trimmed), &t)
	}
	if err != nil {
		return Thresholds{}, fmt.Errorf("decode settings: %w", err)
	}
	applyThresholdDefaults(&t)
	if err := ValidateThresholds(t); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

func applyThresholdDefaults(t *Thresholds) {
	d := DefaultThresholds()
	fill := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.Expiry.Critical, d.Expiry.Critical)
	fill(&t.Expiry.Warning, d.Expiry.Warning)
	fill(&t.Expiry.Upcoming, d.Expiry.Upcoming)
	fill(&t.Stock.Critical, d.Stock.Critical)
	fill(&t.Stock.Warning, d.Stock.Warning)
	fill(&t.Intervals.QuickCheck, d.Intervals.QuickCheck)
	fill(&t.Intervals.RegularCheck, d.Intervals.RegularCheck)
	fill(&t.Intervals.DeepScan, d.Intervals.DeepScan)
}

func ValidateThresholds(t Thresholds) error {
	e := t.Expiry
	if e.Critical <= 0 || e.Warning <= 0 || e.Upcoming <= 0 {
		return errors.New("expiryThresholds must be positive")
	}
	if e.Critical > e.Warning || e.Warning > e.Upcoming {
		return fmt.Errorf("expiryThresholds must ascend: critical=%d warning=%d upcoming=%d", e.Critical, e.Warning, e.Upcoming)
	}
	if t.Stock.Critical <= 0 || t.Stock.Warning <= 0 {
		return errors.New("stockThresholds must be positive")
	}
	i := t.Intervals
	if i.QuickCheck <= 0 || i.RegularCheck <= 0 || i.DeepScan <= 0 {
		return errors.New("checkIntervals must be positive")
	}
	return nil
}

// ThresholdProvider hands out the policy in effect right now.
type ThresholdProvider interface {
	Load() Thresholds
}

// StaticThresholds always returns the same policy.
type StaticThresholds Thresholds

func (s StaticThresholds) Load() Thresholds {
	return Thresholds(s)
}

// ThresholdFile reads the settings document from disk on every Load, so
// edits apply on the next scan. Any failure yields the defaults; Load never
// fails.
type ThresholdFile struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	last   Thresholds
	loaded bool
}

func NewThresholdFile(path string, logger *slog.Logger) *ThresholdFile {
	return &ThresholdFile{path: path, logger: logger}
}

func (f *ThresholdFile) Path() string {
	return f.path
}

func (f *ThresholdFile) Load() Thresholds {
	if f.path == "" {
		return DefaultThresholds()
	}
	t, err := LoadThresholds(f.path)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		if f.loaded || !errors.Is(err, os.ErrNotExist) {
			f.warn("settings unavailable, using defaults", err)
		}
		f.loaded = false
		return DefaultThresholds()
	}
	// Only changes are logged; the file is still read on every call.
	if !f.loaded || t != f.last {
		if f.logger != nil {
			f.logger.Info("settings loaded",
				"path", f.path,
				"expiry_critical", t.Expiry.Critical,
				"expiry_warning", t.Expiry.Warning,
				"expiry_upcoming", t.Expiry.Upcoming,
			)
		}
		f.last = t
		f.loaded = true
	}
	return t
}

func (f *ThresholdFile) warn(msg string, err error) {
	if f.logger != nil {
		f.logger.Warn(msg, "path", f.path, "err", err)
	}
}
