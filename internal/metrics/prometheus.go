package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"medalert/internal/model"
)

var (
	scanTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medalert",
			Name:      "scan_total",
			Help:      "Total number of scans by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	scanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "medalert",
			Name:      "scan_duration_seconds",
			Help:      "Scan duration in seconds",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"kind"},
	)

	alertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medalert",
			Name:      "alerts_created_total",
			Help:      "Total number of alerts created",
		},
		[]string{"type", "priority"},
	)

	itemFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medalert",
			Name:      "scan_item_failures_total",
			Help:      "Medicines or candidates that failed inside an otherwise successful scan",
		},
		[]string{"kind"},
	)
)

// Recorder feeds scan outcomes to Prometheus and to the in-process Store.
type Recorder struct {
	store *Store
}

func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) AlertCreated(a model.Alert) {
	alertsCreated.WithLabelValues(string(a.Type), string(a.Priority)).Inc()
	if r.store != nil {
		r.store.addAlert()
	}
}

func (r *Recorder) ScanFinished(summary model.ScanSummary, err error) {
	kind := string(summary.Kind)
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case summary.Skipped:
		status = "skipped"
	}
	scanTotal.WithLabelValues(kind, status).Inc()
	scanDuration.WithLabelValues(kind).Observe(summary.Duration().Seconds())
	if summary.Failed > 0 {
		itemFailures.WithLabelValues(kind).Add(float64(summary.Failed))
	}
	if r.store != nil {
		r.store.Update(summary, err)
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
