package importer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records import pipeline counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	imports   *prometheus.CounterVec
	rows      *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
	warnings  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the import metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		imports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mneme_imports_total",
				Help: "Total number of document imports by format and outcome",
			},
			[]string{"format", "outcome"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mneme_import_rows_total",
				Help: "Total number of rows inserted by entity kind",
			},
			[]string{"kind"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mneme_import_rollbacks_total",
				Help: "Total number of compensating patient deletes by outcome",
			},
			[]string{"outcome"},
		),
		warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mneme_import_warnings_total",
				Help: "Total number of validation warnings by format",
			},
			[]string{"format"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mneme_import_duration_seconds",
				Help:    "Time spent importing one document",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		),
	}
	reg.MustRegister(m.imports, m.rows, m.rollbacks, m.warnings, m.duration)
	return m
}

func (m *Metrics) observe(r *Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	format := string(r.Format)
	m.imports.WithLabelValues(format, r.Failure.String()).Inc()
	m.duration.WithLabelValues(format).Observe(elapsed.Seconds())
	if len(r.Warnings) > 0 {
		m.warnings.WithLabelValues(format).Add(float64(len(r.Warnings)))
	}
	for kind, n := range r.Counts {
		m.rows.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) rollback(ok bool) {
	if m == nil {
		return
	}
	outcome := "deleted"
	if !ok {
		outcome = "failed"
	}
	m.rollbacks.WithLabelValues(outcome).Inc()
}
