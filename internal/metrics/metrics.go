// Package metrics holds the Prometheus instruments for discovery and stack
// runs. Batch runs have no scrape endpoint; the registry is dumped to a
// node-exporter textfile at the end of a run instead.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bandstack"

// Metrics groups the counters and histograms for one process. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// FilesTotal counts discovered band files by outcome.
	// Labels: outcome (extracted, failed, rejected)
	FilesTotal *prometheus.CounterVec

	// CapturesTotal counts captures built by grouping.
	CapturesTotal prometheus.Counter

	// JobsTotal counts stack jobs by final status.
	// Labels: status (rendered, skipped, failed)
	JobsTotal *prometheus.CounterVec

	// JobDurationSeconds measures per-capture stack time.
	JobDurationSeconds prometheus.Histogram
}

// New registers the instruments with reg. Pass prometheus.NewRegistry() for an
// isolated set; registering twice on the same registry panics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FilesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "files_total",
			Help:      "Band files seen during discovery by outcome",
		}, []string{"outcome"}),
		CapturesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "captures_total",
			Help:      "Captures assembled from discovered files",
		}),
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stack",
			Name:      "jobs_total",
			Help:      "Stack jobs by final status",
		}, []string{"status"}),
		JobDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stack",
			Name:      "job_duration_seconds",
			Help:      "Time spent stacking one capture",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// ObserveFile records one discovery outcome.
func (m *Metrics) ObserveFile(outcome string) {
	if m == nil {
		return
	}
	m.FilesTotal.WithLabelValues(outcome).Inc()
}

// AddCaptures records n grouped captures.
func (m *Metrics) AddCaptures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CapturesTotal.Add(float64(n))
}

// ObserveJob records one finished stack job.
func (m *Metrics) ObserveJob(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
	m.JobDurationSeconds.Observe(d.Seconds())
}

// WriteTextfile writes everything gathered by g to path in the text
// exposition format. An empty path is a no-op.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, g)
}
