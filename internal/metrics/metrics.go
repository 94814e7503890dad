// Package metrics exposes Prometheus collectors for the questionnaire pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "formpipe"

// Submission outcomes.
const (
	OutcomeSaved  = "saved"
	OutcomeFailed = "failed"
)

// Metrics groups the collectors updated by the dispatcher.
type Metrics struct {
	Events       *prometheus.CounterVec
	Results      *prometheus.CounterVec
	Submissions  *prometheus.CounterVec
	SinkDuration prometheus.Histogram
	RenderErrors *prometheus.CounterVec
	ActiveUsers  prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves them
// unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Normalized user events by channel and kind.",
		}, []string{"channel", "kind"}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Engine results by kind.",
		}, []string{"kind"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Completed questionnaires by storage outcome.",
		}, []string{"outcome"}),
		SinkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_append_duration_seconds",
			Help:      "Time spent appending a completed record to the response sinks.",
			Buckets:   prometheus.DefBuckets,
		}),
		RenderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_errors_total",
			Help:      "Failed question or message renders by channel.",
		}, []string{"channel"}),
		ActiveUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_mailboxes",
			Help:      "Users with a running event mailbox.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Events, m.Results, m.Submissions, m.SinkDuration, m.RenderErrors, m.ActiveUsers)
	}
	return m
}

// ObserveSink records how long a sink append took and its outcome.
func (m *Metrics) ObserveSink(start time.Time, err error) {
	m.SinkDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.Submissions.WithLabelValues(OutcomeFailed).Inc()
		return
	}
	m.Submissions.WithLabelValues(OutcomeSaved).Inc()
}
