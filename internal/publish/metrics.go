package publish

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records refresh outcomes.
type Metrics struct {
	refreshes   *prometheus.CounterVec
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
	leverage    prometheus.Gauge
	rows        prometheus.Gauge
}

// NewMetrics registers the refresh metrics with reg, or with the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		refreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kelly_refresh_total",
				Help: "Refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kelly_refresh_duration_seconds",
				Help:    "Duration of a full refresh",
				Buckets: prometheus.DefBuckets,
			},
		),
		lastSuccess: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "kelly_refresh_last_success_timestamp_seconds",
				Help: "Unix time of the last successful refresh",
			},
		),
		leverage: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "kelly_latest_leverage",
				Help: "Most recent applied Kelly fraction",
			},
		),
		rows: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "kelly_published_rows",
				Help: "Rows in the published table",
			},
		),
	}
}

// RecordSuccess records a completed refresh.
func (m *Metrics) RecordSuccess(elapsed time.Duration, at time.Time, leverage float64, rows int) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues("success").Inc()
	m.duration.Observe(elapsed.Seconds())
	m.lastSuccess.Set(float64(at.Unix()))
	m.leverage.Set(leverage)
	m.rows.Set(float64(rows))
}

// RecordFailure records a failed refresh at the given stage.
func (m *Metrics) RecordFailure(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues("error_" + stage).Inc()
	m.duration.Observe(elapsed.Seconds())
}
