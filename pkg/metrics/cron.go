package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "channelstock"

// CronJobMetrics tracks sweep jobs run by the sync worker. A nil
// *CronJobMetrics records nothing.
type CronJobMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cron_job_duration_seconds",
			Help:      "Duration of sweep jobs in seconds.",
			Buckets:   []float64{.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cron_job_runs_total",
			Help:      "Sweep job outcomes: success, failure or skipped.",
		}, []string{"job", "outcome"}),
	}
	reg.MustRegister(m.duration, m.runs)
	return m
}

func (m *CronJobMetrics) ObserveDuration(job string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

func (m *CronJobMetrics) IncSuccess(job string) { m.inc(job, "success") }

func (m *CronJobMetrics) IncFailure(job string) { m.inc(job, "failure") }

// IncSkipped counts jobs not run because a gate failed first.
func (m *CronJobMetrics) IncSkipped(job string) { m.inc(job, "skipped") }

func (m *CronJobMetrics) inc(job, outcome string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(job), outcome).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
