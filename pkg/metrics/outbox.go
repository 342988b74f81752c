package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox dispatch outcomes.
const (
	OutboxPublished    = "published"
	OutboxRetried      = "retried"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics counts dispatched outbox rows. A nil *OutboxMetrics records nothing.
type OutboxMetrics struct {
	events *prometheus.CounterVec
	batch  prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox rows handled by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_batch_duration_seconds",
			Help:      "Duration of one outbox dispatch batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.events, m.batch)
	return m
}

// ObserveEvent records the outcome for one row.
func (m *OutboxMetrics) ObserveEvent(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
}

// ObserveBatch records how long a non-empty batch took.
func (m *OutboxMetrics) ObserveBatch(duration time.Duration) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(duration.Seconds())
}
