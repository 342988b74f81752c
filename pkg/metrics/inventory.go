package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InventoryMetrics covers channel syncs, allocation passes, conflicts and webhooks.
// A nil *InventoryMetrics is valid and records nothing.
type InventoryMetrics struct {
	syncDuration      *prometheus.HistogramVec
	syncItems         *prometheus.CounterVec
	allocationPasses  *prometheus.CounterVec
	reserveRejected   prometheus.Counter
	conflictsDetected *prometheus.CounterVec
	conflictsResolved *prometheus.CounterVec
	webhooks          *prometheus.CounterVec
}

// NewInventoryMetrics registers the inventory metrics on reg.
func NewInventoryMetrics(reg prometheus.Registerer) *InventoryMetrics {
	if reg == nil {
		return &InventoryMetrics{}
	}
	m := &InventoryMetrics{
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "channel_sync_duration_seconds",
			Help:      "Duration of one channel inventory push.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"channel_type", "outcome"}),
		syncItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_sync_items_total",
			Help:      "Inventory updates pushed to channels.",
		}, []string{"channel_type", "result"}),
		allocationPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_passes_total",
			Help:      "Allocation passes by strategy and trigger.",
		}, []string{"strategy", "trigger"}),
		reserveRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_rejected_total",
			Help:      "Reservations rejected for insufficient stock after the retry pass.",
		}),
		conflictsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_detected_total",
			Help:      "Conflicts detected by type and priority.",
		}, []string{"type", "priority"}),
		conflictsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_resolved_total",
			Help:      "Conflict resolution attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Inbound webhooks by channel type and final status.",
		}, []string{"channel_type", "status"}),
	}
	reg.MustRegister(
		m.syncDuration,
		m.syncItems,
		m.allocationPasses,
		m.reserveRejected,
		m.conflictsDetected,
		m.conflictsResolved,
		m.webhooks,
	)
	return m
}

// ObserveChannelSync records one channel push.
func (m *InventoryMetrics) ObserveChannelSync(channelType string, success bool, duration time.Duration, successful, failed int) {
	if m == nil || m.syncDuration == nil {
		return
	}
	channelType = normalizeLabel(channelType)
	m.syncDuration.WithLabelValues(channelType, outcome(success)).Observe(duration.Seconds())
	m.syncItems.WithLabelValues(channelType, "successful").Add(float64(successful))
	m.syncItems.WithLabelValues(channelType, "failed").Add(float64(failed))
}

// IncAllocationPass counts an allocation pass.
func (m *InventoryMetrics) IncAllocationPass(strategy, trigger string) {
	if m == nil || m.allocationPasses == nil {
		return
	}
	m.allocationPasses.WithLabelValues(normalizeLabel(strategy), normalizeLabel(trigger)).Inc()
}

// IncReservationRejected counts a reservation that failed after its retry pass.
func (m *InventoryMetrics) IncReservationRejected() {
	if m == nil || m.reserveRejected == nil {
		return
	}
	m.reserveRejected.Inc()
}

// IncConflictDetected counts a new conflict.
func (m *InventoryMetrics) IncConflictDetected(conflictType, priority string) {
	if m == nil || m.conflictsDetected == nil {
		return
	}
	m.conflictsDetected.WithLabelValues(normalizeLabel(conflictType), normalizeLabel(priority)).Inc()
}

// IncConflictResolution counts a resolution attempt.
func (m *InventoryMetrics) IncConflictResolution(strategy string, success bool) {
	if m == nil || m.conflictsResolved == nil {
		return
	}
	m.conflictsResolved.WithLabelValues(normalizeLabel(strategy), outcome(success)).Inc()
}

// IncWebhook counts an inbound webhook by its final status.
func (m *InventoryMetrics) IncWebhook(channelType, status string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(channelType), normalizeLabel(status)).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
