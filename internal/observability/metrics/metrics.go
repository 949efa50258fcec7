package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMetrics exposes counters/histograms for appointment operations and audit delivery.
type SchedulingMetrics struct {
	operationsTotal  *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	auditTotal       *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "appointments",
			Name:      "operations_total",
			Help:      "Appointment operations by outcome",
		}, []string{"operation", "outcome"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scheduling",
			Subsystem: "appointments",
			Name:      "operation_latency_seconds",
			Help:      "Latency of appointment operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		auditTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Audit events by delivery status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.operationLatency, m.auditTotal)
	return m
}

func (m *SchedulingMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveAudit records one audit event with status written, failed or dropped.
func (m *SchedulingMetrics) ObserveAudit(status string) {
	if m == nil {
		return
	}
	m.auditTotal.WithLabelValues(status).Inc()
}
