package executor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the executor's Prometheus collectors.
type Metrics struct {
	submitted  *prometheus.CounterVec
	failed     *prometheus.CounterVec
	requeued   *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recovery",
			Subsystem: "executor",
			Name:      "transactions_submitted_total",
			Help:      "Transactions mined successfully.",
		}, []string{"chain_id"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recovery",
			Subsystem: "executor",
			Name:      "transactions_failed_total",
			Help:      "Jobs dropped after exhausting retries.",
		}, []string{"chain_id"}),
		requeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recovery",
			Subsystem: "executor",
			Name:      "transactions_requeued_total",
			Help:      "Failed attempts put back on the queue.",
		}, []string{"chain_id"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "recovery",
			Subsystem: "executor",
			Name:      "queue_depth",
			Help:      "Jobs waiting per chain and signer.",
		}, []string{"chain_id", "signer"}),
	}
	if reg != nil {
		reg.MustRegister(m.submitted, m.failed, m.requeued, m.queueDepth)
	}
	return m
}
