package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the indexer's Prometheus collectors.
type Metrics struct {
	scannedBlocks *prometheus.CounterVec
	failedRanges  *prometheus.GaugeVec
	decodedEvents *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scannedBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recovery",
			Subsystem: "indexer",
			Name:      "scanned_blocks_total",
			Help:      "Blocks whose logs were fetched successfully.",
		}, []string{"chain_id"}),
		failedRanges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "recovery",
			Subsystem: "indexer",
			Name:      "failed_ranges",
			Help:      "Block ranges waiting to be retried.",
		}, []string{"chain_id"}),
		decodedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recovery",
			Subsystem: "indexer",
			Name:      "decoded_events_total",
			Help:      "Module events decoded from logs.",
		}, []string{"chain_id", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.scannedBlocks, m.failedRanges, m.decodedEvents)
	}
	return m
}
