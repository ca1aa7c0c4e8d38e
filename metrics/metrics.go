// Package metrics exposes Prometheus instrumentation for the node
// supervisor (SPEC_FULL.md §5 ambient stack, §6 domain stack):
// accepted/rejected handshakes, active subscribers, and transferred
// object sizes, matching the client_golang instrumentation style of
// rockstar-0000-aistore and distribution-distribution in the
// retrieval pack.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector owns every metric the node supervisor reports. It is
// constructed once per node and registered against a
// prometheus.Registerer supplied by the caller (cmd/ospnode, or a
// test's own registry).
type Collector struct {
	HandshakesAccepted prometheus.Counter
	HandshakesRejected *prometheus.CounterVec
	ActiveSubscribers  prometheus.Gauge
	ObjectBytesSent    prometheus.Histogram
	ObjectBytesRecv    prometheus.Histogram
}

// NewCollector builds a Collector and registers every metric against
// reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		HandshakesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "osp",
			Subsystem: "node",
			Name:      "handshakes_accepted_total",
			Help:      "Total inbound handshakes that completed authentication.",
		}),
		HandshakesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osp",
			Subsystem: "node",
			Name:      "handshakes_rejected_total",
			Help:      "Total inbound handshakes rejected, by error kind.",
		}, []string{"kind"}),
		ActiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "osp",
			Subsystem: "node",
			Name:      "active_subscribers",
			Help:      "Current count of peers subscribed to this node's broadcasts.",
		}),
		ObjectBytesSent: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "osp",
			Subsystem: "transfer",
			Name:      "object_bytes_sent",
			Help:      "Size in bytes of objects sent to subscribers.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),
		ObjectBytesRecv: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "osp",
			Subsystem: "transfer",
			Name:      "object_bytes_received",
			Help:      "Size in bytes of objects received from guests.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),
	}

	reg.MustRegister(c.HandshakesAccepted, c.HandshakesRejected, c.ActiveSubscribers, c.ObjectBytesSent, c.ObjectBytesRecv)
	return c
}

// RecordHandshakeRejected increments the rejected-handshake counter
// for the given error kind label.
func (c *Collector) RecordHandshakeRejected(kind string) {
	c.HandshakesRejected.WithLabelValues(kind).Inc()
}
