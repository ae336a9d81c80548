// Package metrics instruments the Replication Scheduler and Chunk
// Retriever with Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the engine exports. A nil *Metrics is
// valid and every method on it is a no-op, so callers that don't want
// metrics wiring can simply pass nil.
type Metrics struct {
	chunksInFlight    prometheus.Gauge
	chunksAckedTotal  *prometheus.CounterVec
	chunksFailedTotal *prometheus.CounterVec
	quorumGap         *prometheus.GaugeVec
	backpressureStall *prometheus.CounterVec
	retrieveDuration  *prometheus.HistogramVec
	storageFallbacks  prometheus.Counter
}

// New creates a Metrics instance registered against reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		chunksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "replication_chunks_in_flight",
			Help: "Chunks currently awaiting an upload ack across all replica jobs.",
		}),
		chunksAckedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replication_chunks_acked_total",
			Help: "Chunk uploads acknowledged by a replica peer.",
		}, []string{"peer_id"}),
		chunksFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replication_chunks_failed_total",
			Help: "Chunk uploads that exhausted their retry budget.",
		}, []string{"peer_id"}),
		quorumGap: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replication_quorum_gap",
			Help: "Remaining acks needed to satisfy a manifest's replica quorum.",
		}, []string{"manifest_id"}),
		backpressureStall: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replication_backpressure_stalls_total",
			Help: "Backpressure quanta spent waiting on a peer session's buffered amount.",
		}, []string{"peer_id"}),
		retrieveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "retrieval_chunk_duration_seconds",
			Help:    "Time to resolve one chunk through the retrieval chain.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		storageFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "replication_storage_fallbacks_total",
			Help: "Chunks that fell back to storage-service upload after replica placement failed.",
		}),
	}
}

func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.chunksInFlight.Set(float64(n))
}

func (m *Metrics) IncAcked(peerID string) {
	if m == nil {
		return
	}
	m.chunksAckedTotal.WithLabelValues(peerID).Inc()
}

func (m *Metrics) IncFailed(peerID string) {
	if m == nil {
		return
	}
	m.chunksFailedTotal.WithLabelValues(peerID).Inc()
}

func (m *Metrics) SetQuorumGap(manifestID string, gap int) {
	if m == nil {
		return
	}
	m.quorumGap.WithLabelValues(manifestID).Set(float64(gap))
}

func (m *Metrics) IncBackpressureStall(peerID string) {
	if m == nil {
		return
	}
	m.backpressureStall.WithLabelValues(peerID).Inc()
}

func (m *Metrics) ObserveRetrieveDuration(source string, seconds float64) {
	if m == nil {
		return
	}
	m.retrieveDuration.WithLabelValues(source).Observe(seconds)
}

func (m *Metrics) IncStorageFallback() {
	if m == nil {
		return
	}
	m.storageFallbacks.Inc()
}
