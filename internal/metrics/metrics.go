// Package metrics wraps the Prometheus counters, histograms, and gauges the
// pipeline and transport layers update (spec.md's domain-stack table:
// "frame-drop counters, encode latency histograms, FEC recovery counters,
// and QUIC datagram queue depth gauges"). client_golang is already a
// transitive dependency of the pack via prometheus-adjacent tooling;
// promoted here to direct use rather than introducing a second metrics
// library.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns one session's worth of metrics, or the process-wide set
// when used at the server level (FrameDropped/FECRecovered are labeled by
// session_id so a single Registry can serve every session).
type Registry struct {
	reg *prometheus.Registry

	framesDropped   *prometheus.CounterVec
	encodeLatency   *prometheus.HistogramVec
	fecRecovered    *prometheus.CounterVec
	fecFailed       *prometheus.CounterVec
	datagramQueue   *prometheus.GaugeVec
	attachments     prometheus.Gauge
	sessions        prometheus.Gauge
}

// New creates a Registry with every metric registered against a fresh
// prometheus.Registry (not the global default, so tests can spin up many
// without collector-already-registered panics).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mm",
			Subsystem: "packetring",
			Name:      "frames_dropped_total",
			Help:      "Incomplete frames evicted from the packet ring before completion.",
		}, []string{"session_id"}),
		encodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mm",
			Subsystem: "encode",
			Name:      "submit_latency_seconds",
			Help:      "Time from SubmitEncode to the bitstream becoming available.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"session_id"}),
		fecRecovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mm",
			Subsystem: "fec",
			Name:      "shards_recovered_total",
			Help:      "Data shards successfully reconstructed from parity.",
		}, []string{"session_id"}),
		fecFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mm",
			Subsystem: "fec",
			Name:      "recover_failed_total",
			Help:      "FEC recovery attempts that did not have enough shards to proceed.",
		}, []string{"session_id"}),
		datagramQueue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mm",
			Subsystem: "transport",
			Name:      "datagram_queue_depth",
			Help:      "Outgoing QUIC datagram queue depth per connection.",
		}, []string{"session_id"}),
		attachments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mm",
			Name:      "attachments",
			Help:      "Currently live attachments across all sessions.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mm",
			Name:      "sessions",
			Help:      "Currently live sessions.",
		}),
	}

	reg.MustRegister(r.framesDropped, r.encodeLatency, r.fecRecovered, r.fecFailed, r.datagramQueue, r.attachments, r.sessions)
	return r
}

func (r *Registry) FrameDropped(sessionID string)    { r.framesDropped.WithLabelValues(sessionID).Inc() }
func (r *Registry) FECRecovered(sessionID string)     { r.fecRecovered.WithLabelValues(sessionID).Inc() }
func (r *Registry) FECFailed(sessionID string)        { r.fecFailed.WithLabelValues(sessionID).Inc() }
func (r *Registry) SetDatagramQueueDepth(sessionID string, n int) {
	r.datagramQueue.WithLabelValues(sessionID).Set(float64(n))
}
func (r *Registry) ObserveEncodeLatencySeconds(sessionID string, seconds float64) {
	r.encodeLatency.WithLabelValues(sessionID).Observe(seconds)
}
func (r *Registry) SetAttachments(n int) { r.attachments.Set(float64(n)) }
func (r *Registry) SetSessions(n int)    { r.sessions.Set(float64(n)) }

// Handler exposes the registry in Prometheus text format, served by
// cmd/magicmirrord on a separate debug listener when configured.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
