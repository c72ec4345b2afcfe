// Package metrics holds the Prometheus collectors for the memory engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nim_memory"

// Recorder groups every collector exported by the engine.
// A Recorder owns its registry so multiple engines in one process
// (and parallel tests) do not collide on registration.
type Recorder struct {
	Registry *prometheus.Registry

	CacheLookups *prometheus.CounterVec
	EmbedCalls   *prometheus.CounterVec
	EmbedLatency prometheus.Histogram
	StoreOps     *prometheus.CounterVec
	Duplicates   prometheus.Counter
}

// New creates a Recorder with freshly registered collectors.
func New() *Recorder {
	r := &Recorder{
		Registry: prometheus.NewRegistry(),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache lookups by result (hit or miss).",
		}, []string{"result"}),
		EmbedCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_calls_total",
			Help:      "Calls to the embedder by outcome.",
		}, []string{"outcome"}),
		EmbedLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embed_duration_seconds",
			Help:      "Latency of embedder calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		StoreOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Vector store operations issued by the orchestrator.",
		}, []string{"op", "outcome"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_detected_total",
			Help:      "Add calls matched to an existing memory by the deduplicator.",
		}),
	}
	r.Registry.MustRegister(r.CacheLookups, r.EmbedCalls, r.EmbedLatency, r.StoreOps, r.Duplicates)
	return r
}

// Default is used by components that are not handed a Recorder.
var Default = New()

// CacheHit records an embedding cache hit.
func (r *Recorder) CacheHit() { r.CacheLookups.WithLabelValues("hit").Inc() }

// CacheMiss records an embedding cache miss.
func (r *Recorder) CacheMiss() { r.CacheLookups.WithLabelValues("miss").Inc() }

// ObserveEmbed records one embedder call started at start.
func (r *Recorder) ObserveEmbed(start time.Time, err error) {
	r.EmbedLatency.Observe(time.Since(start).Seconds())
	r.EmbedCalls.WithLabelValues(outcome(err)).Inc()
}

// ObserveStore records one vector store operation.
func (r *Recorder) ObserveStore(op string, err error) {
	r.StoreOps.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
