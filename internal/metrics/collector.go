package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream outcomes used as label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Collector holds the stream and cache metrics.
type Collector struct {
	streamsStarted  prometheus.Counter
	streamsFinished *prometheus.CounterVec
	streamsRejected *prometheus.CounterVec
	activeStreams   prometheus.Gauge
	chunksAppended  prometheus.Counter
	streamDuration  prometheus.Histogram

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions *prometheus.CounterVec
	cachedSessions prometheus.Gauge
}

// NewCollector registers the metrics on reg. A nil reg gets a private
// registry, which keeps repeated construction (tests) collision-free.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Collector{
		streamsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_started_total",
			Help:      "Total number of streams started",
		}),
		streamsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_finished_total",
			Help:      "Total number of streams reaching a terminal state",
		}, []string{"outcome"}),
		streamsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_rejected_total",
			Help:      "Total number of sends rejected before streaming",
		}, []string{"reason"}),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of currently registered stream handles",
		}),
		chunksAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Total number of chunks appended across all streams",
		}),
		streamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Stream duration from start to terminal state",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_cache_hits_total",
			Help:      "Session view cache hits",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_cache_misses_total",
			Help:      "Session view cache misses",
		}),
		cacheEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_cache_evictions_total",
			Help:      "Session view cache evictions by tier",
		}, []string{"tier"}),
		cachedSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "view_cache_entries",
			Help:      "Number of cached session view states",
		}),
	}
}

func (c *Collector) StreamStarted() {
	c.streamsStarted.Inc()
	c.activeStreams.Inc()
}

func (c *Collector) StreamFinished(outcome string, duration time.Duration) {
	c.streamsFinished.WithLabelValues(outcome).Inc()
	c.activeStreams.Dec()
	c.streamDuration.Observe(duration.Seconds())
}

func (c *Collector) StreamRejected(reason string) {
	c.streamsRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) ChunkAppended() {
	c.chunksAppended.Inc()
}

func (c *Collector) CacheHit()  { c.cacheHits.Inc() }
func (c *Collector) CacheMiss() { c.cacheMisses.Inc() }

func (c *Collector) CacheEviction(tier string) {
	c.cacheEvictions.WithLabelValues(tier).Inc()
}

func (c *Collector) SetCachedSessions(n int) {
	c.cachedSessions.Set(float64(n))
}
