package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/shardgate/core/cache"
)

// cacheMetrics implements cache.Metrics using Prometheus.
type cacheMetrics struct {
	applied     *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	restWrites  *prometheus.CounterVec
	invalidated *prometheus.CounterVec
}

func NewCacheMetrics(reg prometheus.Registerer) cache.Metrics {
	m := &cacheMetrics{
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardgate_cache_events_applied_total",
			Help: "Total number of events applied to the cache",
		}, []string{"event"}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardgate_cache_events_dropped_total",
			Help: "Total number of events the cache ignored",
		}, []string{"event", "reason"}),

		restWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardgate_cache_rest_writes_total",
			Help: "Total number of REST responses offered to the cache",
		}, []string{"route", "applied"}),

		invalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardgate_cache_shard_invalidations_total",
			Help: "Total number of shard invalidations",
		}, []string{"shard"}),
	}

	reg.MustRegister(m.applied, m.dropped, m.restWrites, m.invalidated)
	return m
}

func (m *cacheMetrics) EventApplied(event string) {
	m.applied.WithLabelValues(event).Inc()
}

func (m *cacheMetrics) EventDropped(event string, reason string) {
	m.dropped.WithLabelValues(event, reason).Inc()
}

func (m *cacheMetrics) RESTWrite(route string, applied bool) {
	m.restWrites.WithLabelValues(route, boolToStr(applied)).Inc()
}

func (m *cacheMetrics) ShardInvalidated(shard int) {
	m.invalidated.WithLabelValues(strconv.Itoa(shard)).Inc()
}

// RegisterCacheStats exports the entity counts of c as gauges read on
// every scrape.
func RegisterCacheStats(reg prometheus.Registerer, c cache.Cache) {
	for _, g := range []struct {
		kind string
		read func(cache.Stats) int
	}{
		{"guilds", func(s cache.Stats) int { return s.Guilds }},
		{"channels", func(s cache.Stats) int { return s.Channels }},
		{"users", func(s cache.Stats) int { return s.Users }},
		{"members", func(s cache.Stats) int { return s.Members }},
		{"roles", func(s cache.Stats) int { return s.Roles }},
		{"messages", func(s cache.Stats) int { return s.Messages }},
	} {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "shardgate_cache_entities",
			Help:        "Number of cached entities by kind",
			ConstLabels: prometheus.Labels{"kind": g.kind},
		}, func() float64 { return float64(g.read(c.Stats())) }))
	}
}
