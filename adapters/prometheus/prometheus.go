// Package prometheus provides Prometheus implementations of the metrics
// interfaces of the REST dispatcher, the gateway and the cache.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/shardgate/core/metrics"
)

func newTimer(h prometheus.Observer) metrics.Timer {
	return metrics.Since(func(d time.Duration) { h.Observe(d.Seconds()) })
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics holds Prometheus implementations for every component.
type AllMetrics struct {
	REST    *restMetrics
	Gateway *gatewayMetrics
	Cache   *cacheMetrics
}

func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		REST:    NewRESTMetrics(reg).(*restMetrics),
		Gateway: NewGatewayMetrics(reg).(*gatewayMetrics),
		Cache:   NewCacheMetrics(reg).(*cacheMetrics),
	}
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
