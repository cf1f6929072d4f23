package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/shardgate/core/metrics"
	"github.com/codewandler/shardgate/core/rest"
)

// restMetrics implements rest.Metrics using Prometheus.
type restMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	limiterWait     *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	retries         *prometheus.CounterVec
	inFlight        prometheus.Gauge
}

func NewRESTMetrics(reg prometheus.Registerer) rest.Metrics {
	m := &restMetrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shardgate_rest_request_duration_seconds",
			Help:    "HTTP round trip time in seconds",
			Buckets: defaultBuckets,
		}, []string{"route"}),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardgate_rest_requests_total",
			Help: "Total number of completed HTTP requests",
		}, []string{"route", "status"}),

		limiterWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shardgate_rest_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limit bucket",
			Buckets: defaultBuckets,
		}, []string{"route"}),

		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardgate_rest_rate_limited_total",
			Help: "Total number of 429 responses",
		}, []string{"route", "global"}),

		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardgate_rest_retries_total",
			Help: "Total number of retried requests",
		}, []string{"route", "reason"}),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardgate_rest_requests_in_flight",
			Help: "Number of requests holding a concurrency slot",
		}),
	}

	reg.MustRegister(
		m.requestDuration,
		m.requestsTotal,
		m.limiterWait,
		m.rateLimited,
		m.retries,
		m.inFlight,
	)
	return m
}

func (m *restMetrics) RequestDuration(route string) metrics.Timer {
	return newTimer(m.requestDuration.WithLabelValues(route))
}

func (m *restMetrics) RequestCompleted(route string, status int) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *restMetrics) LimiterWait(route string) metrics.Timer {
	return newTimer(m.limiterWait.WithLabelValues(route))
}

func (m *restMetrics) RateLimited(route string, global bool) {
	m.rateLimited.WithLabelValues(route, boolToStr(global)).Inc()
}

func (m *restMetrics) Retry(route string, reason string) {
	m.retries.WithLabelValues(route, reason).Inc()
}

func (m *restMetrics) InFlight(count int) {
	m.inFlight.Set(float64(count))
}
