package rest

import "github.com/codewandler/shardgate/core/metrics"

// Metrics defines the metrics interface for the REST dispatcher.
// All methods are thread-safe.
type Metrics interface {
	// RequestDuration times one HTTP round trip.
	RequestDuration(route string) metrics.Timer
	RequestCompleted(route string, status int)
	// LimiterWait times how long a request waited for its bucket.
	LimiterWait(route string) metrics.Timer
	RateLimited(route string, global bool)
	// Retry counts retries by reason: rate_limited, server, network.
	Retry(route string, reason string)
	InFlight(count int)
}

type nopMetrics struct{}

func (nopMetrics) RequestDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) RequestCompleted(string, int)         {}
func (nopMetrics) LimiterWait(string) metrics.Timer     { return metrics.NopTimer() }
func (nopMetrics) RateLimited(string, bool)             {}
func (nopMetrics) Retry(string, string)                 {}
func (nopMetrics) InFlight(int)                         {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
