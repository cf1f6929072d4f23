package cache

// Metrics defines the metrics interface for the cache.
// All methods are thread-safe.
type Metrics interface {
	EventApplied(event string)
	// EventDropped counts events that were not applied, by reason:
	// stale_sequence, decode.
	EventDropped(event string, reason string)
	// RESTWrite counts REST responses offered to the cache. applied is false
	// when a newer gateway value won.
	RESTWrite(route string, applied bool)
	ShardInvalidated(shard int)
}

type nopMetrics struct{}

func (nopMetrics) EventApplied(string)         {}
func (nopMetrics) EventDropped(string, string) {}
func (nopMetrics) RESTWrite(string, bool)      {}
func (nopMetrics) ShardInvalidated(int)        {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
