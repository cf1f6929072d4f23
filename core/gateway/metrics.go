package gateway

import "time"

// Metrics defines the metrics interface for the gateway.
// All methods are thread-safe.
type Metrics interface {
	StageChanged(shard ShardID, stage Stage)
	HeartbeatLatency(shard ShardID, d time.Duration)
	DispatchReceived(shard ShardID, event string)
	// SequenceDropped counts duplicate or regressed dispatches.
	SequenceDropped(shard ShardID)
	// Reconnect counts reconnects by disposition.
	Reconnect(shard ShardID, d Disposition)
	ShardsRunning(count int)
}

type nopMetrics struct{}

func (nopMetrics) StageChanged(ShardID, Stage)             {}
func (nopMetrics) HeartbeatLatency(ShardID, time.Duration) {}
func (nopMetrics) DispatchReceived(ShardID, string)        {}
func (nopMetrics) SequenceDropped(ShardID)                 {}
func (nopMetrics) Reconnect(ShardID, Disposition)          {}
func (nopMetrics) ShardsRunning(int)                       {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
