package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/shardgate/core/gateway"
)

// gatewayMetrics implements gateway.Metrics using Prometheus.
type gatewayMetrics struct {
	stage         *prometheus.GaugeVec
	latency       *prometheus.GaugeVec
	dispatches    *prometheus.CounterVec
	seqDropped    *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
	shardsRunning prometheus.Gauge
}

func NewGatewayMetrics(reg prometheus.Registerer) gateway.Metrics {
	m := &gatewayMetrics{
		stage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shardgate_gateway_shard_stage",
			Help: "Current connection stage of a shard (0 disconnected .. 5 connected)",
		}, []string{"shard"}),

		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shardgate_gateway_heartbeat_latency_seconds",
			Help: "Round trip of the last acknowledged heartbeat",
		}, []string{"shard"}),

		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardgate_gateway_dispatches_total",
			Help: "Total number of accepted dispatch events",
		}, []string{"shard", "event"}),

		seqDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardgate_gateway_sequence_dropped_total",
			Help: "Total number of duplicate or regressed dispatches",
		}, []string{"shard"}),

		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardgate_gateway_reconnects_total",
			Help: "Total number of ended connections by what happened next",
		}, []string{"shard", "disposition"}),

		shardsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardgate_gateway_shards_running",
			Help: "Number of shards run by this process",
		}),
	}

	reg.MustRegister(
		m.stage,
		m.latency,
		m.dispatches,
		m.seqDropped,
		m.reconnects,
		m.shardsRunning,
	)
	return m
}

func shardLabel(id gateway.ShardID) string { return strconv.Itoa(int(id)) }

func (m *gatewayMetrics) StageChanged(shard gateway.ShardID, stage gateway.Stage) {
	m.stage.WithLabelValues(shardLabel(shard)).Set(float64(stage))
}

func (m *gatewayMetrics) HeartbeatLatency(shard gateway.ShardID, d time.Duration) {
	m.latency.WithLabelValues(shardLabel(shard)).Set(d.Seconds())
}

func (m *gatewayMetrics) DispatchReceived(shard gateway.ShardID, event string) {
	m.dispatches.WithLabelValues(shardLabel(shard), event).Inc()
}

func (m *gatewayMetrics) SequenceDropped(shard gateway.ShardID) {
	m.seqDropped.WithLabelValues(shardLabel(shard)).Inc()
}

func (m *gatewayMetrics) Reconnect(shard gateway.ShardID, d gateway.Disposition) {
	m.reconnects.WithLabelValues(shardLabel(shard), d.String()).Inc()
}

func (m *gatewayMetrics) ShardsRunning(count int) {
	m.shardsRunning.Set(float64(count))
}
