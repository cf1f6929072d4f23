package prometheus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardgate/core/cache"
	"github.com/codewandler/shardgate/core/gateway"
	"github.com/codewandler/shardgate/core/model"
)

func gatherNames(t *testing.T, reg *prometheus.Registry) map[string]bool {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewRESTMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRESTMetrics(reg)
	require.NotNil(t, m)

	timer := m.RequestDuration("GET /channels/{channel_id}")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.LimiterWait("GET /channels/{channel_id}").ObserveDuration()
	m.RequestCompleted("GET /channels/{channel_id}", 200)
	m.RateLimited("GET /channels/{channel_id}", true)
	m.Retry("GET /channels/{channel_id}", "server")
	m.InFlight(3)

	rm := m.(*restMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.requestsTotal.WithLabelValues("GET /channels/{channel_id}", "200")))
	assert.Equal(t, 3.0, testutil.ToFloat64(rm.inFlight))

	names := gatherNames(t, reg)
	assert.True(t, names["shardgate_rest_request_duration_seconds"])
	assert.True(t, names["shardgate_rest_rate_limited_total"])
	assert.True(t, names["shardgate_rest_retries_total"])
}

func TestNewGatewayMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGatewayMetrics(reg)

	m.StageChanged(1, gateway.StageConnected)
	m.HeartbeatLatency(1, 42*time.Millisecond)
	m.DispatchReceived(1, "GUILD_CREATE")
	m.SequenceDropped(1)
	m.Reconnect(1, gateway.Resume)
	m.ShardsRunning(4)

	gm := m.(*gatewayMetrics)
	assert.Equal(t, float64(gateway.StageConnected), testutil.ToFloat64(gm.stage.WithLabelValues("1")))
	assert.InDelta(t, 0.042, testutil.ToFloat64(gm.latency.WithLabelValues("1")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(gm.reconnects.WithLabelValues("1", gateway.Resume.String())))

	names := gatherNames(t, reg)
	assert.True(t, names["shardgate_gateway_dispatches_total"])
	assert.True(t, names["shardgate_gateway_shards_running"])
}

func TestNewCacheMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCacheMetrics(reg)

	store := cache.NewStore(cache.Options{Settings: cache.DefaultSettings(), Metrics: m})
	RegisterCacheStats(reg, store)

	data, _ := json.Marshal(model.Guild{ID: 1 << 22, Name: "g", Channels: []model.Channel{{ID: 9}}})
	require.NoError(t, store.Apply(model.DispatchEvent{Shard: 1, Seq: 2, Name: model.EventGuildCreate, Data: data}))
	require.NoError(t, store.Apply(model.DispatchEvent{Shard: 1, Seq: 1, Name: model.EventGuildCreate, Data: data}))
	store.InvalidateShard(0, 2)

	cm := m.(*cacheMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.applied.WithLabelValues("GUILD_CREATE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.dropped.WithLabelValues("GUILD_CREATE", "stale_sequence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.invalidated.WithLabelValues("0")))

	n, err := testutil.GatherAndCount(reg, "shardgate_cache_entities")
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestNewAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	all := NewAllMetrics(reg)
	require.NotNil(t, all.REST)
	require.NotNil(t, all.Gateway)
	require.NotNil(t, all.Cache)
}
