package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdentifyInterval is the wait between two identifies of the same
// concurrency bucket.
const DefaultIdentifyInterval = 5 * time.Second

// IdentifyGate is passed by a runner before it sends an identify.
type IdentifyGate interface {
	Wait(ctx context.Context, shard ShardID) error
}

// IdentifyQueue staggers identifies. Shards share a bucket when their id
// modulo maxConcurrency is equal; each bucket lets one identify through per
// interval.
type IdentifyQueue struct {
	mu             sync.Mutex
	buckets        map[int]*rate.Limiter
	maxConcurrency int
	interval       time.Duration
	log            *slog.Logger
}

func NewIdentifyQueue(maxConcurrency int, interval time.Duration, log *slog.Logger) *IdentifyQueue {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if interval <= 0 {
		interval = DefaultIdentifyInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &IdentifyQueue{
		buckets:        make(map[int]*rate.Limiter),
		maxConcurrency: maxConcurrency,
		interval:       interval,
		log:            log,
	}
}

func (q *IdentifyQueue) Wait(ctx context.Context, shard ShardID) error {
	key := int(shard) % q.maxConcurrency
	q.mu.Lock()
	lim, ok := q.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(q.interval), 1)
		q.buckets[key] = lim
	}
	q.mu.Unlock()

	r := lim.Reserve()
	if d := r.Delay(); d > 0 {
		q.log.Debug("identify queued",
			slog.Int("shard", int(shard)),
			slog.Int("bucket", key),
			slog.Duration("wait", d),
		)
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	return nil
}

type noGate struct{}

func (noGate) Wait(context.Context, ShardID) error { return nil }
