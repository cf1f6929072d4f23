// Package events delivers gateway events to the cache and to application
// handlers. Events of one shard are handled one at a time in publish order;
// different shards proceed in parallel.
package events

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codewandler/shardgate/core/cache"
	"github.com/codewandler/shardgate/core/gateway"
	"github.com/codewandler/shardgate/core/model"
)

type Handler func(Event)

// On subscribes fn to events of type E only.
func On[E Event](b *Bus, fn func(E)) (unsubscribe func()) {
	return b.Subscribe(func(e Event) {
		if ev, ok := e.(E); ok {
			fn(ev)
		}
	})
}

type Options struct {
	// BufferSize is the queue length per shard (default: 1024). Publish
	// blocks while a shard's queue is full.
	BufferSize int
	// Cache sees every event before the handlers do.
	Cache cache.Cache
	Log   *slog.Logger
}

type subscription struct {
	id uint64
	fn Handler
}

// Bus fans events out per shard.
type Bus struct {
	cache cache.Cache
	log   *slog.Logger

	mu         sync.Mutex
	workers    map[int]*worker
	closed     bool
	inflight   sync.WaitGroup // publishes that hold a worker reference
	running    sync.WaitGroup // worker goroutines
	bufferSize int

	subs   atomic.Pointer[[]subscription]
	nextID atomic.Uint64
}

type worker struct {
	shard  int
	events chan Event
}

func New(opts Options) *Bus {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNop()
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	b := &Bus{
		cache:      opts.Cache,
		log:        log.With(slog.String("component", "event_bus")),
		workers:    make(map[int]*worker),
		bufferSize: opts.BufferSize,
	}
	b.subs.Store(&[]subscription{})
	return b
}

// Subscribe registers h for all events. Handlers run on the shard's worker
// and must not block for long.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	id := b.nextID.Add(1)
	for {
		old := b.subs.Load()
		next := append(append([]subscription(nil), *old...), subscription{id: id, fn: h})
		if b.subs.CompareAndSwap(old, &next) {
			break
		}
	}
	return func() {
		for {
			old := b.subs.Load()
			next := make([]subscription, 0, len(*old))
			for _, s := range *old {
				if s.id != id {
					next = append(next, s)
				}
			}
			if b.subs.CompareAndSwap(old, &next) {
				return
			}
		}
	}
}

// Publish queues e on its shard. It blocks while the queue is full, until
// ctx ends. An event that fits the queue is taken even after ctx ended.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.inflight.Add(1)
	w := b.workerLocked(e.ShardID())
	b.mu.Unlock()
	defer b.inflight.Done()

	select {
	case w.events <- e:
		return nil
	default:
	}
	select {
	case w.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch, StageChanged and SessionInvalidated match the gateway callbacks.
// They wait for queue space until the runner's ctx ends and drop the event
// after that.

func (b *Bus) Dispatch(ctx context.Context, e model.DispatchEvent) {
	b.publish(ctx, Dispatch{DispatchEvent: e})
}

func (b *Bus) StageChanged(ctx context.Context, id gateway.ShardID, from, to gateway.Stage) {
	b.publish(ctx, StageChanged{Shard: id, From: from, To: to, At: time.Now()})
}

func (b *Bus) SessionInvalidated(ctx context.Context, id gateway.ShardID, total int) {
	b.publish(ctx, SessionInvalidated{Shard: id, Total: total, At: time.Now()})
}

func (b *Bus) publish(ctx context.Context, e Event) {
	if err := b.Publish(ctx, e); err != nil {
		b.log.Warn("event dropped", slog.Int("shard", e.ShardID()), slog.Any("error", err))
	}
}

// Close stops accepting events and waits until every queued event has been
// handled.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.inflight.Wait()

	b.mu.Lock()
	for _, w := range b.workers {
		close(w.events)
	}
	b.workers = nil
	b.mu.Unlock()

	b.running.Wait()
}

func (b *Bus) workerLocked(shard int) *worker {
	w, ok := b.workers[shard]
	if ok {
		return w
	}
	w = &worker{shard: shard, events: make(chan Event, b.bufferSize)}
	b.workers[shard] = w
	b.running.Add(1)
	go b.run(w)
	return w
}

func (b *Bus) run(w *worker) {
	defer b.running.Done()
	for e := range w.events {
		b.handle(e)
	}
}

func (b *Bus) handle(e Event) {
	switch ev := e.(type) {
	case Dispatch:
		if err := b.cache.Apply(ev.DispatchEvent); err != nil {
			b.log.Warn("cache update failed",
				slog.Int("shard", ev.Shard),
				slog.String("event", string(ev.Name)),
				slog.Any("error", err),
			)
		}
	case SessionInvalidated:
		b.cache.InvalidateShard(int(ev.Shard), ev.Total)
	}

	for _, s := range *b.subs.Load() {
		b.safeHandle(s.fn, e)
	}
}

func (b *Bus) safeHandle(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				slog.Int("shard", e.ShardID()),
				slog.Any("recovered", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	h(e)
}
