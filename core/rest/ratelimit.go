package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"
)

const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerResetAfter = "X-RateLimit-Reset-After"
	headerBucket     = "X-RateLimit-Bucket"
	headerGlobal     = "X-RateLimit-Global"
	headerScope      = "X-RateLimit-Scope"
	headerRetryAfter = "Retry-After"
)

const stripeCount = 64

// Bucket is a snapshot of a rate limit bucket.
type Bucket struct {
	ID        string
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type bucket struct {
	mu        sync.Mutex
	id        string
	known     bool
	limit     int
	remaining int
	resetAt   time.Time

	// discovering is non-nil while the first request of an unknown bucket
	// is in flight. It is closed once that request is released.
	discovering chan struct{}

	// inflight counts permits not yet released. released is closed by the
	// next Release while acquirers wait for a window to be reported.
	inflight int
	released chan struct{}
}

type stripe struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type globalLock struct {
	mu    sync.Mutex
	until time.Time
}

// Permit is handed out by Acquire and must be passed back to Release.
type Permit struct {
	Key        BucketKey
	bucket     *bucket
	discovery  bool
	AcquiredAt time.Time
}

// Outcome tells the caller how to proceed after Release.
type Outcome struct {
	RateLimited bool
	Global      bool
	RetryAfter  time.Duration
}

type LimiterOptions struct {
	// GlobalRPS caps requests per second across all buckets. Zero disables
	// the proactive ceiling; the reactive global lock is always active.
	GlobalRPS float64
	Log       *slog.Logger
	Metrics   Metrics
}

// Limiter tracks per-bucket and global rate limits.
type Limiter struct {
	stripes [stripeCount]stripe
	aliases sync.Map // route string -> server bucket id
	global  globalLock
	rps     *rate.Limiter
	now     func() time.Time
	log     *slog.Logger
	metrics Metrics
}

func NewLimiter(opts LimiterOptions) *Limiter {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = NopMetrics()
	}
	l := &Limiter{
		now:     time.Now,
		log:     log.With(slog.String("component", "ratelimit")),
		metrics: m,
	}
	for i := range l.stripes {
		l.stripes[i].buckets = make(map[string]*bucket)
	}
	if opts.GlobalRPS > 0 {
		l.rps = rate.NewLimiter(rate.Limit(opts.GlobalRPS), max(1, int(opts.GlobalRPS)))
	}
	return l
}

func (l *Limiter) bucketID(key BucketKey) string {
	route := key.Route.String()
	if hash, ok := l.aliases.Load(route); ok {
		route = hash.(string)
	}
	if key.Major == "" {
		return route
	}
	return route + ":" + key.Major
}

func (l *Limiter) bucketFor(id string) *bucket {
	s := &l.stripes[xxhash.Sum64String(id)%stripeCount]
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[id]
	if !ok {
		b = &bucket{id: id}
		s.buckets[id] = b
	}
	return b
}

// Acquire blocks until a request for key may be sent.
func (l *Limiter) Acquire(ctx context.Context, key BucketKey) (*Permit, error) {
	for {
		if err := l.waitGlobal(ctx); err != nil {
			return nil, err
		}

		b := l.bucketFor(l.bucketID(key))
		b.mu.Lock()
		now := l.now()
		if b.known && !b.resetAt.IsZero() && !now.Before(b.resetAt) {
			b.remaining = b.limit
			b.resetAt = time.Time{}
		}

		switch {
		case !b.known && b.discovering != nil:
			wait := b.discovering
			b.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue

		case !b.known:
			b.discovering = make(chan struct{})
			b.inflight++
			b.mu.Unlock()
			return l.grant(ctx, key, b, true)

		case b.remaining > 0:
			b.remaining--
			b.inflight++
			b.mu.Unlock()
			return l.grant(ctx, key, b, false)

		case b.resetAt.IsZero() && (b.limit == 0 || b.inflight == 0):
			// unlimited route, or nothing in flight that could report the
			// next window
			b.inflight++
			b.mu.Unlock()
			return l.grant(ctx, key, b, false)

		case b.resetAt.IsZero():
			// the window reset locally and is used up; the next response
			// tells when it ends
			if b.released == nil {
				b.released = make(chan struct{})
			}
			wait := b.released
			b.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default:
			wait := b.resetAt.Sub(now)
			b.mu.Unlock()
			l.log.Debug("bucket exhausted, waiting",
				slog.String("bucket", b.id),
				slog.Duration("wait", wait),
			)
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
}

func (l *Limiter) grant(ctx context.Context, key BucketKey, b *bucket, discovery bool) (*Permit, error) {
	p := &Permit{Key: key, bucket: b, discovery: discovery}
	if l.rps != nil {
		if err := l.rps.Wait(ctx); err != nil {
			l.Release(p, 0, nil)
			return nil, err
		}
	}
	p.AcquiredAt = l.now()
	return p, nil
}

func (l *Limiter) waitGlobal(ctx context.Context) error {
	for {
		l.global.mu.Lock()
		wait := l.global.until.Sub(l.now())
		l.global.mu.Unlock()
		if wait <= 0 {
			return nil
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// LockGlobal blocks every bucket for d.
func (l *Limiter) LockGlobal(d time.Duration) {
	until := l.now().Add(d)
	l.global.mu.Lock()
	if until.After(l.global.until) {
		l.global.until = until
	}
	l.global.mu.Unlock()
	l.log.Warn("global rate limit engaged", slog.Duration("retry_after", d))
}

// GlobalLockedUntil returns the end of the current global lock, zero if none.
func (l *Limiter) GlobalLockedUntil() time.Time {
	l.global.mu.Lock()
	defer l.global.mu.Unlock()
	if l.global.until.Before(l.now()) {
		return time.Time{}
	}
	return l.global.until
}

// Release records the response of a request made under p. status is zero
// when no response was received.
func (l *Limiter) Release(p *Permit, status int, h http.Header) Outcome {
	var out Outcome
	b := p.bucket
	now := l.now()

	limit, hasLimit := headerInt(h, headerLimit)
	remaining, hasRemaining := headerInt(h, headerRemaining)
	resetAfter, hasReset := headerSeconds(h, headerResetAfter)
	hash := h.Get(headerBucket)

	b.mu.Lock()
	if hasLimit || hasRemaining || hasReset {
		b.known = true
		if hasLimit {
			b.limit = limit
		}
		if hasRemaining {
			b.remaining = max(0, remaining)
		}
		if hasReset {
			b.resetAt = now.Add(resetAfter)
		}
	} else if p.discovery && status != 0 {
		// No limit headers: the route is not limited per bucket.
		b.known = true
	}

	if status == http.StatusTooManyRequests {
		out.RateLimited = true
		out.RetryAfter, _ = headerSeconds(h, headerRetryAfter)
		if out.RetryAfter <= 0 {
			out.RetryAfter = resetAfter
		}
		out.Global = h.Get(headerGlobal) == "true" || h.Get(headerScope) == "global"
		if !out.Global {
			b.known = true
			b.remaining = 0
			if until := now.Add(out.RetryAfter); until.After(b.resetAt) {
				b.resetAt = until
			}
		}
	}

	if p.discovery && b.discovering != nil {
		close(b.discovering)
		b.discovering = nil
	}
	if b.inflight > 0 {
		b.inflight--
	}
	if b.released != nil {
		close(b.released)
		b.released = nil
	}
	snapshot := Bucket{ID: b.id, Limit: b.limit, Remaining: b.remaining, ResetAt: b.resetAt}
	known := b.known
	b.mu.Unlock()

	if out.RateLimited {
		l.metrics.RateLimited(p.Key.Route.String(), out.Global)
		if out.Global {
			l.LockGlobal(out.RetryAfter)
		}
	}

	if hash != "" {
		l.alias(p.Key, hash, snapshot, known)
	}
	return out
}

// alias maps the route to the server bucket id and hands the aliased bucket
// the state just learned.
func (l *Limiter) alias(key BucketKey, hash string, state Bucket, known bool) {
	route := key.Route.String()
	if prev, loaded := l.aliases.Swap(route, hash); loaded && prev.(string) == hash {
		return
	}
	l.log.Debug("bucket discovered", slog.String("route", route), slog.String("bucket", hash))

	b := l.bucketFor(l.bucketID(key))
	b.mu.Lock()
	if known {
		b.known = true
		b.limit = state.Limit
		b.remaining = state.Remaining
		b.resetAt = state.ResetAt
	}
	b.mu.Unlock()
}

// Defer keeps the bucket of p exhausted for at least d. It covers 429
// responses whose wait is only reported in the body.
func (l *Limiter) Defer(p *Permit, d time.Duration) {
	if d <= 0 {
		return
	}
	until := l.now().Add(d)
	b := p.bucket
	b.mu.Lock()
	b.known = true
	b.remaining = 0
	if until.After(b.resetAt) {
		b.resetAt = until
	}
	b.mu.Unlock()
}

// Bucket returns a snapshot of the bucket key currently resolves to.
func (l *Limiter) Bucket(key BucketKey) (Bucket, bool) {
	id := l.bucketID(key)
	s := &l.stripes[xxhash.Sum64String(id)%stripeCount]
	s.mu.Lock()
	b, ok := s.buckets[id]
	s.mu.Unlock()
	if !ok {
		return Bucket{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return Bucket{ID: b.id, Limit: b.limit, Remaining: b.remaining, ResetAt: b.resetAt}, b.known
}

func headerInt(h http.Header, name string) (int, bool) {
	v := h.Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func headerSeconds(h http.Header, name string) (time.Duration, bool) {
	v := h.Get(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
