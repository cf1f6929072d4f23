package rest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitHeaders(limit, remaining, resetAfter string) http.Header {
	h := http.Header{}
	h.Set(headerLimit, limit)
	h.Set(headerRemaining, remaining)
	h.Set(headerResetAfter, resetAfter)
	return h
}

func TestLimiter_UnknownBucketIsOptimistic(t *testing.T) {
	l := NewLimiter(LimiterOptions{})
	key := NewRequest(RouteCreateMessage, "channel_id", "1").BucketKey()

	p, err := l.Acquire(t.Context(), key)
	require.NoError(t, err)

	second := make(chan *Permit, 1)
	go func() {
		p2, err := l.Acquire(context.Background(), key)
		if err == nil {
			second <- p2
		}
	}()

	select {
	case <-second:
		t.Fatal("second request must wait for bucket discovery")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release(p, http.StatusOK, limitHeaders("5", "4", "10"))

	select {
	case p2 := <-second:
		l.Release(p2, http.StatusOK, limitHeaders("5", "3", "10"))
	case <-time.After(time.Second):
		t.Fatal("second request was not released after discovery")
	}

	b, known := l.Bucket(key)
	require.True(t, known)
	assert.Equal(t, 5, b.Limit)
	assert.Equal(t, 3, b.Remaining)
}

func TestLimiter_BlocksUntilReset(t *testing.T) {
	l := NewLimiter(LimiterOptions{})
	key := NewRequest(RouteCreateMessage, "channel_id", "1").BucketKey()

	p, err := l.Acquire(t.Context(), key)
	require.NoError(t, err)
	l.Release(p, http.StatusOK, limitHeaders("1", "0", "0.3"))

	start := time.Now()
	p, err = l.Acquire(t.Context(), key)
	require.NoError(t, err)
	waited := time.Since(start)
	assert.GreaterOrEqual(t, waited, 250*time.Millisecond)
	assert.Less(t, waited, time.Second)

	// fresh window with capacity left: no wait
	l.Release(p, http.StatusOK, limitHeaders("2", "1", "5"))
	start = time.Now()
	p, err = l.Acquire(t.Context(), key)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	l.Release(p, http.StatusOK, limitHeaders("2", "0", "5"))

	b, _ := l.Bucket(key)
	assert.Equal(t, 0, b.Remaining)
}

func TestLimiter_AcquireRespectsContext(t *testing.T) {
	l := NewLimiter(LimiterOptions{})
	key := NewRequest(RouteCreateMessage, "channel_id", "1").BucketKey()

	p, err := l.Acquire(t.Context(), key)
	require.NoError(t, err)
	l.Release(p, http.StatusOK, limitHeaders("1", "0", "30"))

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_Global429BlocksAllBuckets(t *testing.T) {
	l := NewLimiter(LimiterOptions{})
	a := NewRequest(RouteCreateMessage, "channel_id", "1").BucketKey()
	b := NewRequest(RouteGetGuild, "guild_id", "2").BucketKey()

	for _, key := range []BucketKey{a, b} {
		p, err := l.Acquire(t.Context(), key)
		require.NoError(t, err)
		l.Release(p, http.StatusOK, limitHeaders("10", "9", "60"))
	}

	p, err := l.Acquire(t.Context(), a)
	require.NoError(t, err)
	h := http.Header{}
	h.Set(headerGlobal, "true")
	h.Set(headerRetryAfter, "0.3")
	out := l.Release(p, http.StatusTooManyRequests, h)
	assert.True(t, out.RateLimited)
	assert.True(t, out.Global)
	assert.False(t, l.GlobalLockedUntil().IsZero())

	start := time.Now()
	p, err = l.Acquire(t.Context(), b)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
	l.Release(p, http.StatusOK, limitHeaders("10", "8", "60"))

	// bucket b kept its own state through the global lock
	bs, _ := l.Bucket(b)
	assert.Equal(t, 8, bs.Remaining)
}

func TestLimiter_Bucket429OnlyBlocksThatBucket(t *testing.T) {
	l := NewLimiter(LimiterOptions{})
	a := NewRequest(RouteCreateMessage, "channel_id", "1").BucketKey()
	b := NewRequest(RouteCreateMessage, "channel_id", "2").BucketKey()

	p, err := l.Acquire(t.Context(), a)
	require.NoError(t, err)
	h := http.Header{}
	h.Set(headerRetryAfter, "5")
	h.Set(headerScope, "user")
	out := l.Release(p, http.StatusTooManyRequests, h)
	assert.False(t, out.Global)
	assert.Equal(t, 5*time.Second, out.RetryAfter)

	start := time.Now()
	p, err = l.Acquire(t.Context(), b)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	l.Release(p, http.StatusOK, nil)

	as, _ := l.Bucket(a)
	assert.Equal(t, 0, as.Remaining)
	assert.True(t, as.ResetAt.After(time.Now().Add(4*time.Second)))
}

func TestLimiter_BucketHashAliasesRoutes(t *testing.T) {
	l := NewLimiter(LimiterOptions{})
	edit := NewRequest(RouteEditMessage, "channel_id", "1", "message_id", "2").BucketKey()
	del := NewRequest(RouteDeleteMessage, "channel_id", "1", "message_id", "3").BucketKey()

	p, err := l.Acquire(t.Context(), edit)
	require.NoError(t, err)
	h := limitHeaders("5", "4", "5")
	h.Set(headerBucket, "abcd")
	l.Release(p, http.StatusOK, h)

	b, known := l.Bucket(edit)
	require.True(t, known)
	assert.Equal(t, "abcd:1", b.ID)
	assert.Equal(t, 4, b.Remaining)

	p, err = l.Acquire(t.Context(), del)
	require.NoError(t, err)
	h = limitHeaders("5", "3", "5")
	h.Set(headerBucket, "abcd")
	l.Release(p, http.StatusOK, h)

	b, _ = l.Bucket(edit)
	assert.Equal(t, 3, b.Remaining, "routes reporting the same bucket share state")
}

func TestLimiter_ProactiveGlobalRate(t *testing.T) {
	l := NewLimiter(LimiterOptions{GlobalRPS: 10})
	start := time.Now()
	for i := range 12 {
		key := NewRequest(RouteGetChannel, "channel_id", string(rune('a'+i))).BucketKey()
		p, err := l.Acquire(t.Context(), key)
		require.NoError(t, err)
		l.Release(p, http.StatusOK, nil)
	}
	// burst of 10, two more at 10/s
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestLimiter_LocalResetAdmitsOneWindow(t *testing.T) {
	l := NewLimiter(LimiterOptions{})
	key := NewRequest(RouteCreateMessage, "channel_id", "1").BucketKey()

	p, err := l.Acquire(t.Context(), key)
	require.NoError(t, err)
	l.Release(p, http.StatusOK, limitHeaders("1", "0", "0.1"))
	time.Sleep(150 * time.Millisecond)

	// the window has passed: one request fits
	p, err = l.Acquire(t.Context(), key)
	require.NoError(t, err)

	second := make(chan *Permit, 1)
	go func() {
		p2, err := l.Acquire(context.Background(), key)
		if err == nil {
			second <- p2
		}
	}()
	select {
	case <-second:
		t.Fatal("limit 1 bucket admitted a second request before the first was released")
	case <-time.After(100 * time.Millisecond):
	}

	l.Release(p, http.StatusOK, limitHeaders("1", "0", "0.1"))
	select {
	case p2 := <-second:
		l.Release(p2, http.StatusOK, limitHeaders("1", "0", "5"))
	case <-time.After(time.Second):
		t.Fatal("waiting request not admitted after the next window")
	}
}

func TestLimiter_FailedRequestFreesLocalWindow(t *testing.T) {
	l := NewLimiter(LimiterOptions{})
	key := NewRequest(RouteCreateMessage, "channel_id", "1").BucketKey()

	p, err := l.Acquire(t.Context(), key)
	require.NoError(t, err)
	l.Release(p, http.StatusOK, limitHeaders("1", "0", "0.05"))
	time.Sleep(100 * time.Millisecond)

	p, err = l.Acquire(t.Context(), key)
	require.NoError(t, err)

	second := make(chan *Permit, 1)
	go func() {
		p2, err := l.Acquire(context.Background(), key)
		if err == nil {
			second <- p2
		}
	}()
	time.Sleep(50 * time.Millisecond)

	// no response: nothing will report the window, so the waiter goes next
	l.Release(p, 0, nil)
	select {
	case p2 := <-second:
		l.Release(p2, http.StatusOK, limitHeaders("1", "0", "5"))
	case <-time.After(time.Second):
		t.Fatal("waiting request stuck after a request without response")
	}
}

func TestLimiter_Defer(t *testing.T) {
	l := NewLimiter(LimiterOptions{})
	key := NewRequest(RouteDeleteChannel, "channel_id", "1").BucketKey()

	p, err := l.Acquire(t.Context(), key)
	require.NoError(t, err)
	out := l.Release(p, http.StatusTooManyRequests, nil)
	require.True(t, out.RateLimited)
	assert.Zero(t, out.RetryAfter)
	l.Defer(p, 200*time.Millisecond)

	start := time.Now()
	p, err = l.Acquire(t.Context(), key)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	l.Release(p, http.StatusOK, nil)
}
