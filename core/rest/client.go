package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL   = "https://discord.com/api/v10"
	DefaultUserAgent = "DiscordBot (https://github.com/codewandler/shardgate, 0.1.0)"
)

// RetryPolicy bounds how often and how patiently a request is retried.
type RetryPolicy struct {
	MaxRateLimitRetries int
	MaxServerRetries    int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	Multiplier          float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRateLimitRetries: 5,
		MaxServerRetries:    3,
		InitialBackoff:      500 * time.Millisecond,
		MaxBackoff:          10 * time.Second,
		Multiplier:          2,
	}
}

// Backoff returns the wait before retry number attempt (starting at 1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRateLimitRetries <= 0 {
		p.MaxRateLimitRetries = def.MaxRateLimitRetries
	}
	if p.MaxServerRetries < 0 {
		p.MaxServerRetries = 0
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// ResponseObserver sees every successful response. issuedAt is the time the
// request that produced it was sent.
type ResponseObserver interface {
	ObserveResponse(req *Request, resp *Response, issuedAt time.Time)
}

type ClientOptions struct {
	Token     string
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
	// MaxConcurrent bounds requests in flight. Defaults to 32.
	MaxConcurrent int64
	// MaxPending bounds requests waiting or in flight. Zero means unbounded.
	MaxPending int64
	// GlobalRPS is the proactive global ceiling. Defaults to 50, negative disables.
	GlobalRPS float64
	Retry     RetryPolicy
	Observer  ResponseObserver
	Metrics   Metrics
	Log       *slog.Logger
}

// Client executes requests against the API within rate limits.
type Client struct {
	opts     ClientOptions
	http     *http.Client
	limiter  *Limiter
	sem      *semaphore.Weighted
	group    singleflight.Group
	pending  atomic.Int64
	inflight atomic.Int64
	retry    RetryPolicy
	metrics  Metrics
	log      *slog.Logger
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Token == "" {
		return nil, ErrNoToken
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 32
	}
	if opts.GlobalRPS == 0 {
		opts.GlobalRPS = 50
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		opts:    opts,
		http:    opts.HTTP,
		sem:     semaphore.NewWeighted(opts.MaxConcurrent),
		retry:   opts.Retry.withDefaults(),
		metrics: opts.Metrics,
		log:     log.With(slog.String("component", "rest")),
	}
	c.limiter = NewLimiter(LimiterOptions{
		GlobalRPS: max(0, opts.GlobalRPS),
		Log:       log,
		Metrics:   opts.Metrics,
	})
	return c, nil
}

func (c *Client) Limiter() *Limiter { return c.limiter }

// SetObserver replaces the response observer. It must be called before the
// client is shared.
func (c *Client) SetObserver(o ResponseObserver) { c.opts.Observer = o }

// Execute sends req, waiting for its bucket and retrying transient failures.
// Identical concurrent GET requests share one round trip.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	if c.opts.MaxPending > 0 {
		if n := c.pending.Add(1); n > c.opts.MaxPending {
			c.pending.Add(-1)
			return nil, &Error{Kind: KindResourceExhausted, Route: req.Route, Message: "too many pending requests"}
		}
		defer c.pending.Add(-1)
	}

	if req.Route.Method != MethodGet || req.Body != nil {
		return c.execute(ctx, req)
	}

	key, err := flightKey(req)
	if err != nil {
		return nil, err
	}
	ch := c.group.DoChan(key, func() (any, error) {
		// detached so one caller's cancellation does not fail the others
		return c.execute(context.WithoutCancel(ctx), req)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp := res.Val.(*Response)
		if res.Shared {
			resp = &Response{Status: resp.Status, Header: resp.Header.Clone(), Body: bytes.Clone(resp.Body)}
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flightKey identifies GET requests that may share one round trip: same
// path, reason and headers.
func flightKey(req *Request) (string, error) {
	path, err := req.Path()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(path)
	sb.WriteString("\x00")
	sb.WriteString(req.Reason)
	names := slices.Sorted(maps.Keys(req.Headers))
	for _, name := range names {
		for _, v := range req.Headers[name] {
			sb.WriteString("\x00")
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(v)
		}
	}
	return sb.String(), nil
}

func (c *Client) execute(ctx context.Context, req *Request) (*Response, error) {
	path, err := req.Path()
	if err != nil {
		return nil, err
	}
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Route: req.Route, Err: err}
	}

	var (
		route      = req.Route.String()
		key        = req.BucketKey()
		log        = c.log.With(slog.String("request_id", uuid.NewString()), slog.String("route", route))
		rlRetries  int
		srvRetries int
	)

	for attempt := 1; ; attempt++ {
		wait := c.metrics.LimiterWait(route)
		permit, err := c.limiter.Acquire(ctx, key)
		wait.ObserveDuration()
		if err != nil {
			return nil, err
		}

		// the slot is taken after the bucket admits the request so requests
		// parked on an exhausted bucket do not hold it
		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.limiter.Release(permit, 0, nil)
			return nil, err
		}
		c.metrics.InFlight(int(c.inflight.Add(1)))
		issuedAt := time.Now()
		resp, err := c.roundTrip(ctx, req, path, body, contentType)
		c.metrics.InFlight(int(c.inflight.Add(-1)))
		c.sem.Release(1)
		if err != nil {
			c.limiter.Release(permit, 0, nil)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			srvRetries++
			if srvRetries > c.retry.MaxServerRetries {
				return nil, &Error{Kind: KindNetwork, Route: req.Route, Attempts: attempt, Err: err}
			}
			c.metrics.Retry(route, "network")
			backoff := c.retry.Backoff(srvRetries)
			log.Warn("request failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.Any("error", err),
			)
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}

		outcome := c.limiter.Release(permit, resp.Status, resp.Header)
		c.metrics.RequestCompleted(route, resp.Status)

		switch {
		case resp.Status >= 200 && resp.Status < 300:
			log.Debug("request completed", slog.Int("status", resp.Status), slog.Int("attempt", attempt))
			if c.opts.Observer != nil {
				c.opts.Observer.ObserveResponse(req, resp, issuedAt)
			}
			return resp, nil

		case resp.Status == http.StatusTooManyRequests:
			var rl struct {
				RetryAfter float64 `json:"retry_after"`
				Global     bool    `json:"global"`
			}
			_ = json.Unmarshal(resp.Body, &rl)
			bodyWait := time.Duration(rl.RetryAfter * float64(time.Second))
			rlRetries++
			switch {
			case rl.Global && !outcome.Global:
				c.limiter.LockGlobal(bodyWait)
			case !outcome.Global && outcome.RetryAfter <= 0:
				if bodyWait <= 0 {
					bodyWait = c.retry.Backoff(rlRetries)
				}
				c.limiter.Defer(permit, bodyWait)
				outcome.RetryAfter = bodyWait
			}
			if rlRetries > c.retry.MaxRateLimitRetries {
				return nil, &Error{Kind: KindRateLimited, Route: req.Route, Status: resp.Status, Attempts: attempt}
			}
			c.metrics.Retry(route, "rate_limited")
			log.Warn("rate limited",
				slog.Bool("global", outcome.Global || rl.Global),
				slog.Duration("retry_after", outcome.RetryAfter),
				slog.Int("attempt", attempt),
			)

		case resp.Status >= 500:
			srvRetries++
			if srvRetries > c.retry.MaxServerRetries {
				return nil, newResponseError(req.Route, resp, attempt)
			}
			c.metrics.Retry(route, "server")
			backoff := c.retry.Backoff(srvRetries)
			log.Warn("server error, retrying",
				slog.Int("status", resp.Status),
				slog.Duration("backoff", backoff),
			)
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}

		default:
			return nil, newResponseError(req.Route, resp, attempt)
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, req *Request, path string, body []byte, contentType string) (*Response, error) {
	defer c.metrics.RequestDuration(req.Route.String()).ObserveDuration()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, string(req.Route.Method), c.opts.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Authorization", "Bot "+c.opts.Token)
	httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.Reason != "" {
		httpReq.Header.Set("X-Audit-Log-Reason", req.Reason)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "application/json", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
}

func newResponseError(route Route, resp *Response, attempts int) *Error {
	e := &Error{
		Kind:     kindForStatus(resp.Status),
		Route:    route,
		Status:   resp.Status,
		Attempts: attempts,
	}
	var body apiError
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		e.Code = body.Code
		e.Message = body.Message
	} else if len(resp.Body) > 0 {
		e.Err = errors.New("undecodable error body")
	}
	return e
}
