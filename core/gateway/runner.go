package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/time/rate"

	"github.com/codewandler/shardgate/core/model"
	"github.com/codewandler/shardgate/internal/codec"
)

// Backoff is an exponential delay between reconnect attempts.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter in [0,1] shortens each delay by up to that fraction.
	Jitter float64
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 2 * time.Minute, Multiplier: 2, Jitter: 0.2}
}

// Duration returns the delay before attempt n (starting at 1).
func (b Backoff) Duration(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(n-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d -= d * b.Jitter * rand.Float64()
	}
	return time.Duration(d)
}

type RunnerOptions struct {
	ID         ShardID
	Total      int
	Token      string
	Intents    Intents
	GatewayURL string

	Properties     IdentifyProperties
	LargeThreshold int
	Presence       *PresenceUpdate

	Dialer       Dialer
	IdentifyGate IdentifyGate
	Sessions     SessionStore

	Backoff            Backoff
	MaxConnectAttempts int
	HandshakeTimeout   time.Duration
	MaxMissedAcks      int
	// CommandsPerMinute bounds outbound commands. Heartbeats are exempt.
	CommandsPerMinute int

	// OnDispatch is called from the runner goroutine for every accepted
	// dispatch, in sequence order. ctx ends when the runner is closed or its
	// Run context ends; a callback that may block must give up then.
	OnDispatch func(ctx context.Context, e model.DispatchEvent)
	// OnStage is called from the runner goroutine on every stage change,
	// with the same ctx as OnDispatch.
	OnStage func(ctx context.Context, id ShardID, from, to Stage)
	// OnSessionInvalidated is called when a session is discarded and the
	// next connection will identify from scratch.
	OnSessionInvalidated func(ctx context.Context, id ShardID)

	Metrics Metrics
	Log     *slog.Logger
}

type command struct {
	op        Opcode
	d         any
	reconnect bool
	done      chan error
}

type readResult struct {
	data []byte
	err  error
}

// Runner drives one Shard over successive connections until it is closed,
// its context ends or a fatal close code arrives.
type Runner struct {
	opts    RunnerOptions
	log     *slog.Logger
	metrics Metrics
	codec   codec.Codec
	limiter *rate.Limiter

	shard  *Shard
	status atomic.Pointer[Status]

	cmds           chan command
	closing        chan struct{}
	closeOnce      sync.Once
	closeResumable atomic.Bool
	running        atomic.Bool
}

func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Token == "" {
		return nil, ErrNoToken
	}
	if opts.Total < 1 {
		opts.Total = 1
	}
	if opts.ID < 0 || int(opts.ID) >= opts.Total {
		return nil, fmt.Errorf("%w: %d of %d", ErrUnknownShard, opts.ID, opts.Total)
	}
	if opts.Dialer == nil {
		opts.Dialer = NewWebsocketDialer()
	}
	if opts.IdentifyGate == nil {
		opts.IdentifyGate = noGate{}
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.Backoff.Multiplier < 1 {
		opts.Backoff.Multiplier = 1
	}
	if opts.Backoff.Max < opts.Backoff.Initial {
		opts.Backoff.Max = opts.Backoff.Initial
	}
	if opts.MaxConnectAttempts <= 0 {
		opts.MaxConnectAttempts = 10
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 30 * time.Second
	}
	if opts.CommandsPerMinute <= 0 {
		opts.CommandsPerMinute = 110
	}
	if opts.Properties.OS == "" {
		opts.Properties = IdentifyProperties{OS: runtime.GOOS, Browser: "shardgate", Device: "shardgate"}
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	r := &Runner{
		opts:    opts,
		log:     log.With(slog.Int("shard", int(opts.ID)), slog.Int("total", opts.Total)),
		metrics: opts.Metrics,
		codec:   codec.JSON{},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.CommandsPerMinute)), opts.CommandsPerMinute),
		shard:   NewShard(opts.ID, opts.Total, opts.MaxMissedAcks),
		cmds:    make(chan command),
		closing: make(chan struct{}),
	}
	r.publish()
	return r, nil
}

func (r *Runner) ID() ShardID { return r.opts.ID }

func (r *Runner) Status() Status { return *r.status.Load() }

func (r *Runner) publish() {
	st := r.shard.Status()
	r.status.Store(&st)
}

func (r *Runner) setStage(ctx context.Context, st Stage) {
	prev := r.shard.setStage(st)
	if prev == st {
		return
	}
	r.publish()
	r.metrics.StageChanged(r.opts.ID, st)
	r.log.Debug("stage changed", slog.String("from", prev.String()), slog.String("to", st.String()))
	if r.opts.OnStage != nil {
		r.opts.OnStage(ctx, r.opts.ID, prev, st)
	}
}

// Close asks the runner to close its socket and return from Run. With
// resumable set the socket is closed so that the session can be resumed
// later, and the session is kept in the session store.
func (r *Runner) Close(resumable bool) {
	r.closeOnce.Do(func() {
		r.closeResumable.Store(resumable)
		close(r.closing)
	})
}

func (r *Runner) isClosing() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

// Run connects and keeps the shard connected. It returns nil after Close,
// the context error when ctx ends, a *FatalError for unrecoverable close
// codes and ErrReconnectExhausted after too many failed connects in a row.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("runner already running")
	}
	defer r.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	r.loadSession(ctx)

	failures := 0
	for {
		connected, err := r.connection(ctx)
		if r.isClosing() {
			r.finish(ctx)
			return nil
		}
		if ctx.Err() != nil {
			r.finish(ctx)
			return ctx.Err()
		}

		disp := r.disposition(err)
		r.log.Warn("connection ended",
			slog.String("disposition", disp.String()),
			slog.Bool("was_connected", connected),
			slog.Any("error", err),
		)
		r.metrics.Reconnect(r.opts.ID, disp)

		switch disp {
		case Fatal:
			r.dropSession(ctx)
			r.setStage(ctx, StageDisconnected)
			return &FatalError{Shard: r.opts.ID, Err: err}
		case Reidentify:
			r.dropSession(ctx)
		case Resume:
			r.saveSession(ctx)
		}

		if connected {
			failures = 0
		} else {
			failures++
		}
		if failures >= r.opts.MaxConnectAttempts {
			r.setStage(ctx, StageDisconnected)
			return fmt.Errorf("shard %d: %w after %d attempts: %w", r.opts.ID, ErrReconnectExhausted, failures, err)
		}

		r.setStage(ctx, StageDisconnected)
		wait := r.opts.Backoff.Duration(failures)
		if failures == 0 {
			wait = time.Duration(float64(r.opts.Backoff.Initial) * rand.Float64())
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			r.finish(ctx)
			if r.isClosing() {
				return nil
			}
			return ctx.Err()
		}
	}
}

// finish persists or drops the session depending on how the runner was
// stopped.
func (r *Runner) finish(ctx context.Context) {
	if r.isClosing() && r.closeResumable.Load() {
		r.saveSession(ctx)
	} else {
		r.dropSession(ctx)
	}
	r.setStage(ctx, StageDisconnected)
}

func (r *Runner) disposition(err error) Disposition {
	var (
		ce *CloseError
		rr *reconnectRequest
	)
	switch {
	case errors.As(err, &ce):
		return Classify(ce.Code)
	case errors.As(err, &rr):
		if rr.resumable {
			return Resume
		}
		return Reidentify
	case errors.Is(err, ErrZombied):
		return Reidentify
	default:
		return Resume
	}
}

func (r *Runner) loadSession(ctx context.Context) {
	if r.opts.Sessions == nil || r.shard.CanResume() {
		return
	}
	sess, err := r.opts.Sessions.Load(ctx, r.opts.ID)
	if err != nil {
		r.log.Warn("failed to load session", slog.Any("error", err))
		return
	}
	if sess != nil {
		r.log.Info("restored session", slog.String("session_id", sess.ID), slog.Int64("seq", sess.Sequence))
		r.shard.restore(sess)
		r.publish()
	}
}

func (r *Runner) saveSession(ctx context.Context) {
	sess := r.shard.Session()
	if r.opts.Sessions == nil || sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.opts.Sessions.Save(ctx, r.opts.ID, *sess); err != nil {
		r.log.Warn("failed to save session", slog.Any("error", err))
	}
}

func (r *Runner) dropSession(ctx context.Context) {
	had := r.shard.CanResume()
	r.shard.Invalidate()
	r.publish()
	if r.opts.Sessions != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := r.opts.Sessions.Delete(ctx, r.opts.ID); err != nil {
			r.log.Warn("failed to delete session", slog.Any("error", err))
		}
	}
	if had {
		r.log.Info("session invalidated")
		if r.opts.OnSessionInvalidated != nil {
			r.opts.OnSessionInvalidated(ctx, r.opts.ID)
		}
	}
}

// connection runs a single socket until it ends. connected reports whether
// the shard reached StageConnected on it.
func (r *Runner) connection(ctx context.Context) (connected bool, err error) {
	url := r.opts.GatewayURL
	if sess := r.shard.Session(); sess != nil && sess.ResumeURL != "" {
		url = sess.ResumeURL
	}

	r.setStage(ctx, StageConnecting)
	conn, err := r.opts.Dialer.Dial(ctx, url)
	if err != nil {
		return false, err
	}

	var (
		frames     = make(chan readResult)
		stopReader = make(chan struct{})
		readerDone = make(chan struct{})
	)
	go readLoop(conn, frames, stopReader, readerDone)

	closeCode := CloseUnknownError
	defer func() {
		close(stopReader)
		_ = conn.Close(closeCode, "")
		<-readerDone
	}()

	// ends with this socket so a queued identify gives its slot back
	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	r.setStage(ctx, StageHandshake)
	handshake := time.NewTimer(r.opts.HandshakeTimeout)
	defer handshake.Stop()

	var (
		hb            *time.Timer
		hbC           <-chan time.Time
		identifyReady <-chan error
	)
	defer func() {
		if hb != nil {
			hb.Stop()
		}
	}()

	for {
		select {
		case res := <-frames:
			if res.err != nil {
				return connected, res.err
			}
			var f Frame
			if err := r.codec.Unmarshal(res.data, &f); err != nil {
				r.log.Warn("undecodable frame", slog.Any("error", err))
				continue
			}

			switch f.Op {
			case OpHello:
				if hb != nil {
					continue
				}
				handshake.Stop()
				var h Hello
				if err := json.Unmarshal(f.D, &h); err != nil || h.HeartbeatInterval <= 0 {
					return connected, fmt.Errorf("invalid hello: %s", string(f.D))
				}
				interval := time.Duration(h.HeartbeatInterval) * time.Millisecond
				r.shard.onHello(interval)
				hb = time.NewTimer(time.Duration(float64(interval) * rand.Float64()))
				hbC = hb.C
				r.log.Debug("hello", slog.Duration("heartbeat_interval", interval))

				if sess := r.shard.Session(); sess != nil {
					r.setStage(ctx, StageResuming)
					err := r.send(ctx, conn, OpResume, ResumePayload{Token: r.opts.Token, SessionID: sess.ID, Seq: sess.Sequence})
					if err != nil {
						return connected, err
					}
					r.log.Info("resuming", slog.String("session_id", sess.ID), slog.Int64("seq", sess.Sequence))
				} else {
					r.setStage(ctx, StageIdentifying)
					identifyReady = r.waitIdentify(connCtx)
				}

			case OpDispatch:
				if r.dispatch(ctx, f) {
					connected = true
				}

			case OpHeartbeat:
				if err := r.heartbeat(ctx, conn); err != nil {
					return connected, err
				}

			case OpHeartbeatAck:
				now := time.Now()
				r.shard.Ack(now)
				r.publish()
				r.metrics.HeartbeatLatency(r.opts.ID, r.shard.hb.latency)

			case OpReconnect:
				return connected, &reconnectRequest{resumable: true, reason: "server requested reconnect"}

			case OpInvalidSession:
				var resumable bool
				_ = json.Unmarshal(f.D, &resumable)
				if !resumable {
					closeCode = CloseNormal
				}
				return connected, &reconnectRequest{resumable: resumable, reason: "invalid session"}

			default:
				r.log.Debug("unhandled opcode", slog.String("op", f.Op.String()))
			}

		case err := <-identifyReady:
			identifyReady = nil
			if err != nil {
				return connected, err
			}
			err = r.send(ctx, conn, OpIdentify, Identify{
				Token:          r.opts.Token,
				Properties:     r.opts.Properties,
				LargeThreshold: r.opts.LargeThreshold,
				Shard:          [2]int{int(r.opts.ID), r.opts.Total},
				Presence:       r.opts.Presence,
				Intents:        r.opts.Intents,
			})
			if err != nil {
				return connected, err
			}
			r.log.Info("identifying", slog.Uint64("intents", uint64(r.opts.Intents)))

		case <-handshake.C:
			return connected, ErrHandshakeTimeout

		case <-hbC:
			if !r.shard.Beat(time.Now()) {
				closeCode = CloseNormal
				return connected, ErrZombied
			}
			if err := r.heartbeat(ctx, conn); err != nil {
				return connected, err
			}
			hb.Reset(r.shard.hb.interval)

		case cmd := <-r.cmds:
			if cmd.reconnect {
				cmd.done <- nil
				return connected, &reconnectRequest{resumable: true, reason: "reconnect requested locally"}
			}
			cmd.done <- r.send(ctx, conn, cmd.op, cmd.d)

		case <-ctx.Done():
			closeCode = CloseNormal
			if r.isClosing() && r.closeResumable.Load() {
				closeCode = CloseUnknownError
			}
			return connected, ctx.Err()
		}
	}
}

// dispatch handles an op 0 frame and reports whether it completed the
// handshake.
func (r *Runner) dispatch(ctx context.Context, f Frame) (ready bool) {
	if f.S != nil && !r.shard.AcceptSeq(*f.S) {
		r.log.Debug("dropping stale dispatch",
			slog.Int64("seq", *f.S),
			slog.Int64("last_seq", r.shard.Seq()),
			slog.String("event", f.T),
		)
		r.metrics.SequenceDropped(r.opts.ID)
		return false
	}

	name := model.EventName(f.T)
	switch name {
	case model.EventReady:
		var rd model.Ready
		if err := json.Unmarshal(f.D, &rd); err != nil {
			r.log.Error("invalid ready payload", slog.Any("error", err))
			return false
		}
		r.shard.onReady(rd.SessionID, rd.ResumeGatewayURL)
		r.log.Info("ready",
			slog.String("session_id", rd.SessionID),
			slog.Int("guilds", len(rd.Guilds)),
		)
		r.setStage(ctx, StageConnected)
		r.saveSession(ctx)
		ready = true
	case model.EventResumed:
		r.shard.onResumed()
		r.log.Info("resumed", slog.Int64("seq", r.shard.Seq()))
		r.setStage(ctx, StageConnected)
		r.saveSession(ctx)
		ready = true
	}
	r.publish()
	r.metrics.DispatchReceived(r.opts.ID, f.T)

	if r.opts.OnDispatch != nil {
		var seq int64
		if f.S != nil {
			seq = *f.S
		}
		r.opts.OnDispatch(ctx, model.DispatchEvent{
			Shard:      int(r.opts.ID),
			Seq:        seq,
			Name:       name,
			Data:       f.D,
			ReceivedAt: time.Now(),
		})
	}
	return ready
}

func (r *Runner) waitIdentify(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- r.opts.IdentifyGate.Wait(ctx, r.opts.ID)
	}()
	return ch
}

func (r *Runner) heartbeat(ctx context.Context, conn Conn) error {
	var d *int64
	if seq := r.shard.Seq(); seq > 0 {
		d = &seq
	}
	return r.send(ctx, conn, OpHeartbeat, d)
}

func (r *Runner) send(ctx context.Context, conn Conn, op Opcode, d any) error {
	data, err := r.codec.Marshal(outFrame{Op: op, D: d})
	if err != nil {
		return fmt.Errorf("encode %s: %w", op, err)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return conn.Write(ctx, data)
}

func readLoop(conn Conn, out chan<- readResult, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		data, err := conn.Read()
		select {
		case out <- readResult{data: data, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// command hands an outbound frame to the connection loop.
func (r *Runner) command(ctx context.Context, cmd command) error {
	if r.Status().Stage != StageConnected {
		return ErrNotConnected
	}
	if !cmd.reconnect {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	cmd.done = make(chan error, 1)
	select {
	case r.cmds <- cmd:
	case <-r.closing:
		return ErrRunnerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) UpdatePresence(ctx context.Context, p PresenceUpdate) error {
	if p.Activities == nil {
		p.Activities = []Activity{}
	}
	return r.command(ctx, command{op: OpPresenceUpdate, d: p})
}

// UpdateVoiceState sends the voice state payload. Voice transport itself is
// not handled here.
func (r *Runner) UpdateVoiceState(ctx context.Context, v VoiceStateUpdate) error {
	return r.command(ctx, command{op: OpVoiceStateUpdate, d: v})
}

// RequestGuildMembers asks for member chunks and returns the nonce the
// GUILD_MEMBERS_CHUNK events will carry.
func (r *Runner) RequestGuildMembers(ctx context.Context, req RequestGuildMembers) (string, error) {
	if req.Nonce == "" {
		nonce, err := gonanoid.New()
		if err != nil {
			return "", err
		}
		req.Nonce = nonce
	}
	if req.Query == nil && len(req.UserIDs) == 0 {
		empty := ""
		req.Query = &empty
	}
	return req.Nonce, r.command(ctx, command{op: OpRequestGuildMembers, d: req})
}

// Reconnect drops the current socket and resumes on a new one.
func (r *Runner) Reconnect(ctx context.Context) error {
	return r.command(ctx, command{reconnect: true})
}
