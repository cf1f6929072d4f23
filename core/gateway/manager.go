package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codewandler/shardgate/core/model"
	"github.com/codewandler/shardgate/core/rest"
	"github.com/codewandler/shardgate/internal/hrw"
)

const DefaultGatewayURL = "wss://gateway.discord.gg"

type ManagerOptions struct {
	Token      string
	Intents    Intents
	GatewayURL string

	// TotalShards is the shard count. Zero asks GatewayBot for it.
	TotalShards int
	// ShardIDs restricts the manager to these shards.
	ShardIDs []ShardID
	// Nodes and NodeID split the shards between several processes with
	// rendezvous hashing. Every node must see the same Nodes list.
	Nodes  []string
	NodeID string

	GatewayBot       func(ctx context.Context) (*rest.GatewayBot, error)
	MaxConcurrency   int
	IdentifyInterval time.Duration
	RestartDelay     time.Duration

	// Runner carries connection settings shared by all shards. Identity,
	// callbacks and the identify gate are set by the manager.
	Runner RunnerOptions

	OnDispatch           func(ctx context.Context, e model.DispatchEvent)
	OnStage              func(ctx context.Context, id ShardID, from, to Stage)
	OnSessionInvalidated func(ctx context.Context, id ShardID, total int)

	Metrics Metrics
	Log     *slog.Logger
}

type managed struct {
	runner *Runner
	done   chan struct{}
}

// Manager owns the runners of all shards this process serves.
type Manager struct {
	opts    ManagerOptions
	log     *slog.Logger
	metrics Metrics

	mu      sync.Mutex
	shards  map[ShardID]*managed
	total   int
	started bool
	queue   *IdentifyQueue
	ctx     context.Context
	cancel  context.CancelFunc

	fatal chan error
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Token == "" {
		return nil, ErrNoToken
	}
	if opts.TotalShards == 0 && opts.GatewayBot == nil {
		opts.TotalShards = 1
	}
	if opts.TotalShards < 0 {
		return nil, fmt.Errorf("invalid shard count %d", opts.TotalShards)
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 5 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		opts:    opts,
		log:     log.With(slog.String("component", "shard_manager")),
		metrics: opts.Metrics,
		shards:  make(map[ShardID]*managed),
		fatal:   make(chan error, 16),
	}, nil
}

// Fatal delivers errors of runners that stopped for good.
func (m *Manager) Fatal() <-chan error { return m.fatal }

func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Start resolves the shard count and launches a runner per owned shard.
// Runners live until Shutdown or until ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerStarted
	}
	m.started = true
	m.mu.Unlock()

	total := m.opts.TotalShards
	url := m.opts.GatewayURL
	maxConcurrency := m.opts.MaxConcurrency

	if total == 0 || url == "" || maxConcurrency == 0 {
		if m.opts.GatewayBot != nil {
			gb, err := m.opts.GatewayBot(ctx)
			if err != nil {
				return fmt.Errorf("query gateway: %w", err)
			}
			if total == 0 {
				total = gb.Shards
			}
			if url == "" {
				url = gb.URL
			}
			if maxConcurrency == 0 {
				maxConcurrency = gb.SessionStartLimit.MaxConcurrency
			}
			m.log.Info("gateway info",
				slog.Int("recommended_shards", gb.Shards),
				slog.Int("session_starts_remaining", gb.SessionStartLimit.Remaining),
				slog.Int("max_concurrency", gb.SessionStartLimit.MaxConcurrency),
			)
		}
	}
	if total < 1 {
		total = 1
	}
	if url == "" {
		url = DefaultGatewayURL
	}

	ids := m.owned(total)
	m.log.Info("starting shards", slog.Int("total", total), slog.Int("owned", len(ids)))

	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.total = total
	m.opts.GatewayURL = url
	m.queue = NewIdentifyQueue(maxConcurrency, m.opts.IdentifyInterval, m.log)
	m.ctx, m.cancel = runCtx, cancel
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.spawn(id); err != nil {
			cancel()
			return err
		}
	}
	m.metrics.ShardsRunning(len(ids))
	return nil
}

func (m *Manager) owned(total int) []ShardID {
	var ids []ShardID
	for _, id := range hrw.Owned(total, m.opts.Nodes, m.opts.NodeID, "shardgate") {
		if len(m.opts.ShardIDs) == 0 || slices.Contains(m.opts.ShardIDs, ShardID(id)) {
			ids = append(ids, ShardID(id))
		}
	}
	return ids
}

func (m *Manager) spawn(id ShardID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ro := m.opts.Runner
	ro.ID = id
	ro.Total = m.total
	ro.Token = m.opts.Token
	ro.Intents = m.opts.Intents
	ro.GatewayURL = m.opts.GatewayURL
	ro.IdentifyGate = m.queue
	ro.Metrics = m.metrics
	ro.Log = m.opts.Log
	ro.OnDispatch = m.opts.OnDispatch
	ro.OnStage = m.opts.OnStage
	if cb := m.opts.OnSessionInvalidated; cb != nil {
		total := m.total
		ro.OnSessionInvalidated = func(ctx context.Context, id ShardID) { cb(ctx, id, total) }
	}

	r, err := NewRunner(ro)
	if err != nil {
		return err
	}
	mg := &managed{runner: r, done: make(chan struct{})}
	m.shards[id] = mg
	go m.supervise(m.ctx, mg)
	return nil
}

// supervise runs a runner and restarts it after non-fatal exits.
func (m *Manager) supervise(ctx context.Context, mg *managed) {
	defer close(mg.done)
	id := mg.runner.ID()
	log := m.log.With(slog.Int("shard", int(id)))

	for {
		err := mg.runner.Run(ctx)
		switch {
		case err == nil:
			log.Debug("runner closed")
			return
		case ctx.Err() != nil:
			return
		case IsFatal(err):
			log.Error("shard stopped", slog.Any("error", err))
			select {
			case m.fatal <- err:
			default:
			}
			return
		}

		log.Warn("restarting shard", slog.Duration("delay", m.opts.RestartDelay), slog.Any("error", err))
		t := time.NewTimer(m.opts.RestartDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

func (m *Manager) get(id ShardID) (*managed, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mg, ok := m.shards[id]
	return mg, ok
}

func (m *Manager) Runner(id ShardID) (*Runner, bool) {
	mg, ok := m.get(id)
	if !ok {
		return nil, false
	}
	return mg.runner, true
}

// RunnerForGuild returns the runner whose shard receives the guild's events.
func (m *Manager) RunnerForGuild(guildID model.Snowflake) (*Runner, bool) {
	return m.Runner(ShardID(model.ShardForGuild(guildID, m.Total())))
}

// Restart reconnects a shard. A shard whose runner stopped is started anew.
func (m *Manager) Restart(ctx context.Context, id ShardID) error {
	mg, ok := m.get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownShard, id)
	}
	select {
	case <-mg.done:
		m.log.Info("starting stopped shard", slog.Int("shard", int(id)))
		return m.spawn(id)
	default:
	}
	return mg.runner.Reconnect(ctx)
}

// Status returns the status of every shard ordered by id.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	runners := make([]*Runner, 0, len(m.shards))
	for _, mg := range m.shards {
		runners = append(runners, mg.runner)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(runners))
	for _, r := range runners {
		out = append(out, r.Status())
	}
	slices.SortFunc(out, func(a, b Status) int { return int(a.ID) - int(b.ID) })
	return out
}

// Latencies returns the last heartbeat round trip per shard.
func (m *Manager) Latencies() map[ShardID]time.Duration {
	out := make(map[ShardID]time.Duration)
	for _, st := range m.Status() {
		out[st.ID] = st.Latency
	}
	return out
}

// Shutdown closes every shard and waits for the runners to return. With
// resumable set, sessions stay valid for a later process to resume.
func (m *Manager) Shutdown(ctx context.Context, resumable bool) error {
	m.mu.Lock()
	all := make(map[ShardID]*managed, len(m.shards))
	for id, mg := range m.shards {
		all[id] = mg
	}
	cancel := m.cancel
	m.mu.Unlock()

	m.log.Info("shutting down", slog.Int("shards", len(all)), slog.Bool("resumable", resumable))
	for _, mg := range all {
		mg.runner.Close(resumable)
	}

	var g errgroup.Group
	for id, mg := range all {
		g.Go(func() error {
			select {
			case <-mg.done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("shard %d: %w", id, ctx.Err())
			}
		})
	}
	err := g.Wait()
	if cancel != nil {
		cancel()
	}
	m.metrics.ShardsRunning(0)
	if err != nil {
		return errors.Join(errors.New("shutdown incomplete"), err)
	}
	return nil
}
