package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/shardgate/core/cache"
	"github.com/codewandler/shardgate/core/events"
	"github.com/codewandler/shardgate/core/gateway"
	"github.com/codewandler/shardgate/core/rest"
	"github.com/codewandler/shardgate/internal/fingerprint"
)

type ShardsConfig struct {
	// Total is the shard count; 0 asks the API for the recommended count.
	Total int
	IDs   []gateway.ShardID
	// Nodes and NodeID split the shards between processes.
	Nodes            []string
	NodeID           string
	MaxConcurrency   int
	IdentifyInterval time.Duration
	RestartDelay     time.Duration
}

type MetricsConfig struct {
	REST    rest.Metrics
	Gateway gateway.Metrics
	Cache   cache.Metrics
}

type Config struct {
	Token   string
	Intents gateway.Intents
	Shards  ShardsConfig
	// Gateway carries connection settings of every shard. Identity and
	// callbacks are filled in by the app.
	Gateway gateway.RunnerOptions
	// REST configures the API client. Token and Observer are filled in.
	REST  rest.ClientOptions
	Cache cache.Settings
	// Sessions keeps sessions between restarts. Nil keeps them in memory
	// of the runner only.
	Sessions gateway.SessionStore
	// EventBuffer is the per-shard event queue length.
	EventBuffer int
	Metrics     MetricsConfig
	Log         *slog.Logger
}

// App wires the REST client, the cache, the event bus and the shard
// manager together.
type App struct {
	id      string
	log     *slog.Logger
	rest    *rest.Client
	cache   cache.Cache
	bus     *events.Bus
	manager *gateway.Manager
}

func New(config Config) (app *App, err error) {
	if config.Token == "" {
		return nil, rest.ErrNoToken
	}
	app = &App{id: fmt.Sprintf("sg-%s", gonanoid.Must(8))}

	// === logger ===
	if config.Log == nil {
		config.Log = slog.Default()
	}
	app.log = config.Log.With(slog.String("instance", app.id))

	// === cache ===
	app.cache = cache.New(cache.Options{
		Settings: config.Cache,
		Metrics:  config.Metrics.Cache,
		Log:      app.log,
	})

	// === rest ===
	restOpts := config.REST
	restOpts.Token = config.Token
	restOpts.Observer = app.cache
	if restOpts.Metrics == nil {
		restOpts.Metrics = config.Metrics.REST
	}
	if restOpts.Log == nil {
		restOpts.Log = app.log
	}
	app.rest, err = rest.NewClient(restOpts)
	if err != nil {
		return nil, fmt.Errorf("rest client: %w", err)
	}

	// === events ===
	app.bus = events.New(events.Options{
		BufferSize: config.EventBuffer,
		Cache:      app.cache,
		Log:        app.log,
	})

	// === shards ===
	runner := config.Gateway
	if config.Sessions != nil {
		runner.Sessions = config.Sessions
	}
	app.manager, err = gateway.NewManager(gateway.ManagerOptions{
		Token:                config.Token,
		Intents:              config.Intents,
		GatewayURL:           runner.GatewayURL,
		TotalShards:          config.Shards.Total,
		ShardIDs:             config.Shards.IDs,
		Nodes:                config.Shards.Nodes,
		NodeID:               config.Shards.NodeID,
		GatewayBot:           app.rest.GatewayBot,
		MaxConcurrency:       config.Shards.MaxConcurrency,
		IdentifyInterval:     config.Shards.IdentifyInterval,
		RestartDelay:         config.Shards.RestartDelay,
		Runner:               runner,
		OnDispatch:           app.bus.Dispatch,
		OnStage:              app.bus.StageChanged,
		OnSessionInvalidated: app.bus.SessionInvalidated,
		Metrics:              config.Metrics.Gateway,
		Log:                  app.log,
	})
	if err != nil {
		app.bus.Close()
		return nil, fmt.Errorf("shard manager: %w", err)
	}

	app.log.Info("created app",
		slog.String("token", fingerprint.Token(config.Token)),
		slog.Any("intents", config.Intents),
		slog.Bool("cache", config.Cache.Enabled),
	)
	return app, nil
}

func (a *App) ID() string               { return a.id }
func (a *App) REST() *rest.Client       { return a.rest }
func (a *App) Cache() cache.Cache       { return a.cache }
func (a *App) Events() *events.Bus      { return a.bus }
func (a *App) Shards() *gateway.Manager { return a.manager }
func (a *App) Fatal() <-chan error      { return a.manager.Fatal() }

// Run connects the shards this process owns. Events flow to the cache and
// to subscribers of Events until Shutdown.
func (a *App) Run(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	a.log.Info("app started", slog.Int("total_shards", a.manager.Total()))
	return nil
}

// Shutdown closes the shards, then drains the event bus. With resumable
// set, sessions stay valid for the next process.
func (a *App) Shutdown(ctx context.Context, resumable bool) error {
	err := a.manager.Shutdown(ctx, resumable)
	a.bus.Close()
	if err != nil {
		return err
	}
	a.log.Info("app stopped")
	return nil
}

// Run creates an app and starts it.
func Run(ctx context.Context, config Config) (app *App, err error) {
	app, err = New(config)
	if err != nil {
		return nil, err
	}

	err = app.Run(ctx)
	if err != nil {
		app.bus.Close()
		return nil, err
	}

	return app, nil
}
