package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	natsadapter "github.com/codewandler/shardgate/adapters/nats"
	promadapter "github.com/codewandler/shardgate/adapters/prometheus"
	redisadapter "github.com/codewandler/shardgate/adapters/redis"
	"github.com/codewandler/shardgate/core/app"
	"github.com/codewandler/shardgate/core/events"
	"github.com/codewandler/shardgate/core/gateway"
	"github.com/codewandler/shardgate/core/model"
	"github.com/codewandler/shardgate/core/rest"
	"github.com/codewandler/shardgate/internal/config"
	"github.com/codewandler/shardgate/ports/kv"
)

func newRunCmd(configPath *string) *cobra.Command {
	var (
		resumable       bool
		shutdownTimeout time.Duration
		logEvents       bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect the configured shards and serve until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return run(cmd.Context(), cfg, runOptions{
				resumable:       resumable,
				shutdownTimeout: shutdownTimeout,
				logEvents:       logEvents,
			})
		},
	}
	cmd.Flags().BoolVar(&resumable, "resumable", true, "Keep sessions resumable on shutdown")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Time allowed for a graceful shutdown")
	cmd.Flags().BoolVar(&logEvents, "log-events", false, "Log every dispatch event at debug level")
	return cmd
}

type runOptions struct {
	resumable       bool
	shutdownTimeout time.Duration
	logEvents       bool
	// sessions replaces the configured session backend.
	sessions gateway.SessionStore
}

func run(ctx context.Context, cfg *config.Config, opts runOptions) error {
	log := cfg.Logger()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === metrics ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := promadapter.NewAllMetrics(reg)

	// === nats ===
	var connect natsadapter.Connector
	if cfg.NATS.URL != "" {
		name := "shardgate"
		if cfg.Shards.NodeID != "" {
			name += "-" + cfg.Shards.NodeID
		}
		connect = natsadapter.ReuseConnection(natsadapter.Connect(natsadapter.ConnectOptions{
			URL:  cfg.NATS.URL,
			Name: name,
			Log:  log,
		}))
	}

	// === sessions ===
	sessions := opts.sessions
	if sessions == nil {
		store, closeSessions, err := sessionStore(ctx, cfg, connect)
		if err != nil {
			return err
		}
		defer closeSessions()
		sessions = store
	}

	appConfig, err := newAppConfig(cfg, log)
	if err != nil {
		return err
	}
	appConfig.Sessions = sessions
	appConfig.Metrics = app.MetricsConfig{REST: m.REST, Gateway: m.Gateway, Cache: m.Cache}

	a, err := app.New(appConfig)
	if err != nil {
		return err
	}
	promadapter.RegisterCacheStats(reg, a.Cache())

	if opts.logEvents {
		events.On(a.Events(), func(e events.Dispatch) {
			log.Debug("dispatch",
				slog.Int("shard", e.Shard),
				slog.Int64("seq", e.Seq),
				slog.String("event", string(e.Name)),
			)
		})
	}
	events.On(a.Events(), func(e events.StageChanged) {
		log.Info("shard stage changed",
			slog.Int("shard", int(e.Shard)),
			slog.String("from", e.From.String()),
			slog.String("to", e.To.String()),
		)
	})

	// === forwarding ===
	if cfg.NATS.Forward.Enabled {
		names := make([]model.EventName, len(cfg.NATS.Forward.Events))
		for i, n := range cfg.NATS.Forward.Events {
			names[i] = model.EventName(n)
		}
		pub, err := natsadapter.NewEventPublisher(natsadapter.PublisherOptions{
			Connect: connect,
			Prefix:  cfg.NATS.Forward.Prefix,
			Events:  names,
			Log:     log,
		})
		if err != nil {
			return fmt.Errorf("event publisher: %w", err)
		}
		detach := pub.Attach(a.Events())
		defer func() {
			detach()
			if err := pub.Close(); err != nil {
				log.Warn("closing event publisher", slog.Any("error", err))
			}
		}()
	}

	// === http ===
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("serving metrics", slog.String("addr", cfg.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	// runners outlive the signal so Shutdown decides how sockets close
	if err := a.Run(context.WithoutCancel(ctx)); err != nil {
		a.Events().Close()
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case runErr = <-a.Fatal():
		log.Error("shard failed for good, shutting down", slog.Any("error", runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(shutdownCtx, opts.resumable))
}

func newAppConfig(cfg *config.Config, log *slog.Logger) (app.Config, error) {
	intents, err := cfg.ParsedIntents()
	if err != nil {
		return app.Config{}, err
	}
	return app.Config{
		Token:   cfg.Token,
		Intents: intents,
		Shards: app.ShardsConfig{
			Total:            cfg.Shards.Total,
			IDs:              cfg.ShardIDs(),
			Nodes:            cfg.Shards.Nodes,
			NodeID:           cfg.Shards.NodeID,
			MaxConcurrency:   cfg.Shards.MaxConcurrency,
			IdentifyInterval: cfg.Shards.IdentifyInterval,
			RestartDelay:     cfg.Shards.RestartDelay,
		},
		Gateway: gateway.RunnerOptions{
			GatewayURL:         cfg.Gateway.URL,
			LargeThreshold:     cfg.Gateway.LargeThreshold,
			HandshakeTimeout:   cfg.Gateway.HandshakeTimeout,
			MaxConnectAttempts: cfg.Gateway.MaxConnectAttempts,
			Backoff:            cfg.Backoff(),
		},
		REST:  restOptions(cfg, log),
		Cache: cfg.Cache,
		Log:   log,
	}, nil
}

func restOptions(cfg *config.Config, log *slog.Logger) rest.ClientOptions {
	return rest.ClientOptions{
		Token:         cfg.Token,
		BaseURL:       cfg.REST.BaseURL,
		MaxConcurrent: cfg.REST.MaxConcurrent,
		GlobalRPS:     cfg.REST.GlobalRPS,
		Retry:         rest.RetryPolicy{MaxServerRetries: cfg.REST.Retries},
		Log:           log,
	}
}

// sessionStore opens the configured session backend. The returned func
// releases it.
func sessionStore(ctx context.Context, cfg *config.Config, connect natsadapter.Connector) (gateway.SessionStore, func(), error) {
	noop := func() {}
	switch cfg.Sessions.Backend {
	case config.SessionsNone:
		return nil, noop, nil

	case config.SessionsNATS:
		store, err := natsadapter.NewKvStore(ctx, natsadapter.KvConfig{
			Connect: connect,
			Bucket:  cfg.Sessions.Bucket,
			TTL:     cfg.Sessions.TTL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("nats session store: %w", err)
		}
		return gateway.NewKVSessionStore(store, "session", cfg.Sessions.TTL), store.Close, nil

	case config.SessionsRedis:
		client, err := redisadapter.NewUniversalClient(ctx, redisadapter.Options{
			Addrs:    cfg.Sessions.Redis.Addrs,
			Password: cfg.Sessions.Redis.Password,
			DB:       cfg.Sessions.Redis.DB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("redis session store: %w", err)
		}
		store := redisadapter.NewKvStore(client, "shardgate:")
		return gateway.NewKVSessionStore(store, "session", cfg.Sessions.TTL), func() { _ = store.Close() }, nil

	default:
		return gateway.NewKVSessionStore(kv.NewMemStore(), "session", cfg.Sessions.TTL), noop, nil
	}
}
