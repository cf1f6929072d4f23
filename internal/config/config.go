// Package config loads the shardgate YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codewandler/shardgate/core/cache"
	"github.com/codewandler/shardgate/core/gateway"
)

// Config holds all shardgate configuration.
type Config struct {
	// Token is the bot token. Prefer SHARDGATE_TOKEN over writing it to disk.
	Token   string   `yaml:"token"`
	Intents []string `yaml:"intents"`

	Shards   ShardsConfig   `yaml:"shards"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	REST     RESTConfig     `yaml:"rest"`
	Cache    cache.Settings `yaml:"cache"`
	Sessions SessionsConfig `yaml:"sessions"`
	NATS     NATSConfig     `yaml:"nats"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// ShardsConfig selects which shards this process runs.
type ShardsConfig struct {
	// Total is the shard count; 0 uses the recommended count.
	Total int   `yaml:"total"`
	IDs   []int `yaml:"ids,omitempty"`
	// Nodes lists every process sharing the shards, NodeID is this one.
	Nodes            []string      `yaml:"nodes,omitempty"`
	NodeID           string        `yaml:"node_id"`
	MaxConcurrency   int           `yaml:"max_concurrency"`
	IdentifyInterval time.Duration `yaml:"identify_interval"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
}

type GatewayConfig struct {
	URL                string        `yaml:"url"`
	LargeThreshold     int           `yaml:"large_threshold"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	MaxConnectAttempts int           `yaml:"max_connect_attempts"`
	Backoff            BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

type RESTConfig struct {
	BaseURL       string  `yaml:"base_url"`
	MaxConcurrent int64   `yaml:"max_concurrent"`
	GlobalRPS     float64 `yaml:"global_rps"`
	// Retries is the number of retries after server errors.
	Retries int `yaml:"retries"`
}

// SessionsConfig selects where gateway sessions are kept between restarts.
type SessionsConfig struct {
	// Backend is one of memory, nats, redis or none.
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Bucket  string        `yaml:"bucket"`
	Redis   RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs,omitempty"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
}

type NATSConfig struct {
	URL     string        `yaml:"url"`
	Forward ForwardConfig `yaml:"forward"`
}

// ForwardConfig publishes dispatch events to NATS subjects.
type ForwardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
	// Events limits forwarding to these event names; empty forwards all.
	Events []string `yaml:"events,omitempty"`
}

type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint; empty disables it.
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

const (
	SessionsMemory = "memory"
	SessionsNATS   = "nats"
	SessionsRedis  = "redis"
	SessionsNone   = "none"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	b := gateway.DefaultBackoff()
	return &Config{
		Intents: []string{"non_privileged"},
		Shards: ShardsConfig{
			IdentifyInterval: 5 * time.Second,
			RestartDelay:     5 * time.Second,
		},
		Gateway: GatewayConfig{
			LargeThreshold:   50,
			HandshakeTimeout: 30 * time.Second,
			Backoff: BackoffConfig{
				Initial:    b.Initial,
				Max:        b.Max,
				Multiplier: b.Multiplier,
				Jitter:     b.Jitter,
			},
		},
		REST: RESTConfig{
			MaxConcurrent: 32,
			GlobalRPS:     50,
			Retries:       3,
		},
		Cache: cache.DefaultSettings(),
		Sessions: SessionsConfig{
			Backend: SessionsMemory,
			TTL:     5 * time.Minute,
			Bucket:  "shardgate-sessions",
		},
		NATS: NATSConfig{
			Forward: ForwardConfig{Prefix: "shardgate"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from path. A missing file yields the defaults.
// Environment variables override the file in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("SHARDGATE_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("SHARDGATE_INTENTS"); v != "" {
		c.Intents = splitList(v)
	}
	if v := os.Getenv("SHARDGATE_SHARDS_TOTAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SHARDGATE_SHARDS_TOTAL: %w", err)
		}
		c.Shards.Total = n
	}
	if v := os.Getenv("SHARDGATE_NODE_ID"); v != "" {
		c.Shards.NodeID = v
	}
	if v := os.Getenv("SHARDGATE_NODES"); v != "" {
		c.Shards.Nodes = splitList(v)
	}
	if v := os.Getenv("SHARDGATE_SESSIONS"); v != "" {
		c.Sessions.Backend = v
	}
	if v := os.Getenv("SHARDGATE_REDIS_ADDRS"); v != "" {
		c.Sessions.Redis.Addrs = splitList(v)
	}
	if v := os.Getenv("SHARDGATE_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("SHARDGATE_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
	if v := os.Getenv("SHARDGATE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Token == "" {
		errs = append(errs, errors.New("token is required (set SHARDGATE_TOKEN)"))
	}
	if _, err := c.ParsedIntents(); err != nil {
		errs = append(errs, err)
	}
	if c.Shards.Total < 0 {
		errs = append(errs, fmt.Errorf("shards.total must not be negative, got %d", c.Shards.Total))
	}
	for _, id := range c.Shards.IDs {
		if id < 0 || (c.Shards.Total > 0 && id >= c.Shards.Total) {
			errs = append(errs, fmt.Errorf("shards.ids: %d is out of range", id))
		}
	}
	if len(c.Shards.Nodes) > 0 && c.Shards.NodeID == "" {
		errs = append(errs, errors.New("shards.node_id is required when shards.nodes is set"))
	}
	switch c.Sessions.Backend {
	case SessionsMemory, SessionsNone, "":
	case SessionsNATS:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("sessions.backend nats needs nats.url"))
		}
	case SessionsRedis:
		if len(c.Sessions.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("sessions.backend redis needs sessions.redis.addrs"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sessions.backend %q", c.Sessions.Backend))
	}
	if c.NATS.Forward.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.forward needs nats.url"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (c *Config) ParsedIntents() (gateway.Intents, error) {
	i, err := gateway.ParseIntents(c.Intents)
	if err != nil {
		return 0, fmt.Errorf("intents: %w", err)
	}
	return i, nil
}

func (c *Config) ShardIDs() []gateway.ShardID {
	if len(c.Shards.IDs) == 0 {
		return nil
	}
	out := make([]gateway.ShardID, len(c.Shards.IDs))
	for i, id := range c.Shards.IDs {
		out[i] = gateway.ShardID(id)
	}
	return out
}

func (c *Config) Backoff() gateway.Backoff {
	return gateway.Backoff{
		Initial:    c.Gateway.Backoff.Initial,
		Max:        c.Gateway.Backoff.Max,
		Multiplier: c.Gateway.Backoff.Multiplier,
		Jitter:     c.Gateway.Backoff.Jitter,
	}
}

func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// Logger builds the process logger described by the log section.
func (c *Config) Logger() *slog.Logger {
	level, _ := c.LogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
