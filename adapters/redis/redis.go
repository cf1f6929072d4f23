// Package redis stores gateway sessions in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codewandler/shardgate/ports/kv"
)

type Options struct {
	// Addrs holds one address for a single server or several for a cluster.
	Addrs    []string
	Password string
	DB       int
}

// Client is the subset of redis.UniversalClient the store needs.
type Client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// NewUniversalClient connects and pings once so a bad address fails early.
func NewUniversalClient(ctx context.Context, opts Options) (Client, error) {
	if len(opts.Addrs) == 0 {
		return nil, errors.New("redis addrs is empty")
	}
	c := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    opts.Addrs,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return c, nil
}

// KvStore is a kv.Store on plain Redis strings. Keys are prefixed and
// expire with PutOptions.TTL.
type KvStore struct {
	c      Client
	prefix string
}

func NewKvStore(c Client, prefix string) *KvStore {
	if prefix == "" {
		prefix = "shardgate:"
	}
	return &KvStore{c: c, prefix: prefix}
}

func (s *KvStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	if err := s.c.Set(ctx, s.prefix+key, entry.Data, opts.TTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	data, err := s.c.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return kv.Entry{}, kv.ErrNotFound
	}
	if err != nil {
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return kv.Entry{Data: data}, nil
}

func (s *KvStore) Delete(ctx context.Context, key string) error {
	if err := s.c.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (s *KvStore) Close() error {
	return s.c.Close()
}

var _ kv.Store = (*KvStore)(nil)
