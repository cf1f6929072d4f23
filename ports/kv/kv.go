// Package kv is the key-value port used to persist gateway sessions.
// Adapters live in adapters/nats and adapters/redis; MemStore serves tests
// and single-process setups.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Store.Get for missing and expired keys.
var ErrNotFound = errors.New("kv: key not found")

// Entry is a raw value. Revision is a store-specific version, zero where
// the store has none.
type Entry struct {
	Data     []byte
	Revision uint64
}

// PutOptions tune a single write. A zero TTL keeps the entry until deleted.
type PutOptions struct {
	TTL time.Duration
}

type Store interface {
	Put(ctx context.Context, key string, entry Entry, opts PutOptions) error
	Get(ctx context.Context, key string) (Entry, error)
	Delete(ctx context.Context, key string) error
}

// Table stores JSON encoded values of one type under "<prefix>.<id>" keys.
type Table[V any] struct {
	store  Store
	prefix string
	ttl    time.Duration
}

func NewTable[V any](store Store, prefix string, ttl time.Duration) *Table[V] {
	return &Table[V]{store: store, prefix: prefix, ttl: ttl}
}

func (t *Table[V]) Key(id any) string {
	if t.prefix == "" {
		return fmt.Sprint(id)
	}
	return fmt.Sprintf("%s.%v", t.prefix, id)
}

// Load reports false without an error when nothing is stored under id.
func (t *Table[V]) Load(ctx context.Context, id any) (v V, ok bool, err error) {
	key := t.Key(id)
	entry, err := t.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return v, false, nil
	case err != nil:
		return v, false, err
	}
	if err := json.Unmarshal(entry.Data, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}

func (t *Table[V]) Save(ctx context.Context, id any, v V) error {
	key := t.Key(id)
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return t.store.Put(ctx, key, Entry{Data: data}, PutOptions{TTL: t.ttl})
}

func (t *Table[V]) Delete(ctx context.Context, id any) error {
	return t.store.Delete(ctx, t.Key(id))
}
