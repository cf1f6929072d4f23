package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/codewandler/shardgate/ports/kv"
)

// SessionStore persists sessions so a restarted process can resume.
type SessionStore interface {
	// Load returns nil and no error when no session is stored.
	Load(ctx context.Context, shard ShardID) (*Session, error)
	Save(ctx context.Context, shard ShardID, s Session) error
	Delete(ctx context.Context, shard ShardID) error
}

// KVSessionStore keeps sessions in a kv.Store. The gateway forgets sessions
// after a few minutes, so entries expire after TTL.
type KVSessionStore struct {
	table *kv.Table[Session]
}

func NewKVSessionStore(store kv.Store, prefix string, ttl time.Duration) *KVSessionStore {
	if prefix == "" {
		prefix = "session"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KVSessionStore{table: kv.NewTable[Session](store, prefix, ttl)}
}

func (s *KVSessionStore) Load(ctx context.Context, shard ShardID) (*Session, error) {
	sess, ok, err := s.table.Load(ctx, int(shard))
	if err != nil {
		return nil, fmt.Errorf("load session for shard %d: %w", shard, err)
	}
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *KVSessionStore) Save(ctx context.Context, shard ShardID, sess Session) error {
	return s.table.Save(ctx, int(shard), sess)
}

func (s *KVSessionStore) Delete(ctx context.Context, shard ShardID) error {
	return s.table.Delete(ctx, int(shard))
}

var _ SessionStore = (*KVSessionStore)(nil)
