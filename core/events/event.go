package events

import (
	"time"

	"github.com/codewandler/shardgate/core/gateway"
	"github.com/codewandler/shardgate/core/model"
)

// Event is anything delivered through the Bus.
type Event interface {
	ShardID() int
}

// Dispatch is an accepted gateway dispatch.
type Dispatch struct {
	model.DispatchEvent
}

func (e Dispatch) ShardID() int { return e.Shard }

// StageChanged reports a shard moving between connection stages.
type StageChanged struct {
	Shard gateway.ShardID
	From  gateway.Stage
	To    gateway.Stage
	At    time.Time
}

func (e StageChanged) ShardID() int { return int(e.Shard) }

// SessionInvalidated reports that a shard lost its session and will start a
// new one. Cached state of the shard's guilds is gone when handlers see it.
type SessionInvalidated struct {
	Shard gateway.ShardID
	Total int
	At    time.Time
}

func (e SessionInvalidated) ShardID() int { return int(e.Shard) }
