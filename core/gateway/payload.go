package gateway

import (
	"encoding/json"

	"github.com/codewandler/shardgate/core/model"
)

// Frame is the envelope of every gateway message.
type Frame struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type outFrame struct {
	Op Opcode `json:"op"`
	D  any    `json:"d"`
}

type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type Identify struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress,omitempty"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Shard          [2]int             `json:"shard"`
	Presence       *PresenceUpdate    `json:"presence,omitempty"`
	Intents        Intents            `json:"intents"`
}

type ResumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type Activity struct {
	Name  string `json:"name"`
	Type  int    `json:"type"`
	URL   string `json:"url,omitempty"`
	State string `json:"state,omitempty"`
}

type PresenceUpdate struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

type VoiceStateUpdate struct {
	GuildID   model.Snowflake  `json:"guild_id"`
	ChannelID *model.Snowflake `json:"channel_id"`
	SelfMute  bool             `json:"self_mute"`
	SelfDeaf  bool             `json:"self_deaf"`
}

type RequestGuildMembers struct {
	GuildID   model.Snowflake   `json:"guild_id"`
	Query     *string           `json:"query,omitempty"`
	Limit     int               `json:"limit"`
	Presences bool              `json:"presences,omitempty"`
	UserIDs   []model.Snowflake `json:"user_ids,omitempty"`
	Nonce     string            `json:"nonce,omitempty"`
}
