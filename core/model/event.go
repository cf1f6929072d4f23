package model

import (
	"encoding/json"
	"time"
)

type EventName string

const (
	EventReady             EventName = "READY"
	EventResumed           EventName = "RESUMED"
	EventGuildCreate       EventName = "GUILD_CREATE"
	EventGuildUpdate       EventName = "GUILD_UPDATE"
	EventGuildDelete       EventName = "GUILD_DELETE"
	EventChannelCreate     EventName = "CHANNEL_CREATE"
	EventChannelUpdate     EventName = "CHANNEL_UPDATE"
	EventChannelDelete     EventName = "CHANNEL_DELETE"
	EventGuildMemberAdd    EventName = "GUILD_MEMBER_ADD"
	EventGuildMemberUpdate EventName = "GUILD_MEMBER_UPDATE"
	EventGuildMemberRemove EventName = "GUILD_MEMBER_REMOVE"
	EventGuildMembersChunk EventName = "GUILD_MEMBERS_CHUNK"
	EventGuildRoleCreate   EventName = "GUILD_ROLE_CREATE"
	EventGuildRoleUpdate   EventName = "GUILD_ROLE_UPDATE"
	EventGuildRoleDelete   EventName = "GUILD_ROLE_DELETE"
	EventPresenceUpdate    EventName = "PRESENCE_UPDATE"
	EventUserUpdate        EventName = "USER_UPDATE"
	EventMessageCreate     EventName = "MESSAGE_CREATE"
	EventMessageUpdate     EventName = "MESSAGE_UPDATE"
	EventMessageDelete     EventName = "MESSAGE_DELETE"
)

// DispatchEvent is a single accepted op 0 frame.
type DispatchEvent struct {
	Shard      int             `json:"shard"`
	Seq        int64           `json:"seq"`
	Name       EventName       `json:"name"`
	Data       json.RawMessage `json:"data"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Decode unmarshals the event payload into v.
func (e DispatchEvent) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
