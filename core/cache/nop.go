package cache

import (
	"time"

	"github.com/codewandler/shardgate/core/model"
	"github.com/codewandler/shardgate/core/rest"
)

// Nop caches nothing.
type Nop struct{}

func NewNop() *Nop {
	return &Nop{}
}

func (n *Nop) ObserveResponse(*rest.Request, *rest.Response, time.Time) {}
func (n *Nop) Apply(model.DispatchEvent) error                          { return nil }
func (n *Nop) ApplyREST(*rest.Request, []byte, time.Time) error         { return nil }
func (n *Nop) InvalidateShard(int, int)                                 {}
func (n *Nop) Self() (model.User, bool)                                 { return model.User{}, false }
func (n *Nop) Guild(model.Snowflake) (model.Guild, bool)                { return model.Guild{}, false }
func (n *Nop) Guilds() []model.Guild                                    { return nil }
func (n *Nop) Channel(model.Snowflake) (model.Channel, bool)            { return model.Channel{}, false }
func (n *Nop) GuildChannels(model.Snowflake) []model.Channel            { return nil }
func (n *Nop) User(model.Snowflake) (model.User, bool)                  { return model.User{}, false }
func (n *Nop) Member(_, _ model.Snowflake) (model.Member, bool)         { return model.Member{}, false }
func (n *Nop) GuildMembers(model.Snowflake) []model.Member              { return nil }
func (n *Nop) Role(_, _ model.Snowflake) (model.Role, bool)             { return model.Role{}, false }
func (n *Nop) GuildRoles(model.Snowflake) []model.Role                  { return nil }
func (n *Nop) Presence(_, _ model.Snowflake) (model.Presence, bool)     { return model.Presence{}, false }
func (n *Nop) Message(_, _ model.Snowflake) (model.Message, bool)       { return model.Message{}, false }
func (n *Nop) ChannelMessages(model.Snowflake) []model.Message          { return nil }
func (n *Nop) Stats() Stats                                             { return Stats{} }

var _ Cache = (*Nop)(nil)
