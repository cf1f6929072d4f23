package cache

import (
	"log/slog"
	"time"

	"github.com/codewandler/shardgate/core/model"
	"github.com/codewandler/shardgate/core/rest"
)

// Cache mirrors server state fed by gateway events and REST responses.
// Reads never block on I/O and never fetch; a miss returns false.
type Cache interface {
	rest.ResponseObserver

	Apply(e model.DispatchEvent) error
	ApplyREST(req *rest.Request, body []byte, issuedAt time.Time) error
	// InvalidateShard forgets every guild delivered on shard.
	InvalidateShard(shard, total int)

	Self() (model.User, bool)
	Guild(id model.Snowflake) (model.Guild, bool)
	Guilds() []model.Guild
	Channel(id model.Snowflake) (model.Channel, bool)
	GuildChannels(guildID model.Snowflake) []model.Channel
	User(id model.Snowflake) (model.User, bool)
	Member(guildID, userID model.Snowflake) (model.Member, bool)
	GuildMembers(guildID model.Snowflake) []model.Member
	Role(guildID, roleID model.Snowflake) (model.Role, bool)
	GuildRoles(guildID model.Snowflake) []model.Role
	Presence(guildID, userID model.Snowflake) (model.Presence, bool)
	Message(channelID, messageID model.Snowflake) (model.Message, bool)
	ChannelMessages(channelID model.Snowflake) []model.Message

	Stats() Stats
}

// Settings select what gets cached.
type Settings struct {
	Enabled       bool `yaml:"enabled"`
	CacheGuilds   bool `yaml:"guilds"`
	CacheChannels bool `yaml:"channels"`
	// CacheUsers covers users, members and presences.
	CacheUsers bool `yaml:"users"`
	// MaxMessages bounds the messages kept per channel. Zero disables
	// the message cache.
	MaxMessages int `yaml:"max_messages"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:       true,
		CacheGuilds:   true,
		CacheChannels: true,
		CacheUsers:    true,
		MaxMessages:   100,
	}
}

type Options struct {
	Settings Settings
	// TombstoneTTL is how long a deleted id rejects stale REST writes.
	TombstoneTTL time.Duration
	Metrics      Metrics
	Log          *slog.Logger
}

type Stats struct {
	Guilds   int
	Channels int
	Users    int
	Members  int
	Roles    int
	Messages int
}

// New returns a Store, or a Nop when caching is disabled.
func New(opts Options) Cache {
	if !opts.Settings.Enabled {
		return NewNop()
	}
	return NewStore(opts)
}
