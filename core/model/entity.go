package model

type ChannelType int

const (
	ChannelText     ChannelType = 0
	ChannelDM       ChannelType = 1
	ChannelVoice    ChannelType = 2
	ChannelCategory ChannelType = 4
)

type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator,omitempty"`
	GlobalName    string    `json:"global_name,omitempty"`
	Avatar        string    `json:"avatar,omitempty"`
	Bot           bool      `json:"bot,omitempty"`
}

type Role struct {
	ID          Snowflake `json:"id"`
	Name        string    `json:"name"`
	Color       int       `json:"color"`
	Position    int       `json:"position"`
	Permissions string    `json:"permissions"`
}

type Member struct {
	User     *User       `json:"user,omitempty"`
	GuildID  Snowflake   `json:"guild_id,omitempty"`
	Nick     string      `json:"nick,omitempty"`
	Roles    []Snowflake `json:"roles"`
	JoinedAt string      `json:"joined_at,omitempty"`
}

type Channel struct {
	ID       Snowflake   `json:"id"`
	Type     ChannelType `json:"type"`
	GuildID  Snowflake   `json:"guild_id,omitempty"`
	Name     string      `json:"name,omitempty"`
	Position int         `json:"position,omitempty"`
	ParentID Snowflake   `json:"parent_id,omitempty"`
	Topic    string      `json:"topic,omitempty"`
}

type Presence struct {
	User    User      `json:"user"`
	GuildID Snowflake `json:"guild_id,omitempty"`
	Status  string    `json:"status"`
}

type Guild struct {
	ID          Snowflake  `json:"id"`
	Name        string     `json:"name"`
	OwnerID     Snowflake  `json:"owner_id,omitempty"`
	Unavailable bool       `json:"unavailable,omitempty"`
	MemberCount int        `json:"member_count,omitempty"`
	Roles       []Role     `json:"roles,omitempty"`
	Channels    []Channel  `json:"channels,omitempty"`
	Members     []Member   `json:"members,omitempty"`
	Presences   []Presence `json:"presences,omitempty"`
}

type Message struct {
	ID        Snowflake `json:"id"`
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id,omitempty"`
	Author    *User     `json:"author,omitempty"`
	Content   string    `json:"content"`
}

type UnavailableGuild struct {
	ID          Snowflake `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

type Ready struct {
	V                int                `json:"v"`
	User             User               `json:"user"`
	Guilds           []UnavailableGuild `json:"guilds"`
	SessionID        string             `json:"session_id"`
	ResumeGatewayURL string             `json:"resume_gateway_url"`
	Shard            []int              `json:"shard,omitempty"`
}

// Event payloads that are not plain entities.

type GuildMemberRemove struct {
	GuildID Snowflake `json:"guild_id"`
	User    User      `json:"user"`
}

type GuildMembersChunk struct {
	GuildID    Snowflake  `json:"guild_id"`
	Members    []Member   `json:"members"`
	ChunkIndex int        `json:"chunk_index"`
	ChunkCount int        `json:"chunk_count"`
	Presences  []Presence `json:"presences,omitempty"`
	Nonce      string     `json:"nonce,omitempty"`
}

type GuildRoleEvent struct {
	GuildID Snowflake `json:"guild_id"`
	Role    Role      `json:"role"`
}

type GuildRoleDelete struct {
	GuildID Snowflake `json:"guild_id"`
	RoleID  Snowflake `json:"role_id"`
}

type MessageDelete struct {
	ID        Snowflake `json:"id"`
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id,omitempty"`
}
