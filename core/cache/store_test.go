package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardgate/core/model"
	"github.com/codewandler/shardgate/core/rest"
)

var (
	guildA = model.Snowflake(1 << 22) // shard 1 of 2
	guildB = model.Snowflake(2 << 22) // shard 0 of 2

	t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
)

func newTestStore(mut ...func(*Settings)) *Store {
	s := DefaultSettings()
	for _, fn := range mut {
		fn(&s)
	}
	return NewStore(Options{Settings: s})
}

func event(t *testing.T, shard int, seq int64, name model.EventName, payload any, at time.Time) model.DispatchEvent {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return model.DispatchEvent{Shard: shard, Seq: seq, Name: name, Data: data, ReceivedAt: at}
}

func user(id model.Snowflake, name string) *model.User {
	return &model.User{ID: id, Username: name}
}

func fullGuild(id model.Snowflake) model.Guild {
	return model.Guild{
		ID:          id,
		Name:        "guild",
		MemberCount: 2,
		Roles: []model.Role{
			{ID: id + 1, Name: "everyone"},
			{ID: id + 2, Name: "mod", Position: 1},
		},
		Channels: []model.Channel{
			{ID: id + 10, Name: "general"},
			{ID: id + 11, Name: "random", Position: 1},
		},
		Members: []model.Member{
			{User: user(id+100, "ann"), Roles: []model.Snowflake{id + 2}},
			{User: user(id+101, "bob")},
		},
		Presences: []model.Presence{
			{User: model.User{ID: id + 100}, Status: "online"},
		},
	}
}

func TestStore_GuildCreate(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Apply(event(t, 1, 1, model.EventGuildCreate, fullGuild(guildA), t0)))

	g, ok := s.Guild(guildA)
	require.True(t, ok)
	assert.Equal(t, "guild", g.Name)
	assert.Nil(t, g.Channels, "indices are not embedded")

	chs := s.GuildChannels(guildA)
	require.Len(t, chs, 2)
	assert.Equal(t, "general", chs[0].Name)
	assert.Equal(t, guildA, chs[0].GuildID)

	m, ok := s.Member(guildA, guildA+100)
	require.True(t, ok)
	assert.Equal(t, "ann", m.User.Username)
	assert.Equal(t, []model.Snowflake{guildA + 2}, m.Roles)

	p, ok := s.Presence(guildA, guildA+100)
	require.True(t, ok)
	assert.Equal(t, "online", p.Status)
	assert.Equal(t, "ann", p.User.Username)

	assert.Len(t, s.GuildRoles(guildA), 2)
	assert.Equal(t, Stats{Guilds: 1, Channels: 2, Users: 2, Members: 2, Roles: 2}, s.Stats())
}

func TestStore_GuildDeleteRemovesEverything(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Apply(event(t, 1, 1, model.EventGuildCreate, fullGuild(guildA), t0)))
	require.NoError(t, s.Apply(event(t, 1, 2, model.EventMessageCreate,
		model.Message{ID: 900, ChannelID: guildA + 10, GuildID: guildA, Content: "hi"}, t0)))
	require.NoError(t, s.Apply(event(t, 1, 3, model.EventGuildDelete,
		model.UnavailableGuild{ID: guildA}, t0.Add(time.Second))))

	_, ok := s.Guild(guildA)
	assert.False(t, ok)
	_, ok = s.Channel(guildA + 10)
	assert.False(t, ok)
	_, ok = s.Member(guildA, guildA+100)
	assert.False(t, ok)
	_, ok = s.Role(guildA, guildA+1)
	assert.False(t, ok)
	_, ok = s.Presence(guildA, guildA+100)
	assert.False(t, ok)
	_, ok = s.Message(guildA+10, 900)
	assert.False(t, ok)
	assert.Empty(t, s.GuildChannels(guildA))
	assert.Empty(t, s.GuildMembers(guildA))

	st := s.Stats()
	assert.Zero(t, st.Guilds)
	assert.Zero(t, st.Channels)
	assert.Zero(t, st.Members)
	assert.Zero(t, st.Messages)
}

func TestStore_GuildOutageKeepsPlaceholder(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Apply(event(t, 1, 1, model.EventGuildCreate, fullGuild(guildA), t0)))
	require.NoError(t, s.Apply(event(t, 1, 2, model.EventGuildDelete,
		model.UnavailableGuild{ID: guildA, Unavailable: true}, t0)))

	g, ok := s.Guild(guildA)
	require.True(t, ok)
	assert.True(t, g.Unavailable)
	assert.Empty(t, s.GuildChannels(guildA))
}

type snapshot struct {
	Guilds   []model.Guild
	Channels map[model.Snowflake][]model.Channel
	Members  map[model.Snowflake][]model.Member
	Roles    map[model.Snowflake][]model.Role
	Stats    Stats
}

func snap(s *Store) snapshot {
	out := snapshot{
		Guilds:   s.Guilds(),
		Channels: map[model.Snowflake][]model.Channel{},
		Members:  map[model.Snowflake][]model.Member{},
		Roles:    map[model.Snowflake][]model.Role{},
		Stats:    s.Stats(),
	}
	for _, g := range out.Guilds {
		out.Channels[g.ID] = s.GuildChannels(g.ID)
		out.Members[g.ID] = s.GuildMembers(g.ID)
		out.Roles[g.ID] = s.GuildRoles(g.ID)
	}
	return out
}

func TestStore_StaleSequencesAreIgnored(t *testing.T) {
	seq5 := event(t, 1, 5, model.EventGuildCreate, fullGuild(guildA), t0)
	seq4 := event(t, 1, 4, model.EventChannelUpdate,
		model.Channel{ID: guildA + 10, GuildID: guildA, Name: "stale"}, t0.Add(time.Second))
	seq6 := event(t, 1, 6, model.EventGuildMemberAdd,
		model.Member{GuildID: guildA, User: user(guildA+102, "cid")}, t0.Add(2*time.Second))
	dup6 := event(t, 1, 6, model.EventGuildMemberRemove,
		model.GuildMemberRemove{GuildID: guildA, User: *user(guildA+102, "cid")}, t0.Add(3*time.Second))

	replayed := newTestStore()
	for _, e := range []model.DispatchEvent{seq5, seq4, seq6, dup6} {
		require.NoError(t, replayed.Apply(e))
	}

	clean := newTestStore()
	for _, e := range []model.DispatchEvent{seq5, seq6} {
		require.NoError(t, clean.Apply(e))
	}

	if diff := cmp.Diff(snap(clean), snap(replayed)); diff != "" {
		t.Errorf("replay with stale sequences differs (-want +got):\n%s", diff)
	}
	g, _ := replayed.Guild(guildA)
	assert.Equal(t, 3, g.MemberCount)
}

func TestStore_ReadyResetsSequence(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Apply(event(t, 0, 40, model.EventGuildCreate, fullGuild(guildB), t0)))
	require.NoError(t, s.Apply(event(t, 0, 1, model.EventReady, model.Ready{
		User:   *user(1, "bot"),
		Guilds: []model.UnavailableGuild{{ID: guildB, Unavailable: true}},
	}, t0)))
	require.NoError(t, s.Apply(event(t, 0, 2, model.EventChannelCreate,
		model.Channel{ID: 77, GuildID: guildB, Name: "new"}, t0)))

	_, ok := s.Channel(77)
	assert.True(t, ok)
	self, ok := s.Self()
	require.True(t, ok)
	assert.Equal(t, "bot", self.Username)
	g, _ := s.Guild(guildB)
	assert.False(t, g.Unavailable, "ready does not overwrite a known guild")
}

func TestStore_RESTFreshness(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Apply(event(t, 1, 1, model.EventChannelUpdate,
		model.Channel{ID: 50, GuildID: guildA, Name: "gateway"}, t0)))

	restChannel := func(name string, issuedAt time.Time) {
		t.Helper()
		body, err := json.Marshal(model.Channel{ID: 50, GuildID: guildA, Name: name})
		require.NoError(t, err)
		require.NoError(t, s.ApplyREST(rest.NewRequest(rest.RouteGetChannel, "channel_id", "50"), body, issuedAt))
	}
	name := func() string {
		ch, ok := s.Channel(50)
		require.True(t, ok)
		return ch.Name
	}

	restChannel("older", t0.Add(-time.Second))
	assert.Equal(t, "gateway", name())

	restChannel("tie", t0)
	assert.Equal(t, "gateway", name(), "ties favour the gateway")

	restChannel("newer", t0.Add(time.Millisecond))
	assert.Equal(t, "newer", name())

	require.NoError(t, s.Apply(event(t, 1, 2, model.EventChannelUpdate,
		model.Channel{ID: 50, GuildID: guildA, Name: "gateway again"}, t0.Add(2*time.Millisecond))))
	assert.Equal(t, "gateway again", name())
}

func TestStore_RESTDoesNotResurrectDeleted(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Apply(event(t, 1, 1, model.EventChannelCreate,
		model.Channel{ID: 50, GuildID: guildA, Name: "doomed"}, t0)))
	require.NoError(t, s.Apply(event(t, 1, 2, model.EventChannelDelete,
		model.Channel{ID: 50, GuildID: guildA}, t0.Add(time.Second))))

	body, _ := json.Marshal(model.Channel{ID: 50, GuildID: guildA, Name: "doomed"})
	require.NoError(t, s.ApplyREST(rest.NewRequest(rest.RouteGetChannel, "channel_id", "50"), body, t0.Add(500*time.Millisecond)))

	_, ok := s.Channel(50)
	assert.False(t, ok)
	assert.Empty(t, s.GuildChannels(guildA))
}

func TestStore_ObserveResponse(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Apply(event(t, 1, 1, model.EventGuildCreate, fullGuild(guildA), t0)))

	roles, _ := json.Marshal([]model.Role{{ID: guildA + 3, Name: "fresh"}})
	s.ObserveResponse(
		rest.NewRequest(rest.RouteGetGuildRoles, "guild_id", guildA.String()),
		&rest.Response{Status: 200, Body: roles},
		t0.Add(time.Second),
	)
	r, ok := s.Role(guildA, guildA+3)
	require.True(t, ok)
	assert.Equal(t, "fresh", r.Name)

	s.ObserveResponse(
		rest.NewRequest(rest.RouteRemoveGuildMember, "guild_id", guildA.String(), "user_id", (guildA + 101).String()),
		&rest.Response{Status: 204},
		t0.Add(time.Second),
	)
	_, ok = s.Member(guildA, guildA+101)
	assert.False(t, ok)
	g, _ := s.Guild(guildA)
	assert.Equal(t, 1, g.MemberCount)

	// unrelated routes are ignored
	s.ObserveResponse(rest.NewRequest(rest.RouteTriggerTyping, "channel_id", "1"), &rest.Response{Status: 204}, t0)

	err := s.ApplyREST(rest.NewRequest(rest.RouteGetGuildRoles), roles, t0)
	require.ErrorIs(t, err, ErrBadParam)
	err = s.ApplyREST(rest.NewRequest(rest.RouteGetChannel, "channel_id", "1"), []byte("{"), t0)
	require.ErrorIs(t, err, ErrDecode)
}

func TestStore_InvalidateShard(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Apply(event(t, 1, 1, model.EventGuildCreate, fullGuild(guildA), t0)))
	require.NoError(t, s.Apply(event(t, 0, 1, model.EventGuildCreate, fullGuild(guildB), t0)))

	s.InvalidateShard(0, 2)

	_, ok := s.Guild(guildB)
	assert.False(t, ok)
	_, ok = s.Channel(guildB + 10)
	assert.False(t, ok)
	_, ok = s.User(guildB + 100)
	assert.False(t, ok, "users of dropped guilds are pruned")

	_, ok = s.Guild(guildA)
	assert.True(t, ok)
	_, ok = s.User(guildA + 100)
	assert.True(t, ok)

	// a new session on shard 0 starts over at seq 1
	require.NoError(t, s.Apply(event(t, 0, 1, model.EventGuildCreate, fullGuild(guildB), t0)))
	_, ok = s.Guild(guildB)
	assert.True(t, ok)
}

func TestStore_RoleDeleteStripsMembers(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Apply(event(t, 1, 1, model.EventGuildCreate, fullGuild(guildA), t0)))
	require.NoError(t, s.Apply(event(t, 1, 2, model.EventGuildRoleDelete,
		model.GuildRoleDelete{GuildID: guildA, RoleID: guildA + 2}, t0)))

	_, ok := s.Role(guildA, guildA+2)
	assert.False(t, ok)
	m, _ := s.Member(guildA, guildA+100)
	assert.Empty(t, m.Roles)
}

func TestStore_MessagesAreBounded(t *testing.T) {
	s := newTestStore(func(st *Settings) { st.MaxMessages = 2 })
	for i := range 3 {
		require.NoError(t, s.Apply(event(t, 1, int64(i+1), model.EventMessageCreate,
			model.Message{ID: model.Snowflake(100 + i), ChannelID: 7, Author: user(5, "ann"), Content: "m"}, t0)))
	}
	msgs := s.ChannelMessages(7)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.Snowflake(101), msgs[0].ID)

	require.NoError(t, s.Apply(event(t, 1, 4, model.EventMessageUpdate,
		model.Message{ID: 102, ChannelID: 7, Content: "edited"}, t0)))
	m, ok := s.Message(7, 102)
	require.True(t, ok)
	assert.Equal(t, "edited", m.Content)
	require.NotNil(t, m.Author, "partial update keeps the author")

	require.NoError(t, s.Apply(event(t, 1, 5, model.EventMessageDelete,
		model.MessageDelete{ID: 102, ChannelID: 7}, t0)))
	_, ok = s.Message(7, 102)
	assert.False(t, ok)
}

func TestStore_Settings(t *testing.T) {
	s := newTestStore(func(st *Settings) {
		st.CacheChannels = false
		st.CacheUsers = false
		st.MaxMessages = 0
	})
	require.NoError(t, s.Apply(event(t, 1, 1, model.EventGuildCreate, fullGuild(guildA), t0)))
	require.NoError(t, s.Apply(event(t, 1, 2, model.EventMessageCreate,
		model.Message{ID: 1, ChannelID: guildA + 10}, t0)))

	_, ok := s.Guild(guildA)
	assert.True(t, ok)
	assert.Empty(t, s.GuildChannels(guildA))
	assert.Empty(t, s.GuildMembers(guildA))
	_, ok = s.Message(guildA+10, 1)
	assert.False(t, ok)
}

func TestStore_DecodeError(t *testing.T) {
	s := newTestStore()
	err := s.Apply(model.DispatchEvent{Shard: 0, Seq: 1, Name: model.EventGuildCreate, Data: []byte(`{"id":[]}`)})
	require.ErrorIs(t, err, ErrDecode)

	// unknown events pass through
	require.NoError(t, s.Apply(model.DispatchEvent{Shard: 0, Seq: 2, Name: "TYPING_START", Data: []byte(`{}`)}))
}

func TestNew(t *testing.T) {
	assert.IsType(t, &Nop{}, New(Options{}))
	assert.IsType(t, &Store{}, New(Options{Settings: DefaultSettings()}))

	n := NewNop()
	require.NoError(t, n.Apply(event(t, 0, 1, model.EventGuildCreate, fullGuild(guildA), t0)))
	_, ok := n.Guild(guildA)
	assert.False(t, ok)
}
