package cache

import (
	"cmp"
	"slices"

	"github.com/codewandler/shardgate/core/model"
)

func (s *Store) Self() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.self == nil {
		return model.User{}, false
	}
	return *s.self, true
}

// Guild returns the guild without its channels, members, roles and
// presences. Use the Guild* accessors for those.
func (s *Store) Guild(id model.Snowflake) (model.Guild, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.guilds[id]
	if !ok || !rec.known {
		return model.Guild{}, false
	}
	return rec.guild, true
}

// Guilds returns all known guilds ordered by id.
func (s *Store) Guilds() []model.Guild {
	s.mu.RLock()
	out := make([]model.Guild, 0, len(s.guilds))
	for _, rec := range s.guilds {
		if rec.known {
			out = append(out, rec.guild)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.Guild) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Store) Channel(id model.Snowflake) (model.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	return ch.v, ok
}

func (s *Store) GuildChannels(guildID model.Snowflake) []model.Channel {
	s.mu.RLock()
	var out []model.Channel
	if rec, ok := s.guilds[guildID]; ok {
		out = make([]model.Channel, 0, len(rec.channels))
		for id := range rec.channels {
			out = append(out, s.channels[id].v)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.Channel) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (s *Store) User(id model.Snowflake) (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u.v, ok
}

func (s *Store) Member(guildID, userID model.Snowflake) (model.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.guilds[guildID]
	if !ok {
		return model.Member{}, false
	}
	m, ok := rec.members[userID]
	if !ok {
		return model.Member{}, false
	}
	return s.member(userID, m.v), true
}

func (s *Store) GuildMembers(guildID model.Snowflake) []model.Member {
	s.mu.RLock()
	var out []model.Member
	if rec, ok := s.guilds[guildID]; ok {
		out = make([]model.Member, 0, len(rec.members))
		for uid, m := range rec.members {
			out = append(out, s.member(uid, m.v))
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.Member) int { return cmp.Compare(a.User.ID, b.User.ID) })
	return out
}

// member joins a stored member with its user. Called with mu held.
func (s *Store) member(userID model.Snowflake, m model.Member) model.Member {
	u := model.User{ID: userID}
	if su, ok := s.users[userID]; ok {
		u = su.v
	}
	m.User = &u
	m.Roles = slices.Clone(m.Roles)
	return m
}

func (s *Store) Role(guildID, roleID model.Snowflake) (model.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.guilds[guildID]
	if !ok {
		return model.Role{}, false
	}
	r, ok := rec.roles[roleID]
	return r.v, ok
}

func (s *Store) GuildRoles(guildID model.Snowflake) []model.Role {
	s.mu.RLock()
	var out []model.Role
	if rec, ok := s.guilds[guildID]; ok {
		out = make([]model.Role, 0, len(rec.roles))
		for _, r := range rec.roles {
			out = append(out, r.v)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.Role) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (s *Store) Presence(guildID, userID model.Snowflake) (model.Presence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.guilds[guildID]
	if !ok {
		return model.Presence{}, false
	}
	p, ok := rec.presences[userID]
	if ok {
		if u, found := s.users[userID]; found {
			p.User = u.v
		}
	}
	return p, ok
}

func (s *Store) Message(channelID, messageID model.Snowflake) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.messages[channelID]
	if !ok {
		return model.Message{}, false
	}
	m, ok := l.Peek(messageID)
	return m.v, ok
}

// ChannelMessages returns the cached messages of a channel, oldest first.
func (s *Store) ChannelMessages(channelID model.Snowflake) []model.Message {
	s.mu.RLock()
	var out []model.Message
	if l, ok := s.messages[channelID]; ok {
		for _, m := range l.Values() {
			out = append(out, m.v)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.Message) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Channels: len(s.channels), Users: len(s.users)}
	for _, rec := range s.guilds {
		if rec.known {
			st.Guilds++
		}
		st.Members += len(rec.members)
		st.Roles += len(rec.roles)
	}
	for _, l := range s.messages {
		st.Messages += l.Len()
	}
	return st
}
