package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/shardgate/core/model"
	"github.com/codewandler/shardgate/core/rest"
)

// ObserveResponse feeds successful REST responses into the cache.
func (s *Store) ObserveResponse(req *rest.Request, resp *rest.Response, issuedAt time.Time) {
	if err := s.ApplyREST(req, resp.Body, issuedAt); err != nil {
		s.log.Debug("rest response not cached",
			slog.String("route", req.Route.String()),
			slog.Any("error", err),
		)
	}
}

// ApplyREST offers the body of a successful response to the cache. A value
// replaces the cached one only when the request was issued strictly after
// the last write of that entity; on a tie the gateway value stays.
// Responses of routes that carry no cacheable entity are ignored.
func (s *Store) ApplyREST(req *rest.Request, body []byte, issuedAt time.Time) error {
	var (
		applied bool
		err     error
	)
	switch req.Route {
	case rest.RouteGetGuild:
		var g model.Guild
		if err = decode(body, &g); err == nil {
			applied = s.restWrite(func() bool { return s.restGuild(g, issuedAt) })
		}

	case rest.RouteGetGuildChannels:
		var chs []model.Channel
		if err = decode(body, &chs); err == nil {
			applied = s.restWrite(func() bool {
				ok := false
				for _, ch := range chs {
					ok = s.restChannel(ch, issuedAt) || ok
				}
				return ok
			})
		}

	case rest.RouteGetChannel, rest.RouteModifyChannel, rest.RouteCreateGuildChannel:
		var ch model.Channel
		if err = decode(body, &ch); err == nil {
			applied = s.restWrite(func() bool { return s.restChannel(ch, issuedAt) })
		}

	case rest.RouteDeleteChannel:
		var id model.Snowflake
		if id, err = param(req, "channel_id"); err == nil {
			applied = s.restWrite(func() bool {
				if !s.admit(id, s.channels[id].at, issuedAt) {
					return false
				}
				s.deleteChannel(id, issuedAt)
				return true
			})
		}

	case rest.RouteGetGuildRoles:
		var (
			guildID model.Snowflake
			roles   []model.Role
		)
		if guildID, err = param(req, "guild_id"); err == nil {
			if err = decode(body, &roles); err == nil {
				applied = s.restWrite(func() bool {
					ok := false
					for _, r := range roles {
						ok = s.restRole(guildID, r, issuedAt) || ok
					}
					return ok
				})
			}
		}

	case rest.RouteGetGuildMember, rest.RouteModifyGuildMember:
		var (
			guildID model.Snowflake
			m       model.Member
		)
		if guildID, err = param(req, "guild_id"); err == nil {
			if err = decode(body, &m); err == nil {
				applied = s.restWrite(func() bool { return s.restMember(guildID, m, issuedAt) })
			}
		}

	case rest.RouteRemoveGuildMember:
		var guildID, userID model.Snowflake
		if guildID, err = param(req, "guild_id"); err == nil {
			if userID, err = param(req, "user_id"); err == nil {
				applied = s.restWrite(func() bool {
					rec, ok := s.guilds[guildID]
					if !ok || !s.admit(userID, rec.members[userID].at, issuedAt) {
						return false
					}
					if s.deleteMember(guildID, userID) {
						s.adjustMemberCount(guildID, -1)
					}
					return true
				})
			}
		}

	case rest.RouteGetUser, rest.RouteGetCurrentUser:
		var u model.User
		if err = decode(body, &u); err == nil {
			current := req.Route == rest.RouteGetCurrentUser
			applied = s.restWrite(func() bool {
				if !s.admit(u.ID, s.users[u.ID].at, issuedAt) {
					return false
				}
				s.putUser(u, issuedAt)
				if current {
					s.self = &u
				}
				return true
			})
		}

	case rest.RouteGetMessage, rest.RouteCreateMessage, rest.RouteEditMessage:
		var m model.Message
		if err = decode(body, &m); err == nil {
			applied = s.restWrite(func() bool { return s.restMessage(m, issuedAt) })
		}

	case rest.RouteDeleteMessage:
		var channelID, messageID model.Snowflake
		if channelID, err = param(req, "channel_id"); err == nil {
			if messageID, err = param(req, "message_id"); err == nil {
				applied = s.restWrite(func() bool {
					if !s.admit(messageID, s.messageAt(channelID, messageID), issuedAt) {
						return false
					}
					s.deleteMessage(channelID, messageID, issuedAt)
					return true
				})
			}
		}

	default:
		return nil
	}

	if err != nil {
		return fmt.Errorf("%s: %w", req.Route, err)
	}
	s.metrics.RESTWrite(req.Route.String(), applied)
	return nil
}

func (s *Store) restWrite(fn func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// admit reports whether a REST value issued at issuedAt may replace an entity
// last written at last. A zero last means the entity is unknown.
func (s *Store) admit(id model.Snowflake, last, issuedAt time.Time) bool {
	if t, ok := s.tombstones[id]; ok && !issuedAt.After(t) {
		return false
	}
	return last.IsZero() || issuedAt.After(last)
}

func (s *Store) restGuild(g model.Guild, issuedAt time.Time) bool {
	var last time.Time
	if rec, ok := s.guilds[g.ID]; ok {
		last = rec.at
	}
	if !s.admit(g.ID, last, issuedAt) {
		return false
	}
	roles := g.Roles
	g.Roles = nil
	s.putGuild(g, issuedAt)
	for _, r := range roles {
		s.restRole(g.ID, r, issuedAt)
	}
	return true
}

func (s *Store) restChannel(ch model.Channel, issuedAt time.Time) bool {
	if !s.admit(ch.ID, s.channels[ch.ID].at, issuedAt) {
		return false
	}
	s.putChannel(ch, issuedAt)
	return true
}

func (s *Store) restRole(guildID model.Snowflake, r model.Role, issuedAt time.Time) bool {
	var last time.Time
	if rec, ok := s.guilds[guildID]; ok {
		last = rec.roles[r.ID].at
	}
	if !s.admit(r.ID, last, issuedAt) {
		return false
	}
	s.putRole(guildID, r, issuedAt)
	return true
}

func (s *Store) restMember(guildID model.Snowflake, m model.Member, issuedAt time.Time) bool {
	if m.User == nil {
		return false
	}
	var last time.Time
	if rec, ok := s.guilds[guildID]; ok {
		last = rec.members[m.User.ID].at
	}
	if !s.admit(m.User.ID, last, issuedAt) {
		return false
	}
	s.putMember(guildID, m, issuedAt)
	return true
}

func (s *Store) restMessage(m model.Message, issuedAt time.Time) bool {
	if !s.admit(m.ID, s.messageAt(m.ChannelID, m.ID), issuedAt) {
		return false
	}
	s.putMessage(m, issuedAt)
	return true
}

func (s *Store) messageAt(channelID, id model.Snowflake) time.Time {
	if l, ok := s.messages[channelID]; ok {
		if m, ok := l.Peek(id); ok {
			return m.at
		}
	}
	return time.Time{}
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

func param(req *rest.Request, name string) (model.Snowflake, error) {
	id, err := model.ParseSnowflake(req.Params[name])
	if err != nil {
		return 0, fmt.Errorf("%w %s: %w", ErrBadParam, name, err)
	}
	return id, nil
}
