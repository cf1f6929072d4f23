package cache

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/codewandler/shardgate/core/model"
)

const (
	defaultTombstoneTTL = 5 * time.Minute
	maxTombstones       = 1024
)

// stamped is a value plus the time of the write that produced it. Gateway
// writes use the receive time, REST writes the time the request was issued.
type stamped[T any] struct {
	v  T
	at time.Time
}

type guildRecord struct {
	// known is false while the record only holds indices for a guild that
	// was never seen itself.
	known     bool
	guild     model.Guild
	at        time.Time
	channels  map[model.Snowflake]struct{}
	members   map[model.Snowflake]stamped[model.Member]
	roles     map[model.Snowflake]stamped[model.Role]
	presences map[model.Snowflake]model.Presence
}

func newGuildRecord() *guildRecord {
	return &guildRecord{
		channels:  make(map[model.Snowflake]struct{}),
		members:   make(map[model.Snowflake]stamped[model.Member]),
		roles:     make(map[model.Snowflake]stamped[model.Role]),
		presences: make(map[model.Snowflake]model.Presence),
	}
}

// Store is the in-memory Cache. All updates take one write lock so an event
// touching several indices is observed either fully or not at all.
type Store struct {
	settings     Settings
	tombstoneTTL time.Duration
	metrics      Metrics
	log          *slog.Logger

	mu         sync.RWMutex
	self       *model.User
	guilds     map[model.Snowflake]*guildRecord
	channels   map[model.Snowflake]stamped[model.Channel]
	users      map[model.Snowflake]stamped[model.User]
	messages   map[model.Snowflake]*LRU[model.Snowflake, stamped[model.Message]]
	tombstones map[model.Snowflake]time.Time
	seqs       map[int]int64
}

func NewStore(opts Options) *Store {
	if opts.TombstoneTTL <= 0 {
		opts.TombstoneTTL = defaultTombstoneTTL
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		settings:     opts.Settings,
		tombstoneTTL: opts.TombstoneTTL,
		metrics:      opts.Metrics,
		log:          log.With(slog.String("component", "cache")),
		guilds:       make(map[model.Snowflake]*guildRecord),
		channels:     make(map[model.Snowflake]stamped[model.Channel]),
		users:        make(map[model.Snowflake]stamped[model.User]),
		messages:     make(map[model.Snowflake]*LRU[model.Snowflake, stamped[model.Message]]),
		tombstones:   make(map[model.Snowflake]time.Time),
		seqs:         make(map[int]int64),
	}
}

// Apply folds a dispatch into the cache. Events of one shard must be applied
// in receive order; a sequence at or below the last applied one is ignored.
func (s *Store) Apply(e model.DispatchEvent) error {
	at := e.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	mutate, err := s.mutation(e, at)
	if err != nil {
		s.metrics.EventDropped(string(e.Name), "decode")
		return fmt.Errorf("%w %s: %w", ErrDecode, e.Name, err)
	}

	s.mu.Lock()
	if e.Name == model.EventReady {
		s.seqs[e.Shard] = 0
	}
	if e.Seq > 0 {
		if last := s.seqs[e.Shard]; e.Seq <= last {
			s.mu.Unlock()
			s.log.Debug("stale dispatch ignored",
				slog.Int("shard", e.Shard),
				slog.String("event", string(e.Name)),
				slog.Int64("seq", e.Seq),
				slog.Int64("last", last),
			)
			s.metrics.EventDropped(string(e.Name), "stale_sequence")
			return nil
		}
		s.seqs[e.Shard] = e.Seq
	}
	if mutate != nil {
		mutate()
	}
	s.mu.Unlock()

	s.metrics.EventApplied(string(e.Name))
	return nil
}

// mutation decodes e outside the lock and returns the update to run under it.
func (s *Store) mutation(e model.DispatchEvent, at time.Time) (func(), error) {
	switch e.Name {
	case model.EventReady:
		var r model.Ready
		if err := e.Decode(&r); err != nil {
			return nil, err
		}
		return func() { s.onReady(r, at) }, nil

	case model.EventGuildCreate:
		var g model.Guild
		if err := e.Decode(&g); err != nil {
			return nil, err
		}
		return func() { s.onGuildCreate(g, at) }, nil

	case model.EventGuildUpdate:
		var g model.Guild
		if err := e.Decode(&g); err != nil {
			return nil, err
		}
		return func() { s.putGuild(g, at) }, nil

	case model.EventGuildDelete:
		var u model.UnavailableGuild
		if err := e.Decode(&u); err != nil {
			return nil, err
		}
		return func() { s.onGuildDelete(u, at) }, nil

	case model.EventChannelCreate, model.EventChannelUpdate:
		var ch model.Channel
		if err := e.Decode(&ch); err != nil {
			return nil, err
		}
		return func() { s.putChannel(ch, at) }, nil

	case model.EventChannelDelete:
		var ch model.Channel
		if err := e.Decode(&ch); err != nil {
			return nil, err
		}
		return func() { s.deleteChannel(ch.ID, at) }, nil

	case model.EventGuildMemberAdd, model.EventGuildMemberUpdate:
		var m model.Member
		if err := e.Decode(&m); err != nil {
			return nil, err
		}
		added := e.Name == model.EventGuildMemberAdd
		return func() {
			s.putMember(m.GuildID, m, at)
			if added {
				s.adjustMemberCount(m.GuildID, 1)
			}
		}, nil

	case model.EventGuildMemberRemove:
		var r model.GuildMemberRemove
		if err := e.Decode(&r); err != nil {
			return nil, err
		}
		return func() {
			if s.deleteMember(r.GuildID, r.User.ID) {
				s.adjustMemberCount(r.GuildID, -1)
			}
		}, nil

	case model.EventGuildMembersChunk:
		var c model.GuildMembersChunk
		if err := e.Decode(&c); err != nil {
			return nil, err
		}
		return func() {
			for _, m := range c.Members {
				s.putMember(c.GuildID, m, at)
			}
			for _, p := range c.Presences {
				s.putPresence(c.GuildID, p, at)
			}
		}, nil

	case model.EventGuildRoleCreate, model.EventGuildRoleUpdate:
		var r model.GuildRoleEvent
		if err := e.Decode(&r); err != nil {
			return nil, err
		}
		return func() { s.putRole(r.GuildID, r.Role, at) }, nil

	case model.EventGuildRoleDelete:
		var r model.GuildRoleDelete
		if err := e.Decode(&r); err != nil {
			return nil, err
		}
		return func() { s.deleteRole(r.GuildID, r.RoleID, at) }, nil

	case model.EventPresenceUpdate:
		var p model.Presence
		if err := e.Decode(&p); err != nil {
			return nil, err
		}
		return func() { s.putPresence(p.GuildID, p, at) }, nil

	case model.EventUserUpdate:
		var u model.User
		if err := e.Decode(&u); err != nil {
			return nil, err
		}
		return func() {
			s.self = &u
			s.putUser(u, at)
		}, nil

	case model.EventMessageCreate, model.EventMessageUpdate:
		var m model.Message
		if err := e.Decode(&m); err != nil {
			return nil, err
		}
		return func() { s.putMessage(m, at) }, nil

	case model.EventMessageDelete:
		var d model.MessageDelete
		if err := e.Decode(&d); err != nil {
			return nil, err
		}
		return func() { s.deleteMessage(d.ChannelID, d.ID, at) }, nil
	}
	return nil, nil
}

// InvalidateShard forgets every guild delivered on shard together with its
// channels, members, roles and presences. The next READY starts from scratch.
func (s *Store) InvalidateShard(shard, total int) {
	s.mu.Lock()
	n := 0
	for id := range s.guilds {
		if model.ShardForGuild(id, total) == shard {
			s.dropGuild(id)
			n++
		}
	}
	delete(s.seqs, shard)
	s.pruneUsers()
	s.mu.Unlock()

	s.log.Info("shard invalidated", slog.Int("shard", shard), slog.Int("guilds", n))
	s.metrics.ShardInvalidated(shard)
}

// --- writers, called with mu held ---

func (s *Store) guildRec(id model.Snowflake) *guildRecord {
	rec, ok := s.guilds[id]
	if !ok {
		rec = newGuildRecord()
		s.guilds[id] = rec
	}
	return rec
}

func (s *Store) onReady(r model.Ready, at time.Time) {
	self := r.User
	s.self = &self
	s.putUser(self, at)
	if !s.settings.CacheGuilds {
		return
	}
	for _, ug := range r.Guilds {
		rec := s.guildRec(ug.ID)
		if !rec.known {
			rec.known = true
			rec.guild = model.Guild{ID: ug.ID, Unavailable: true}
			rec.at = at
		}
	}
}

// onGuildCreate replaces everything known about the guild.
func (s *Store) onGuildCreate(g model.Guild, at time.Time) {
	s.dropGuild(g.ID)
	delete(s.tombstones, g.ID)
	s.putGuild(g, at)

	for _, ch := range g.Channels {
		ch.GuildID = g.ID
		s.putChannel(ch, at)
	}
	for _, m := range g.Members {
		s.putMember(g.ID, m, at)
	}
	for _, p := range g.Presences {
		s.putPresence(g.ID, p, at)
	}
}

func (s *Store) putGuild(g model.Guild, at time.Time) {
	rec := s.guildRec(g.ID)
	if s.settings.CacheGuilds {
		if g.MemberCount == 0 {
			g.MemberCount = rec.guild.MemberCount
		}
		rec.known = true
		rec.guild = bareGuild(g)
		rec.at = at
		for _, r := range g.Roles {
			rec.roles[r.ID] = stamped[model.Role]{v: r, at: at}
		}
	}
}

func (s *Store) onGuildDelete(u model.UnavailableGuild, at time.Time) {
	s.dropGuild(u.ID)
	if u.Unavailable && s.settings.CacheGuilds {
		rec := s.guildRec(u.ID)
		rec.known = true
		rec.guild = model.Guild{ID: u.ID, Unavailable: true}
		rec.at = at
		return
	}
	s.tombstone(u.ID, at)
}

// dropGuild removes the guild record and every channel and message indexed
// under it.
func (s *Store) dropGuild(id model.Snowflake) {
	rec, ok := s.guilds[id]
	if !ok {
		return
	}
	for chID := range rec.channels {
		delete(s.channels, chID)
		delete(s.messages, chID)
	}
	delete(s.guilds, id)
}

func (s *Store) adjustMemberCount(guildID model.Snowflake, delta int) {
	if rec, ok := s.guilds[guildID]; ok && rec.known {
		rec.guild.MemberCount = max(0, rec.guild.MemberCount+delta)
	}
}

func (s *Store) putChannel(ch model.Channel, at time.Time) {
	if !s.settings.CacheChannels {
		return
	}
	if old, ok := s.channels[ch.ID]; ok && old.v.GuildID != ch.GuildID && !old.v.GuildID.IsZero() {
		if rec, ok := s.guilds[old.v.GuildID]; ok {
			delete(rec.channels, ch.ID)
		}
	}
	s.channels[ch.ID] = stamped[model.Channel]{v: ch, at: at}
	if !ch.GuildID.IsZero() {
		s.guildRec(ch.GuildID).channels[ch.ID] = struct{}{}
	}
}

func (s *Store) deleteChannel(id model.Snowflake, at time.Time) {
	if old, ok := s.channels[id]; ok && !old.v.GuildID.IsZero() {
		if rec, ok := s.guilds[old.v.GuildID]; ok {
			delete(rec.channels, id)
		}
	}
	delete(s.channels, id)
	delete(s.messages, id)
	s.tombstone(id, at)
}

// putUser stores u. Partial users, as sent with presences, only replace a
// user that is not known yet.
func (s *Store) putUser(u model.User, at time.Time) {
	if !s.settings.CacheUsers || u.ID.IsZero() {
		return
	}
	if _, ok := s.users[u.ID]; ok && u.Username == "" {
		return
	}
	s.users[u.ID] = stamped[model.User]{v: u, at: at}
}

func (s *Store) putMember(guildID model.Snowflake, m model.Member, at time.Time) {
	if !s.settings.CacheUsers || m.User == nil || guildID.IsZero() {
		return
	}
	s.putUser(*m.User, at)
	rec := s.guildRec(guildID)
	uid := m.User.ID
	if old, ok := rec.members[uid]; ok && m.JoinedAt == "" {
		m.JoinedAt = old.v.JoinedAt
	}
	m.User = nil
	m.GuildID = guildID
	rec.members[uid] = stamped[model.Member]{v: m, at: at}
}

func (s *Store) deleteMember(guildID, userID model.Snowflake) bool {
	rec, ok := s.guilds[guildID]
	if !ok {
		return false
	}
	_, had := rec.members[userID]
	delete(rec.members, userID)
	delete(rec.presences, userID)
	return had
}

func (s *Store) putRole(guildID model.Snowflake, r model.Role, at time.Time) {
	if !s.settings.CacheGuilds || guildID.IsZero() {
		return
	}
	s.guildRec(guildID).roles[r.ID] = stamped[model.Role]{v: r, at: at}
}

// deleteRole removes the role and strips it from every member holding it.
func (s *Store) deleteRole(guildID, roleID model.Snowflake, at time.Time) {
	rec, ok := s.guilds[guildID]
	if !ok {
		return
	}
	delete(rec.roles, roleID)
	for uid, m := range rec.members {
		if i := slices.Index(m.v.Roles, roleID); i >= 0 {
			m.v.Roles = slices.Delete(slices.Clone(m.v.Roles), i, i+1)
			rec.members[uid] = m
		}
	}
	s.tombstone(roleID, at)
}

func (s *Store) putPresence(guildID model.Snowflake, p model.Presence, at time.Time) {
	if !s.settings.CacheUsers || guildID.IsZero() || p.User.ID.IsZero() {
		return
	}
	s.putUser(p.User, at)
	p.GuildID = guildID
	p.User = model.User{ID: p.User.ID}
	s.guildRec(guildID).presences[p.User.ID] = p
}

func (s *Store) putMessage(m model.Message, at time.Time) {
	if s.settings.MaxMessages <= 0 || m.ChannelID.IsZero() {
		return
	}
	l, ok := s.messages[m.ChannelID]
	if !ok {
		l = NewLRU[model.Snowflake, stamped[model.Message]](LRUOpts{Size: s.settings.MaxMessages})
		s.messages[m.ChannelID] = l
	}
	if old, ok := l.Peek(m.ID); ok && m.Author == nil {
		m.Author = old.v.Author
	}
	l.Put(m.ID, stamped[model.Message]{v: m, at: at})
}

func (s *Store) deleteMessage(channelID, id model.Snowflake, at time.Time) {
	if l, ok := s.messages[channelID]; ok {
		l.Delete(id)
	}
	s.tombstone(id, at)
}

// tombstone remembers a deletion so a slower REST response cannot bring the
// entity back.
func (s *Store) tombstone(id model.Snowflake, at time.Time) {
	s.tombstones[id] = at
	if len(s.tombstones) <= maxTombstones {
		return
	}
	cutoff := at.Add(-s.tombstoneTTL)
	for k, t := range s.tombstones {
		if t.Before(cutoff) {
			delete(s.tombstones, k)
		}
	}
}

// pruneUsers drops users that are neither the current user nor a member of
// any cached guild.
func (s *Store) pruneUsers() {
	keep := make(map[model.Snowflake]struct{})
	if s.self != nil {
		keep[s.self.ID] = struct{}{}
	}
	for _, rec := range s.guilds {
		for id := range rec.members {
			keep[id] = struct{}{}
		}
	}
	for id := range s.users {
		if _, ok := keep[id]; !ok {
			delete(s.users, id)
		}
	}
}

func bareGuild(g model.Guild) model.Guild {
	g.Roles = nil
	g.Channels = nil
	g.Members = nil
	g.Presences = nil
	return g
}

var _ Cache = (*Store)(nil)
