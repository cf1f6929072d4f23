// Package cache mirrors guilds, channels, users, members, roles, presences
// and recent messages from gateway events and REST responses.
//
// # Writers
//
// [Store.Apply] folds one dispatch event into the cache. Events of a shard
// are expected in receive order; a sequence number at or below the last one
// applied for that shard is ignored, so a replayed or regressed dispatch
// never rewinds state. Every event runs under one write lock, which makes
// multi-index updates such as GUILD_DELETE atomic for readers.
//
// [Store.ApplyREST] takes the body of a successful REST response. Gateway
// events always win: a REST value replaces the cached one only when its
// request was issued strictly after the last write of that entity, and a
// deletion keeps stale responses from bringing the entity back.
//
//	client.SetObserver(store)
//
// # Readers
//
// Accessors return copies and never block on I/O. A miss means unknown; the
// cache never fetches.
//
// # Settings
//
// [Settings] choose which entity kinds are kept and how many messages per
// channel. [New] returns a [Nop] when the cache is disabled.
package cache
