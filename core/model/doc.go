// Package model holds the minimal entity shapes shared by the gateway, the
// REST client and the cache.
//
// Only the fields the cache indexes or relates on are modelled. Everything
// else a payload carries is ignored on decode.
//
// # Snowflakes
//
// IDs are 64-bit snowflakes. On the wire they are JSON strings; [Snowflake]
// accepts both strings and numbers.
//
// # Dispatch events
//
// [DispatchEvent] is what a shard emits for every op 0 frame it accepts. The
// Data field stays raw so consumers decode only what they need.
package model
