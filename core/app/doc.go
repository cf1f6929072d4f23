// Package app assembles a complete shardgate process: the rate-limited
// REST client, the cache, the per-shard event bus and the shard manager.
//
// The REST client reports successful responses to the cache, gateway
// dispatches pass through the event bus into the cache and then to
// subscribers, and the manager asks the REST client for the recommended
// shard count when none is configured.
//
// # Basic Usage
//
//	a, err := app.Run(ctx, app.Config{
//	    Token:   token,
//	    Intents: gateway.IntentsNonPrivileged,
//	    Cache:   cache.DefaultSettings(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	events.On(a.Events(), func(e events.Dispatch) {
//	    // handle e.Name / e.Data
//	})
//
//	// Graceful shutdown that keeps sessions resumable
//	a.Shutdown(ctx, true)
//
// # Multiple Processes
//
// To spread shards over several processes, give every process the same
// Shards.Total and Shards.Nodes and its own Shards.NodeID. Shards are
// assigned with rendezvous hashing, so adding a node moves only the shards
// it takes over. Pass a shared Sessions store (NATS KV or Redis) to let a
// replacement process resume the sessions of a stopped one.
package app
