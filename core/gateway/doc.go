// Package gateway keeps websocket sessions to the gateway alive, one per shard.
//
// # Shards and runners
//
// A [Shard] is the session state machine of one connection: stage, last
// sequence, session id and heartbeat bookkeeping. It does no I/O. A [Runner]
// drives a shard over a [Conn]: it dials, waits for HELLO, identifies or
// resumes, beats the heart and hands every dispatch to OnDispatch in
// sequence order.
//
// When a connection ends the runner decides what to do next from the close
// code (see [Classify]):
//
//   - Resume: reconnect and continue the session where it stopped
//   - Reidentify: drop the session and start a fresh one
//   - Fatal: stop and return a [*FatalError]
//
// A connection that misses two heartbeat acks in a row is treated as a
// zombie and replaced with a fresh session.
//
// # Manager
//
// [Manager] runs one runner per owned shard. Identifies go through an
// [IdentifyQueue] so that at most max_concurrency sessions start per
// interval. Several processes can split the shards between them:
//
//	m, err := gateway.NewManager(gateway.ManagerOptions{
//	    Token:       token,
//	    Intents:     gateway.IntentGuilds | gateway.IntentGuildMessages,
//	    TotalShards: 16,
//	    Nodes:       []string{"gw-a", "gw-b"},
//	    NodeID:      "gw-a",
//	    OnDispatch:  bus.Dispatch,
//	})
//	if err := m.Start(ctx); err != nil {
//	    return err
//	}
//	defer m.Shutdown(context.Background(), true)
//
// # Sessions
//
// With a [SessionStore] the session survives the process. A resumable
// shutdown saves it, and the next runner for the same shard resumes instead
// of identifying.
package gateway
