package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrRunnerClosed       = errors.New("runner closed")
	ErrNotConnected       = errors.New("shard not connected")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrHandshakeTimeout   = errors.New("timed out waiting for hello")
	ErrZombied            = errors.New("heartbeat not acknowledged")
	ErrUnknownShard       = errors.New("unknown shard")
	ErrManagerStarted     = errors.New("manager already started")
	ErrNoToken            = errors.New("token is required")
)

// CloseError is a close frame received from the gateway.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("gateway closed: %d %s: %s", int(e.Code), e.Code, e.Reason)
}

// FatalError ends a runner for good. Its cause is usually a *CloseError with
// an authentication, sharding or intents code.
type FatalError struct {
	Shard ShardID
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("shard %d: fatal: %v", e.Shard, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// reconnectRequest ends a connection on the server's request.
type reconnectRequest struct {
	resumable bool
	reason    string
}

func (r *reconnectRequest) Error() string { return "reconnect requested: " + r.reason }
