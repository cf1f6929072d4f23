package gateway

// CloseCode is a websocket close status sent by the gateway.
type CloseCode int

const (
	CloseNormal            CloseCode = 1000
	CloseGoingAway         CloseCode = 1001
	CloseAbnormal          CloseCode = 1006
	CloseUnknownError      CloseCode = 4000
	CloseUnknownOpcode     CloseCode = 4001
	CloseDecodeError       CloseCode = 4002
	CloseNotAuthenticated  CloseCode = 4003
	CloseAuthFailed        CloseCode = 4004
	CloseAlreadyAuthed     CloseCode = 4005
	CloseInvalidSeq        CloseCode = 4007
	CloseRateLimited       CloseCode = 4008
	CloseSessionTimedOut   CloseCode = 4009
	CloseInvalidShard      CloseCode = 4010
	CloseShardingRequired  CloseCode = 4011
	CloseInvalidAPIVersion CloseCode = 4012
	CloseInvalidIntents    CloseCode = 4013
	CloseDisallowedIntents CloseCode = 4014
)

// Disposition is what a runner does after a connection ends.
type Disposition int

const (
	// Resume reconnects and resumes the existing session.
	Resume Disposition = iota
	// Reidentify discards the session and identifies again.
	Reidentify
	// Fatal stops the runner. Retrying cannot succeed.
	Fatal
)

func (d Disposition) String() string {
	switch d {
	case Resume:
		return "resume"
	case Reidentify:
		return "reidentify"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps a close code to the runner's next step.
func Classify(code CloseCode) Disposition {
	switch code {
	case CloseAuthFailed, CloseInvalidShard, CloseShardingRequired,
		CloseInvalidAPIVersion, CloseInvalidIntents, CloseDisallowedIntents:
		return Fatal
	case CloseNotAuthenticated, CloseInvalidSeq, CloseSessionTimedOut,
		CloseNormal, CloseGoingAway:
		return Reidentify
	default:
		return Resume
	}
}

func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "normal"
	case CloseGoingAway:
		return "going away"
	case CloseAbnormal:
		return "abnormal"
	case CloseUnknownError:
		return "unknown error"
	case CloseUnknownOpcode:
		return "unknown opcode"
	case CloseDecodeError:
		return "decode error"
	case CloseNotAuthenticated:
		return "not authenticated"
	case CloseAuthFailed:
		return "authentication failed"
	case CloseAlreadyAuthed:
		return "already authenticated"
	case CloseInvalidSeq:
		return "invalid seq"
	case CloseRateLimited:
		return "rate limited"
	case CloseSessionTimedOut:
		return "session timed out"
	case CloseInvalidShard:
		return "invalid shard"
	case CloseShardingRequired:
		return "sharding required"
	case CloseInvalidAPIVersion:
		return "invalid api version"
	case CloseInvalidIntents:
		return "invalid intents"
	case CloseDisallowedIntents:
		return "disallowed intents"
	default:
		return "unknown"
	}
}
