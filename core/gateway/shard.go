package gateway

import (
	"fmt"
	"time"
)

type ShardID int

type Stage int

const (
	StageDisconnected Stage = iota
	StageConnecting
	StageHandshake
	StageIdentifying
	StageResuming
	StageConnected
)

func (s Stage) String() string {
	switch s {
	case StageDisconnected:
		return "disconnected"
	case StageConnecting:
		return "connecting"
	case StageHandshake:
		return "handshake"
	case StageIdentifying:
		return "identifying"
	case StageResuming:
		return "resuming"
	case StageConnected:
		return "connected"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Session is what a shard needs to resume after a dropped connection.
type Session struct {
	ID        string `json:"id"`
	Sequence  int64  `json:"sequence"`
	ResumeURL string `json:"resume_url"`
}

// Status is a point-in-time view of a shard.
type Status struct {
	ID         ShardID
	Total      int
	Stage      Stage
	Session    *Session
	Latency    time.Duration
	LastAck    time.Time
	Resumes    int
	Identifies int
}

type heartbeat struct {
	interval   time.Duration
	lastSent   time.Time
	lastAck    time.Time
	ackPending bool
	missed     int
	latency    time.Duration
}

// Shard is the session state machine of one gateway connection. It performs
// no I/O and is owned by a single runner goroutine.
type Shard struct {
	id         ShardID
	total      int
	stage      Stage
	seq        int64
	session    *Session
	hb         heartbeat
	maxMissed  int
	resumes    int
	identifies int
}

func NewShard(id ShardID, total int, maxMissedAcks int) *Shard {
	if maxMissedAcks <= 0 {
		maxMissedAcks = 2
	}
	return &Shard{id: id, total: total, maxMissed: maxMissedAcks}
}

func (s *Shard) ID() ShardID { return s.id }

func (s *Shard) Stage() Stage { return s.stage }

func (s *Shard) setStage(st Stage) (prev Stage) {
	prev, s.stage = s.stage, st
	return prev
}

// Session returns a copy of the current session, nil if there is none.
func (s *Shard) Session() *Session {
	if s.session == nil {
		return nil
	}
	cp := *s.session
	cp.Sequence = s.seq
	return &cp
}

func (s *Shard) restore(sess *Session) {
	if sess == nil || sess.ID == "" {
		return
	}
	cp := *sess
	s.session = &cp
	s.seq = sess.Sequence
}

// CanResume reports whether the next connection should resume.
func (s *Shard) CanResume() bool { return s.session != nil }

// Invalidate drops the session; the next connection identifies.
func (s *Shard) Invalidate() {
	s.session = nil
	s.seq = 0
}

// Seq is the last accepted dispatch sequence.
func (s *Shard) Seq() int64 { return s.seq }

// AcceptSeq records seq and reports whether the dispatch carrying it is new.
// Duplicates and regressions are rejected.
func (s *Shard) AcceptSeq(seq int64) bool {
	if seq <= s.seq {
		return false
	}
	s.seq = seq
	if s.session != nil {
		s.session.Sequence = seq
	}
	return true
}

func (s *Shard) onReady(sessionID, resumeURL string) {
	s.session = &Session{ID: sessionID, Sequence: s.seq, ResumeURL: resumeURL}
	s.identifies++
}

func (s *Shard) onResumed() { s.resumes++ }

func (s *Shard) onHello(interval time.Duration) {
	s.hb = heartbeat{interval: interval}
}

// Beat is called on every heartbeat tick. It returns false when the
// connection is zombied and must not be used any further.
func (s *Shard) Beat(now time.Time) bool {
	if s.hb.ackPending {
		s.hb.missed++
		if s.hb.missed >= s.maxMissed {
			return false
		}
	}
	s.hb.ackPending = true
	s.hb.lastSent = now
	return true
}

func (s *Shard) Ack(now time.Time) {
	if s.hb.ackPending && !s.hb.lastSent.IsZero() {
		s.hb.latency = now.Sub(s.hb.lastSent)
	}
	s.hb.ackPending = false
	s.hb.missed = 0
	s.hb.lastAck = now
}

func (s *Shard) Status() Status {
	return Status{
		ID:         s.id,
		Total:      s.total,
		Stage:      s.stage,
		Session:    s.Session(),
		Latency:    s.hb.latency,
		LastAck:    s.hb.lastAck,
		Resumes:    s.resumes,
		Identifies: s.identifies,
	}
}
