package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardgate/ports/kv"
)

func TestShard_ZombieAfterTwoMissedAcks(t *testing.T) {
	s := NewShard(0, 1, 0)
	s.onHello(time.Second)
	now := time.Now()

	require.True(t, s.Beat(now))
	require.True(t, s.Beat(now.Add(time.Second)), "one missed ack is tolerated")
	require.False(t, s.Beat(now.Add(2*time.Second)), "second missed ack zombies the connection")
}

func TestShard_AckResetsMisses(t *testing.T) {
	s := NewShard(0, 1, 2)
	s.onHello(time.Second)
	now := time.Now()

	for i := range 10 {
		at := now.Add(time.Duration(i) * time.Second)
		require.True(t, s.Beat(at))
		s.Ack(at.Add(40 * time.Millisecond))
	}
	assert.Equal(t, 40*time.Millisecond, s.Status().Latency)
}

func TestShard_AcceptSeq(t *testing.T) {
	s := NewShard(0, 1, 2)
	var applied []int64
	for _, seq := range []int64{1, 2, 5, 4, 5, 6} {
		if s.AcceptSeq(seq) {
			applied = append(applied, seq)
		}
	}
	assert.Equal(t, []int64{1, 2, 5, 6}, applied)

	s.onReady("abc", "wss://resume")
	assert.Equal(t, int64(6), s.Session().Sequence)
	require.True(t, s.AcceptSeq(7))
	assert.Equal(t, int64(7), s.Session().Sequence)

	s.Invalidate()
	assert.Nil(t, s.Session())
	assert.True(t, s.AcceptSeq(1), "a new session starts counting again")
}

func TestClassify(t *testing.T) {
	for code, want := range map[CloseCode]Disposition{
		CloseNormal:            Reidentify,
		CloseGoingAway:         Reidentify,
		CloseAbnormal:          Resume,
		CloseUnknownError:      Resume,
		CloseUnknownOpcode:     Resume,
		CloseDecodeError:       Resume,
		CloseNotAuthenticated:  Reidentify,
		CloseAuthFailed:        Fatal,
		CloseAlreadyAuthed:     Resume,
		CloseInvalidSeq:        Reidentify,
		CloseRateLimited:       Resume,
		CloseSessionTimedOut:   Reidentify,
		CloseInvalidShard:      Fatal,
		CloseShardingRequired:  Fatal,
		CloseInvalidAPIVersion: Fatal,
		CloseInvalidIntents:    Fatal,
		CloseDisallowedIntents: Fatal,
	} {
		assert.Equal(t, want, Classify(code), "close code %d", code)
	}
}

func TestOpcodes(t *testing.T) {
	assert.Equal(t, 0, int(OpDispatch))
	assert.Equal(t, 2, int(OpIdentify))
	assert.Equal(t, 6, int(OpResume))
	assert.Equal(t, 11, int(OpHeartbeatAck))
	assert.Equal(t, "hello", OpHello.String())
	assert.Equal(t, "opcode(5)", Opcode(5).String())
}

func TestIdentifyQueue(t *testing.T) {
	q := NewIdentifyQueue(1, 100*time.Millisecond, nil)
	start := time.Now()
	require.NoError(t, q.Wait(t.Context(), 0))
	require.NoError(t, q.Wait(t.Context(), 1))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	q = NewIdentifyQueue(2, time.Hour, nil)
	start = time.Now()
	require.NoError(t, q.Wait(t.Context(), 0))
	require.NoError(t, q.Wait(t.Context(), 1))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "different buckets do not wait on each other")

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Wait(ctx, 2), context.DeadlineExceeded)
}

func TestKVSessionStore(t *testing.T) {
	s := NewKVSessionStore(kv.NewMemStore(), "", 0)

	sess, err := s.Load(t.Context(), 3)
	require.NoError(t, err)
	assert.Nil(t, sess)

	require.NoError(t, s.Save(t.Context(), 3, Session{ID: "abc", Sequence: 42, ResumeURL: "wss://r"}))
	sess, err = s.Load(t.Context(), 3)
	require.NoError(t, err)
	assert.Equal(t, &Session{ID: "abc", Sequence: 42, ResumeURL: "wss://r"}, sess)

	require.NoError(t, s.Delete(t.Context(), 3))
	sess, err = s.Load(t.Context(), 3)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestBackoff(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, b.Duration(1))
	assert.Equal(t, 400*time.Millisecond, b.Duration(3))
	assert.Equal(t, time.Second, b.Duration(8))

	b.Jitter = 0.5
	for range 20 {
		d := b.Duration(2)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}

func TestGatewayURL(t *testing.T) {
	u, err := gatewayURL("wss://gateway.example")
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.example?encoding=json&v=10", u)

	u, err = gatewayURL("wss://gateway.example/?v=9")
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.example/?encoding=json&v=9", u)
}

func TestParseIntents(t *testing.T) {
	i, err := ParseIntents([]string{"guilds", " Guild_Messages "})
	require.NoError(t, err)
	assert.Equal(t, IntentGuilds|IntentGuildMessages, i)
	assert.True(t, i.Has(IntentGuilds))
	assert.False(t, i.Has(IntentMessageContent))

	i, err = ParseIntents([]string{"non_privileged", "message_content"})
	require.NoError(t, err)
	assert.True(t, i.Has(IntentsNonPrivileged|IntentMessageContent))
	assert.False(t, i.Has(IntentGuildPresences))

	_, err = ParseIntents([]string{"guild_gossip"})
	require.Error(t, err)
}
