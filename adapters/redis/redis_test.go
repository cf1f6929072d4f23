package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codewandler/shardgate/core/gateway"
	"github.com/codewandler/shardgate/ports/kv"
)

func newTestClient(t *testing.T) Client {
	t.Helper()
	ctx := t.Context()
	redisC, err := testcontainers.Run(
		ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	endpoint, err := redisC.PortEndpoint(ctx, "6379/tcp", "")
	require.NoError(t, err)

	c, err := NewUniversalClient(ctx, Options{Addrs: []string{endpoint}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewUniversalClient_NoAddrs(t *testing.T) {
	_, err := NewUniversalClient(t.Context(), Options{})
	require.Error(t, err)
}

func TestKvStore(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	s := NewKvStore(newTestClient(t), "test:")

	_, err := s.Get(t.Context(), "missing")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Put(t.Context(), "a", kv.Entry{Data: []byte("1")}, kv.PutOptions{TTL: 200 * time.Millisecond}))
	e, err := s.Get(t.Context(), "a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), e.Data)

	require.Eventually(t, func() bool {
		_, err := s.Get(t.Context(), "a")
		return err != nil
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, s.Put(t.Context(), "b", kv.Entry{Data: []byte("2")}, kv.PutOptions{}))
	require.NoError(t, s.Delete(t.Context(), "b"))
	_, err = s.Get(t.Context(), "b")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestKvStore_Sessions(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	sessions := gateway.NewKVSessionStore(NewKvStore(newTestClient(t), ""), "session", time.Minute)

	sess, err := sessions.Load(t.Context(), 0)
	require.NoError(t, err)
	require.Nil(t, sess)

	require.NoError(t, sessions.Save(t.Context(), 0, gateway.Session{ID: "abc", Sequence: 7, ResumeURL: "wss://resume"}))
	sess, err = sessions.Load(t.Context(), 0)
	require.NoError(t, err)
	require.Equal(t, "abc", sess.ID)
	require.Equal(t, int64(7), sess.Sequence)
}
