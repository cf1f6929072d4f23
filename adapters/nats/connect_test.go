package nats

import (
	"testing"

	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReuseConnection_Leases(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}

	connect := ReuseConnection(StartTestServer(t).Connector("lease-test"))

	first, releaseFirst, err := connect()
	require.NoError(t, err)
	assert.Equal(t, natsgo.CONNECTED, first.Status())

	second, releaseSecond, err := connect()
	require.NoError(t, err)
	assert.Same(t, first, second, "leases share one connection")

	// a lease releases once, however often it is called
	releaseFirst()
	releaseFirst()
	assert.Equal(t, natsgo.CONNECTED, first.Status())

	releaseSecond()
	assert.Equal(t, natsgo.CLOSED, first.Status())

	// the next lease dials again
	third, releaseThird, err := connect()
	require.NoError(t, err)
	defer releaseThird()
	assert.NotSame(t, first, third)
	assert.Equal(t, natsgo.CONNECTED, third.Status())
}

func TestReuseConnection_DialError(t *testing.T) {
	connect := ReuseConnection(Connect(ConnectOptions{URL: "nats://127.0.0.1:1"}))
	nc, release, err := connect()
	require.Error(t, err)
	assert.Nil(t, nc)
	assert.Nil(t, release)
}
