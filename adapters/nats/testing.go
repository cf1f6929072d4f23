package nats

import (
	"context"
	"os"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Cleanup(func())
}

// TestServer is a JetStream enabled NATS server owned by one test.
type TestServer struct {
	URL string
}

// StartTestServer uses the server at SHARDGATE_TEST_NATS_URL when set and
// otherwise runs a nats container until the test ends.
func StartTestServer(t Testing) *TestServer {
	if u := os.Getenv("SHARDGATE_TEST_NATS_URL"); u != "" {
		return &TestServer{URL: u}
	}

	ctx := t.Context()
	const port = "4222/tcp"
	c, err := testcontainers.Run(ctx, "nats:2.11",
		testcontainers.WithCmd("-js", "--server_name", "shardgate-test"),
		testcontainers.WithExposedPorts(port),
		testcontainers.WithWaitStrategy(wait.ForAll(
			wait.ForListeningPort(port),
			wait.ForLog("Server is ready"),
		)),
	)
	require.NoError(t, err, "start nats container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Errorf("terminate nats container: %v", err)
		}
	})

	u, err := c.PortEndpoint(ctx, port, "nats")
	require.NoError(t, err)
	t.Logf("nats test server at %s", u)
	return &TestServer{URL: u}
}

// Connector dials the server under the given connection name.
func (s *TestServer) Connector(name string) Connector {
	return Connect(ConnectOptions{URL: s.URL, Name: name})
}
