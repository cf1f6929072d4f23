// Package nats connects shardgate to NATS: a JetStream key-value store for
// gateway sessions and a publisher that forwards dispatch events to
// subjects.
package nats

import (
	"log/slog"
	"os"
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

type closeFunc = func()

// Connector opens a connection. The returned close func releases it.
type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

// ReuseConnection shares one connection between all callers of the returned
// Connector. The connection closes when the last lease is released.
func ReuseConnection(connect Connector) Connector {
	var (
		mu       sync.Mutex
		nc       *natsgo.Conn
		closeCon closeFunc
		leased   int
	)
	release := func() {
		mu.Lock()
		defer mu.Unlock()
		leased--
		if leased == 0 && nc != nil {
			closeCon()
			nc = nil
		}
	}
	return func() (*natsgo.Conn, closeFunc, error) {
		mu.Lock()
		defer mu.Unlock()
		if nc == nil {
			c, cl, err := connect()
			if err != nil {
				return nil, nil, err
			}
			nc, closeCon = c, cl
		}
		leased++
		var once sync.Once
		return nc, func() { once.Do(release) }, nil
	}
}

type ConnectOptions struct {
	URL string
	// Name shows up in the server's connection list.
	Name string
	Log  *slog.Logger
}

func Connect(opts ConnectOptions) Connector {
	if opts.URL == "" {
		opts.URL = natsgo.DefaultURL
	}
	if opts.Name == "" {
		opts.Name = "shardgate"
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "nats"))

	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(
			opts.URL,
			natsgo.Name(opts.Name),
			natsgo.MaxReconnects(-1),
			natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
				if err != nil {
					log.Warn("disconnected", slog.Any("error", err))
				}
			}),
			natsgo.ReconnectHandler(func(c *natsgo.Conn) {
				log.Info("reconnected", slog.String("url", c.ConnectedUrlRedacted()))
			}),
		)
		if err != nil {
			return nil, nil, err
		}
		return nc, func() { nc.Close() }, nil
	}
}

// ConnectDefault connects to $NATS_URL, or the local default server.
func ConnectDefault() Connector {
	return Connect(ConnectOptions{URL: os.Getenv("NATS_URL")})
}
