package nats

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/shardgate/core/events"
	"github.com/codewandler/shardgate/core/model"
)

const (
	HeaderShard      = "Shardgate-Shard"
	HeaderSeq        = "Shardgate-Seq"
	HeaderEvent      = "Shardgate-Event"
	HeaderReceivedAt = "Shardgate-Received-At"
)

type PublisherOptions struct {
	Connect Connector
	// Prefix is the first subject token (default: "shardgate").
	Prefix string
	// Events limits forwarding to these names. Empty forwards everything.
	Events []model.EventName
	Log    *slog.Logger
}

// EventPublisher forwards dispatch events to <prefix>.shard.<id>.<EVENT>.
type EventPublisher struct {
	nc     *natsgo.Conn
	close  closeFunc
	prefix string
	only   map[model.EventName]struct{}
	log    *slog.Logger
}

func NewEventPublisher(opts PublisherOptions) (*EventPublisher, error) {
	if opts.Prefix == "" {
		opts.Prefix = "shardgate"
	}
	if opts.Connect == nil {
		opts.Connect = ConnectDefault()
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	nc, closeConn, err := opts.Connect()
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	p := &EventPublisher{
		nc:     nc,
		close:  closeConn,
		prefix: opts.Prefix,
		log:    log.With(slog.String("component", "nats_publisher")),
	}
	if len(opts.Events) > 0 {
		p.only = make(map[model.EventName]struct{}, len(opts.Events))
		for _, name := range opts.Events {
			p.only[name] = struct{}{}
		}
	}
	return p, nil
}

func (p *EventPublisher) Subject(shard int, name model.EventName) string {
	return fmt.Sprintf("%s.shard.%d.%s", p.prefix, shard, name)
}

// Publish sends e unless it is filtered out.
func (p *EventPublisher) Publish(e model.DispatchEvent) error {
	if p.only != nil {
		if _, ok := p.only[e.Name]; !ok {
			return nil
		}
	}
	msg := natsgo.NewMsg(p.Subject(e.Shard, e.Name))
	msg.Data = e.Data
	msg.Header.Set(HeaderShard, strconv.Itoa(e.Shard))
	msg.Header.Set(HeaderSeq, strconv.FormatInt(e.Seq, 10))
	msg.Header.Set(HeaderEvent, string(e.Name))
	msg.Header.Set(HeaderReceivedAt, e.ReceivedAt.UTC().Format(time.RFC3339Nano))
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Attach forwards the bus's dispatch events until the returned func is
// called.
func (p *EventPublisher) Attach(bus *events.Bus) (detach func()) {
	return events.On(bus, func(e events.Dispatch) {
		if err := p.Publish(e.DispatchEvent); err != nil {
			p.log.Warn("forward failed",
				slog.Int("shard", e.Shard),
				slog.String("event", string(e.Name)),
				slog.Any("error", err),
			)
		}
	})
}

// Close flushes pending messages and releases the connection.
func (p *EventPublisher) Close() error {
	err := p.nc.Flush()
	p.close()
	return err
}

// SubscribeEvents delivers events forwarded by an EventPublisher with the
// given prefix.
func SubscribeEvents(nc *natsgo.Conn, prefix string, fn func(model.DispatchEvent)) (*natsgo.Subscription, error) {
	if prefix == "" {
		prefix = "shardgate"
	}
	return nc.Subscribe(prefix+".shard.*.*", func(msg *natsgo.Msg) {
		e, err := decodeMsg(msg)
		if err != nil {
			slog.Default().Warn("invalid forwarded event", slog.String("subject", msg.Subject), slog.Any("error", err))
			return
		}
		fn(e)
	})
}

func decodeMsg(msg *natsgo.Msg) (model.DispatchEvent, error) {
	if msg.Header == nil {
		return model.DispatchEvent{}, errors.New("missing headers")
	}
	shard, err := strconv.Atoi(msg.Header.Get(HeaderShard))
	if err != nil {
		return model.DispatchEvent{}, fmt.Errorf("shard header: %w", err)
	}
	seq, err := strconv.ParseInt(msg.Header.Get(HeaderSeq), 10, 64)
	if err != nil {
		return model.DispatchEvent{}, fmt.Errorf("seq header: %w", err)
	}
	at, _ := time.Parse(time.RFC3339Nano, msg.Header.Get(HeaderReceivedAt))
	return model.DispatchEvent{
		Shard:      shard,
		Seq:        seq,
		Name:       model.EventName(msg.Header.Get(HeaderEvent)),
		Data:       msg.Data,
		ReceivedAt: at,
	}, nil
}
