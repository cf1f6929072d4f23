package nats

import (
	"encoding/json"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardgate/core/events"
	"github.com/codewandler/shardgate/core/model"
)

func TestPublisher_Subject(t *testing.T) {
	p := &EventPublisher{prefix: "gw"}
	assert.Equal(t, "gw.shard.3.GUILD_CREATE", p.Subject(3, model.EventGuildCreate))
}

func TestDecodeMsg(t *testing.T) {
	msg := natsgo.NewMsg("gw.shard.1.MESSAGE_CREATE")
	_, err := decodeMsg(msg)
	require.Error(t, err)

	msg.Header.Set(HeaderShard, "1")
	msg.Header.Set(HeaderSeq, "9")
	msg.Header.Set(HeaderEvent, "MESSAGE_CREATE")
	msg.Data = []byte(`{"id":"1"}`)
	e, err := decodeMsg(msg)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Shard)
	assert.Equal(t, int64(9), e.Seq)
	assert.Equal(t, model.EventMessageCreate, e.Name)
}

func TestPublisher_ForwardsBusEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	connect := ReuseConnection(StartTestServer(t).Connector("publisher-test"))

	p, err := NewEventPublisher(PublisherOptions{
		Connect: connect,
		Prefix:  "test",
		Events:  []model.EventName{model.EventMessageCreate},
	})
	require.NoError(t, err)

	nc, release, err := connect()
	require.NoError(t, err)
	defer release()

	got := make(chan model.DispatchEvent, 4)
	sub, err := SubscribeEvents(nc, "test", func(e model.DispatchEvent) { got <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	bus := events.New(events.Options{})
	detach := p.Attach(bus)
	defer detach()

	data, _ := json.Marshal(model.Message{ID: 5, ChannelID: 6, Content: "hi"})
	at := time.Now().UTC()
	bus.Dispatch(t.Context(), model.DispatchEvent{Shard: 2, Seq: 7, Name: "TYPING_START", Data: []byte(`{}`), ReceivedAt: at})
	bus.Dispatch(t.Context(), model.DispatchEvent{Shard: 2, Seq: 8, Name: model.EventMessageCreate, Data: data, ReceivedAt: at})
	bus.Close()
	require.NoError(t, p.Close())

	select {
	case e := <-got:
		assert.Equal(t, model.EventMessageCreate, e.Name, "filtered events are not forwarded")
		assert.Equal(t, 2, e.Shard)
		assert.Equal(t, int64(8), e.Seq)
		assert.True(t, at.Equal(e.ReceivedAt))
		assert.JSONEq(t, string(data), string(e.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("event not forwarded")
	}
}
