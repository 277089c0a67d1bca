package natsx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMode(t *testing.T) {
	assert.Equal(t, JetStream, ParseMode("JetStream"))
	assert.Equal(t, JetStream, ParseMode(" js "))
	assert.Equal(t, Core, ParseMode("core"))
	assert.Equal(t, Core, ParseMode(""))
}

func TestNewClient_RequiresServers(t *testing.T) {
	_, err := NewNatsxClient(NatsxConfig{})
	assert.Error(t, err)
}

func TestRoutes(t *testing.T) {
	c := &NatsxClient{routes: map[string]NatsxRoute{}}
	assert.Error(t, c.RegisterRoute(NatsxRoute{Biz: "x"}))
	assert.NoError(t, c.RegisterRoute(NatsxRoute{Biz: "research", Subject: "research.events", Mode: Core}))

	r, ok := c.route("research")
	assert.True(t, ok)
	assert.Equal(t, "research.events", r.Subject)

	err := NewNatsxProducer(c).Publish(context.Background(), "unknown", nil, nil)
	assert.Error(t, err)
}

func TestNewMsgHeaders(t *testing.T) {
	m := newMsg("s", []byte("d"), map[string]string{"Nats-Msg-Id": "abc"})
	assert.Equal(t, "abc", m.Header.Get("Nats-Msg-Id"))
	assert.Equal(t, []byte("d"), m.Data)
}
