package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradiehub/internal/participant"
)

func recv(t *testing.T, c *Client) (MessageEvent, bool) {
	t.Helper()
	select {
	case b, ok := <-c.Send:
		if !ok {
			return MessageEvent{}, false
		}
		var ev MessageEvent
		require.NoError(t, json.Unmarshal(b, &ev))
		return ev, true
	case <-time.After(100 * time.Millisecond):
		return MessageEvent{}, false
	}
}

func TestHub_RoutesToSenderAndReceiver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	go hub.Run(ctx)

	h := &Client{Send: make(chan []byte, 4), Participant: homeowner}
	tr := &Client{Send: make(chan []byte, 4), Participant: tradie}
	other := &Client{Send: make(chan []byte, 4), Participant: participant.NewTradie(99)}
	for _, c := range []*Client{h, tr, other} {
		require.True(t, hub.join(c))
	}

	msg := &Message{ThreadID: ThreadID(homeowner, tradie), MessageID: "1", Sender: homeowner, Receiver: tradie, Content: "hello"}
	require.NoError(t, hub.PublishMessage(ctx, msg))

	for _, c := range []*Client{h, tr} {
		ev, ok := recv(t, c)
		require.True(t, ok, "participant %s", c.Participant)
		assert.Equal(t, EventMessage, ev.Type)
		assert.Equal(t, "hello", ev.Message.Content)
	}
	_, ok := recv(t, other)
	assert.False(t, ok)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	go hub.Run(ctx)

	c := &Client{Send: make(chan []byte, 1), Participant: tradie}
	require.True(t, hub.join(c))
	hub.leave(c)

	select {
	case _, ok := <-c.Send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
	// A second leave is a no-op.
	hub.leave(c)
}

func TestHub_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	go hub.Run(ctx)

	c := &Client{Send: make(chan []byte, 1), Participant: tradie}
	require.True(t, hub.join(c))
	cancel()

	select {
	case <-hub.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	assert.False(t, hub.join(&Client{Send: make(chan []byte), Participant: homeowner}))
	assert.NoError(t, hub.PublishMessage(context.Background(), &Message{Sender: homeowner, Receiver: tradie}))
}
