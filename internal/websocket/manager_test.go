package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextMessage(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case b := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(b, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message queued")
		return Message{}
	}
}

func TestRegisterEnforcesSessionLimit(t *testing.T) {
	m := NewManager(Options{MaxConnPerSession: 1})

	require.NoError(t, m.Register(NewClient("a", "s1", "", nil, m)))
	err := m.Register(NewClient("b", "s1", "", nil, m))
	assert.ErrorIs(t, err, ErrTooManyConnections)

	// Change feed clients carry no session and are not limited.
	require.NoError(t, m.Register(NewClient("c", "", "", nil, m)))
	require.NoError(t, m.Register(NewClient("d", "", "", nil, m)))

	assert.Equal(t, 3, m.Count())
	assert.Equal(t, 1, m.SessionConnections("s1"))
}

func TestBroadcastToSession(t *testing.T) {
	m := NewManager(Options{})
	a := NewClient("a", "s1", "", nil, m)
	b := NewClient("b", "s1", "Front Desk", nil, m)
	other := NewClient("c", "s2", "", nil, m)
	for _, c := range []*Client{a, b, other} {
		require.NoError(t, m.Register(c))
	}

	require.NoError(t, m.BroadcastToSession("s1", TypeSessionClosed, SessionClosedPayload{SessionID: "s1"}))

	for _, c := range []*Client{a, b} {
		msg := nextMessage(t, c)
		assert.Equal(t, TypeSessionClosed, msg.Type)
		var p SessionClosedPayload
		require.NoError(t, msg.UnmarshalPayload(&p))
		assert.Equal(t, "s1", p.SessionID)
	}
	assert.Empty(t, other.send)
}

func TestRemoveRunsCloseHooks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(Options{})
	go m.Run(ctx)

	c := NewClient("a", "s1", "", nil, m)
	require.NoError(t, m.Register(c))
	closed := make(chan struct{})
	c.OnClose(func() { close(closed) })

	m.Remove(c)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close hook did not run")
	}
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 0, m.SessionConnections("s1"))
	assert.False(t, c.Enqueue([]byte("late")))

	// Removing twice is harmless.
	m.Remove(c)
}

func TestRunClosesClientsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(Options{})
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	c := NewClient("a", "s1", "", nil, m)
	require.NoError(t, m.Register(c))

	cancel()
	<-done

	assert.False(t, c.Enqueue([]byte("late")))
	assert.Error(t, m.Register(NewClient("b", "s1", "", nil, m)))
	m.Remove(c)
}

type recordingHandler struct {
	got []MessageType
	err error
}

func (h *recordingHandler) HandleWebSocketMessage(client *Client, msg *Message) error {
	h.got = append(h.got, msg.Type)
	return h.err
}

func TestProcessMessage(t *testing.T) {
	m := NewManager(Options{})
	h := &recordingHandler{}
	m.SetMessageHandler(h)
	c := NewClient("a", "s1", "", nil, m)

	m.processMessage(c, []byte(`{"type":"ping"}`))
	assert.Equal(t, TypePong, nextMessage(t, c).Type)
	assert.Empty(t, h.got)

	m.processMessage(c, []byte(`{not json`))
	assert.Equal(t, TypeError, nextMessage(t, c).Type)

	m.processMessage(c, []byte(`{"type":"send","payload":{"message":"hi"}}`))
	assert.Equal(t, []MessageType{TypeSend}, h.got)
	assert.Empty(t, c.send)

	h.err = errors.New("no chat stream")
	m.processMessage(c, []byte(`{"type":"mark_read"}`))
	msg := nextMessage(t, c)
	assert.Equal(t, TypeError, msg.Type)
	var p ErrorPayload
	require.NoError(t, msg.UnmarshalPayload(&p))
	assert.Equal(t, "no chat stream", p.Error)
}
