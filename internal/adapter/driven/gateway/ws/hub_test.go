package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringlink/ringlink/internal/core/domain"
	"github.com/ringlink/ringlink/wire"
)

type fakeClient struct {
	id domain.ConnID

	mu     sync.Mutex
	sent   []wire.Envelope
	closed bool
}

func (c *fakeClient) ID() domain.ConnID { return c.id }

func (c *fakeClient) Send(env wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) sentEvents() []wire.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Event, 0, len(c.sent))
	for _, env := range c.sent {
		out = append(out, env.Event)
	}
	return out
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub := startHub(t)

	a := &fakeClient{id: "conn-a"}
	b := &fakeClient{id: "conn-b"}
	hub.Register(a)
	hub.Register(b)

	entries := []domain.OnlineEntry{{UserID: "alice", ConnID: "conn-a"}}
	require.NoError(t, hub.BroadcastOnlineUsers(context.Background(), entries))

	require.Eventually(t, func() bool {
		return len(a.sentEvents()) == 1 && len(b.sentEvents()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, wire.EventGetUsers, a.sentEvents()[0])
	assert.Equal(t, wire.EventGetUsers, b.sentEvents()[0])
}

func TestTargetedSendsReachOnlyTarget(t *testing.T) {
	hub := startHub(t)

	a := &fakeClient{id: "conn-a"}
	b := &fakeClient{id: "conn-b"}
	hub.Register(a)
	hub.Register(b)

	ctx := context.Background()

	// Wait for both registrations to land before sending targeted events.
	require.NoError(t, hub.BroadcastOnlineUsers(ctx, nil))
	require.Eventually(t, func() bool {
		return len(a.sentEvents()) == 1 && len(b.sentEvents()) == 1
	}, time.Second, 5*time.Millisecond)

	participants := domain.Participants{
		Caller:   domain.OnlineEntry{UserID: "alice", ConnID: "conn-a"},
		Receiver: domain.OnlineEntry{UserID: "bob", ConnID: "conn-b"},
	}
	require.NoError(t, hub.SendIncomingCall(ctx, "conn-b", participants))
	require.NoError(t, hub.SendCallFailed(ctx, "conn-a", wire.ReasonParticipantUnavailable))

	assert.Equal(t, []wire.Event{wire.EventGetUsers, wire.EventIncomingCall}, b.sentEvents())
	assert.Equal(t, []wire.Event{wire.EventGetUsers, wire.EventCallFailed}, a.sentEvents())
}

func TestSendToMissingConnectionIsNoop(t *testing.T) {
	hub := startHub(t)

	err := hub.SendCallFailed(context.Background(), "never-registered", wire.ReasonNotRegistered)
	assert.NoError(t, err)
}

func TestUnregisterClosesClient(t *testing.T) {
	hub := startHub(t)

	a := &fakeClient{id: "conn-a"}
	hub.Register(a)
	hub.Unregister(a)

	require.Eventually(t, a.isClosed, time.Second, 5*time.Millisecond)

	// Sends after unregister go nowhere.
	require.NoError(t, hub.SendCallFailed(context.Background(), "conn-a", wire.ReasonNotRegistered))
	assert.Empty(t, a.sentEvents())
}
