package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringlink/ringlink/internal/adapter/driven/call/memory"
	"github.com/ringlink/ringlink/internal/adapter/driven/gateway/ws"
	"github.com/ringlink/ringlink/internal/config"
	"github.com/ringlink/ringlink/internal/core/service"
	"github.com/ringlink/ringlink/internal/metrics"
	"github.com/ringlink/ringlink/wire"
)

const recvTimeout = 2 * time.Second

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	cfg.RingTimeout = 0
	cfg.StaticDir = t.TempDir()

	stats := metrics.New()
	hub := ws.NewHub()
	presence := service.NewPresenceService(hub, stats)
	calls := service.NewCallService(memory.NewCallTable(), presence, hub, stats, cfg.RingTimeout)
	handler := NewHandler(presence, calls, hub, stats, cfg)

	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(handler.NewRouter())
	t.Cleanup(srv.Close)
	return srv
}

type wsConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, srv *httptest.Server) *wsConn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsConn{t: t, conn: conn}
}

func (c *wsConn) send(event wire.Event, data any) {
	c.t.Helper()

	env, err := wire.NewEnvelope(event, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(env))
}

func (c *wsConn) register(user string) {
	c.t.Helper()
	c.send(wire.EventAddNewUser, wire.AddNewUserData{
		User: &wire.Profile{ID: user, Name: user},
	})
}

// expect reads frames until one carries the wanted event, skipping anything
// else (interleaved online-set broadcasts in particular).
func (c *wsConn) expect(event wire.Event) wire.Envelope {
	c.t.Helper()

	deadline := time.Now().Add(recvTimeout)
	for {
		c.conn.SetReadDeadline(deadline)
		_, raw, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", event)

		env, err := wire.ParseEnvelope(raw)
		require.NoError(c.t, err)
		if env.Event == event {
			return env
		}
	}
}

// expectOnline reads online-set broadcasts until one with n entries arrives.
func (c *wsConn) expectOnline(n int) []wire.OnlineEntry {
	c.t.Helper()

	deadline := time.Now().Add(recvTimeout)
	for {
		c.conn.SetReadDeadline(deadline)
		_, raw, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for online set of %d", n)

		env, err := wire.ParseEnvelope(raw)
		require.NoError(c.t, err)
		if env.Event != wire.EventGetUsers {
			continue
		}
		var users wire.GetUsersData
		require.NoError(c.t, wire.DecodeData(env, &users))
		if len(users) == n {
			return users
		}
	}
}

func findEntry(t *testing.T, entries []wire.OnlineEntry, user string) wire.OnlineEntry {
	t.Helper()
	for _, e := range entries {
		if e.UserID == user {
			return e
		}
	}
	t.Fatalf("user %s not in online set %+v", user, entries)
	return wire.OnlineEntry{}
}

func TestRegistrationBroadcastsOnlineSet(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv)
	alice.register("alice")
	alice.expectOnline(1)

	bob := dialWS(t, srv)
	bob.register("bob")

	// Both connections see the full set.
	entries := alice.expectOnline(2)
	bob.expectOnline(2)

	entry := findEntry(t, entries, "alice")
	assert.Equal(t, "alice", entry.Profile.Name)
	assert.NotEmpty(t, entry.ConnID)
}

func TestCallSignalHangupFlow(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv)
	alice.register("alice")
	bob := dialWS(t, srv)
	bob.register("bob")

	entries := alice.expectOnline(2)
	bob.expectOnline(2)
	participants := wire.Participants{
		Caller:   findEntry(t, entries, "alice"),
		Receiver: findEntry(t, entries, "bob"),
	}

	alice.send(wire.EventCall, wire.CallData{Participants: participants})

	env := bob.expect(wire.EventIncomingCall)
	var incoming wire.IncomingCallData
	require.NoError(t, wire.DecodeData(env, &incoming))
	assert.Equal(t, "alice", incoming.Participants.Caller.UserID)

	// Bob accepts: his offer is relayed to Alice untouched.
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	bob.send(wire.EventWebRTCSignal, wire.WebRTCSignalData{
		SDP:          offer,
		Participants: incoming.Participants,
		IsCaller:     false,
	})

	env = alice.expect(wire.EventWebRTCSignal)
	var signal wire.WebRTCSignalData
	require.NoError(t, wire.DecodeData(env, &signal))
	assert.JSONEq(t, string(offer), string(signal.SDP))
	assert.False(t, signal.IsCaller)

	// Alice answers back.
	alice.send(wire.EventWebRTCSignal, wire.WebRTCSignalData{
		SDP:          json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
		Participants: participants,
		IsCaller:     true,
	})
	env = bob.expect(wire.EventWebRTCSignal)
	require.NoError(t, wire.DecodeData(env, &signal))
	assert.True(t, signal.IsCaller)

	// Alice hangs up; Bob gets exactly one notice naming her.
	alice.send(wire.EventHangup, wire.HangupData{
		Participants:    participants,
		UserHangingUpID: "alice",
	})
	env = bob.expect(wire.EventHangup)
	var hangup wire.HangupData
	require.NoError(t, wire.DecodeData(env, &hangup))
	assert.Equal(t, "alice", hangup.UserHangingUpID)
}

func TestCallOfflineUserFails(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv)
	alice.register("alice")
	entries := alice.expectOnline(1)

	alice.send(wire.EventCall, wire.CallData{Participants: wire.Participants{
		Caller:   findEntry(t, entries, "alice"),
		Receiver: wire.OnlineEntry{UserID: "ghost", ConnID: "gone"},
	}})

	env := alice.expect(wire.EventCallFailed)
	var failed wire.CallFailedData
	require.NoError(t, wire.DecodeData(env, &failed))
	assert.Equal(t, wire.ReasonParticipantUnavailable, failed.Reason)
}

func TestCallBeforeRegistrationFails(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	conn.send(wire.EventCall, wire.CallData{Participants: wire.Participants{
		Caller:   wire.OnlineEntry{UserID: "a"},
		Receiver: wire.OnlineEntry{UserID: "b"},
	}})

	env := conn.expect(wire.EventCallFailed)
	var failed wire.CallFailedData
	require.NoError(t, wire.DecodeData(env, &failed))
	assert.Equal(t, wire.ReasonNotRegistered, failed.Reason)
}

func TestSpoofedCallerRejected(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv)
	alice.register("alice")
	bob := dialWS(t, srv)
	bob.register("bob")

	entries := alice.expectOnline(2)
	bob.expectOnline(2)

	// Alice's connection claims Bob is the caller.
	alice.send(wire.EventCall, wire.CallData{Participants: wire.Participants{
		Caller:   findEntry(t, entries, "bob"),
		Receiver: findEntry(t, entries, "alice"),
	}})

	env := alice.expect(wire.EventCallFailed)
	var failed wire.CallFailedData
	require.NoError(t, wire.DecodeData(env, &failed))
	assert.Equal(t, wire.ReasonIdentityMismatch, failed.Reason)
}

func TestBusyCallerRejected(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv)
	alice.register("alice")
	bob := dialWS(t, srv)
	bob.register("bob")
	carol := dialWS(t, srv)
	carol.register("carol")

	entries := alice.expectOnline(3)
	bob.expectOnline(3)
	carol.expectOnline(3)

	alice.send(wire.EventCall, wire.CallData{Participants: wire.Participants{
		Caller:   findEntry(t, entries, "alice"),
		Receiver: findEntry(t, entries, "bob"),
	}})
	bob.expect(wire.EventIncomingCall)

	carol.send(wire.EventCall, wire.CallData{Participants: wire.Participants{
		Caller:   findEntry(t, entries, "carol"),
		Receiver: findEntry(t, entries, "bob"),
	}})

	env := carol.expect(wire.EventCallFailed)
	var failed wire.CallFailedData
	require.NoError(t, wire.DecodeData(env, &failed))
	assert.Equal(t, wire.ReasonCallAlreadyActive, failed.Reason)
}

func TestDisconnectMidCallNotifiesPeer(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv)
	alice.register("alice")
	bob := dialWS(t, srv)
	bob.register("bob")

	entries := alice.expectOnline(2)
	bob.expectOnline(2)
	participants := wire.Participants{
		Caller:   findEntry(t, entries, "alice"),
		Receiver: findEntry(t, entries, "bob"),
	}

	alice.send(wire.EventCall, wire.CallData{Participants: participants})
	env := bob.expect(wire.EventIncomingCall)
	var incoming wire.IncomingCallData
	require.NoError(t, wire.DecodeData(env, &incoming))

	// Alice's connection drops mid-call.
	alice.conn.Close()

	env = bob.expect(wire.EventHangup)
	var hangup wire.HangupData
	require.NoError(t, wire.DecodeData(env, &hangup))
	assert.Equal(t, "alice", hangup.UserHangingUpID)

	// Alice also leaves the online set.
	bob.expectOnline(1)
}

func TestMalformedMessageClosesConnection(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	require.NoError(t, conn.conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	conn.conn.SetReadDeadline(time.Now().Add(recvTimeout))
	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData) ||
				strings.Contains(err.Error(), "close"), "got %v", err)
			return
		}
	}
}

func TestMessageFloodClosesConnection(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	for i := 0; i < 200; i++ {
		if err := conn.conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"noop"}`)); err != nil {
			break
		}
	}

	conn.conn.SetReadDeadline(time.Now().Add(recvTimeout))
	_, _, err := conn.conn.ReadMessage()
	assert.Error(t, err)
}

func TestUnknownEventIgnored(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	conn.send(wire.Event("teleport"), map[string]string{"to": "mars"})

	// The connection survives and still works.
	conn.register("alice")
	conn.expectOnline(1)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	conn := dialWS(t, srv)
	conn.register("alice")
	conn.expectOnline(1)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), metrics.ConnectionsOpened+" 1")
	assert.Contains(t, string(body), metrics.UsersRegistered+" 1")
}
