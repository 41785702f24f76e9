// Package client is the calling side of the signaling protocol: it connects
// to the server, registers an identity, tracks the online set, and drives
// two-party calls through real WebRTC negotiation.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/ringlink/ringlink/wire"
)

var (
	ErrNotConnected  = errors.New("client is not connected")
	ErrNotRegistered = errors.New("identity not registered yet")
	ErrBusy          = errors.New("another call is active")
	ErrNoRingingCall = errors.New("no ringing incoming call")
	ErrUserOffline   = errors.New("user is not online")
)

// Reasons passed to OnCallEnded. Presentation timing (such as how long to
// display an "ended" banner) belongs to the application, not this package.
const (
	EndReasonLocalHangup = "local_hangup"
	EndReasonPeerHangup  = "peer_hangup"
	EndReasonMediaLost   = "media_lost"
	EndReasonDisconnect  = "disconnect"
)

var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// Handlers are the event callbacks an application may register. All callbacks
// run on the client's read loop; do not block in them.
type Handlers struct {
	OnOnlineUsers  func([]wire.OnlineEntry)
	OnIncomingCall func(wire.Participants)
	OnCallEnded    func(reason string)
	OnCallFailed   func(reason string)
	OnRemoteTrack  func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

type Option func(*Client)

// WithMediaProvider sets the local media acquisition hook. The provider is
// invoked once per call attempt; its source is released on hangup.
func WithMediaProvider(p MediaProvider) Option {
	return func(c *Client) { c.mediaProvider = p }
}

func WithICEServers(servers []webrtc.ICEServer) Option {
	return func(c *Client) { c.iceServers = servers }
}

func WithHandlers(h Handlers) Option {
	return func(c *Client) { c.handlers = h }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client is one signaling session: a WebSocket connection bound to one
// identity and at most one active call.
type Client struct {
	url     string
	profile wire.Profile

	handlers      Handlers
	mediaProvider MediaProvider
	iceServers    []webrtc.ICEServer
	newPeer       peerFactory
	log           zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	online []wire.OnlineEntry
	call   *activeCall

	done chan struct{}
}

type activeCall struct {
	participants wire.Participants
	isCaller     bool
	ringing      bool
	peer         peer
	media        MediaSource
}

func New(url string, profile wire.Profile, opts ...Option) *Client {
	c := &Client{
		url:           url,
		profile:       profile,
		mediaProvider: func() (MediaSource, error) { return NoMedia(), nil },
		iceServers:    defaultICEServers,
		newPeer:       newPionPeer,
		log:           zerolog.Nop(),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to the server, registers the identity, and starts the read
// loop.
func (c *Client) Dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn

	go c.readLoop()

	return c.sendEnvelope(wire.EventAddNewUser, wire.AddNewUserData{User: &c.profile})
}

// Done is closed when the read loop stops (connection lost or Close called).
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// OnlineUsers returns the last broadcast online set.
func (c *Client) OnlineUsers() []wire.OnlineEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.OnlineEntry, len(c.online))
	copy(out, c.online)
	return out
}

func (c *Client) selfEntryLocked() (wire.OnlineEntry, bool) {
	return c.lookupLocked(c.profile.ID)
}

func (c *Client) lookupLocked(userID string) (wire.OnlineEntry, bool) {
	for _, entry := range c.online {
		if entry.UserID == userID {
			return entry, true
		}
	}
	return wire.OnlineEntry{}, false
}

// Call rings another online user. Local media is acquired first: if that
// fails, no call state is created at all.
func (c *Client) Call(userID string) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	c.mu.Lock()
	if c.call != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	self, ok := c.selfEntryLocked()
	if !ok {
		c.mu.Unlock()
		return ErrNotRegistered
	}
	target, ok := c.lookupLocked(userID)
	if !ok {
		c.mu.Unlock()
		return ErrUserOffline
	}
	c.mu.Unlock()

	media, err := c.mediaProvider()
	if err != nil {
		return errors.Join(ErrMediaAcquisitionFailed, err)
	}

	participants := wire.Participants{Caller: self, Receiver: target}

	c.mu.Lock()
	if c.call != nil {
		c.mu.Unlock()
		media.Close()
		return ErrBusy
	}
	c.call = &activeCall{
		participants: participants,
		isCaller:     true,
		media:        media,
	}
	c.mu.Unlock()

	if err := c.sendEnvelope(wire.EventCall, wire.CallData{Participants: participants}); err != nil {
		c.teardown(false, "")
		return err
	}
	c.log.Info().Str("receiver", userID).Msg("Calling")
	return nil
}

// Accept answers the ringing incoming call. The accepting side is the
// negotiation initiator: it acquires media, creates the peer, and starts
// emitting negotiation payloads.
func (c *Client) Accept() error {
	c.mu.Lock()
	call := c.call
	if call == nil || call.isCaller || !call.ringing {
		c.mu.Unlock()
		return ErrNoRingingCall
	}
	c.mu.Unlock()

	media, err := c.mediaProvider()
	if err != nil {
		// The call keeps ringing; the application decides whether to
		// retry or hang up.
		return errors.Join(ErrMediaAcquisitionFailed, err)
	}

	p, err := c.newPeer(c.peerConfig(call.participants, false, true, media))
	if err != nil {
		media.Close()
		return err
	}

	c.mu.Lock()
	if c.call != call {
		c.mu.Unlock()
		p.Close()
		media.Close()
		return ErrNoRingingCall
	}
	call.ringing = false
	call.peer = p
	call.media = media
	c.mu.Unlock()

	c.log.Info().Str("caller", call.participants.Caller.UserID).Msg("Call accepted")
	return nil
}

// HangUp ends the active call and notifies the peer. Idempotent.
func (c *Client) HangUp() error {
	return c.teardown(true, EndReasonLocalHangup)
}

// Close hangs up any active call and closes the connection.
func (c *Client) Close() error {
	_ = c.teardown(true, EndReasonLocalHangup)
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) peerConfig(participants wire.Participants, isCaller, initiator bool, media MediaSource) peerConfig {
	return peerConfig{
		iceServers: c.iceServers,
		initiator:  initiator,
		media:      media,
		send: func(payload json.RawMessage) error {
			return c.sendEnvelope(wire.EventWebRTCSignal, wire.WebRTCSignalData{
				SDP:          payload,
				Participants: participants,
				IsCaller:     isCaller,
			})
		},
		onDisconnect: func() {
			_ = c.teardown(false, EndReasonMediaLost)
		},
		onTrack: c.handlers.OnRemoteTrack,
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.teardownOnTransportLoss()
			return
		}

		env, err := wire.ParseEnvelope(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("Malformed frame from server")
			continue
		}
		c.handleEvent(env)
	}
}

func (c *Client) handleEvent(env wire.Envelope) {
	switch env.Event {
	case wire.EventGetUsers:
		var users wire.GetUsersData
		if err := wire.DecodeData(env, &users); err != nil {
			c.log.Warn().Err(err).Msg("Malformed online set")
			return
		}
		c.mu.Lock()
		c.online = users
		c.mu.Unlock()
		if c.handlers.OnOnlineUsers != nil {
			c.handlers.OnOnlineUsers(users)
		}

	case wire.EventIncomingCall:
		var data wire.IncomingCallData
		if err := wire.DecodeData(env, &data); err != nil {
			c.log.Warn().Err(err).Msg("Malformed incoming call")
			return
		}
		c.mu.Lock()
		if c.call != nil {
			// Single active call per session; the server-side guard
			// should prevent this.
			c.mu.Unlock()
			c.log.Warn().Msg("Incoming call while busy, ignoring")
			return
		}
		c.call = &activeCall{
			participants: data.Participants,
			isCaller:     false,
			ringing:      true,
		}
		c.mu.Unlock()
		c.log.Info().Str("caller", data.Participants.Caller.UserID).Msg("Incoming call")
		if c.handlers.OnIncomingCall != nil {
			c.handlers.OnIncomingCall(data.Participants)
		}

	case wire.EventWebRTCSignal:
		var data wire.WebRTCSignalData
		if err := wire.DecodeData(env, &data); err != nil {
			c.log.Warn().Err(err).Msg("Malformed signal")
			return
		}
		c.handleSignal(data)

	case wire.EventHangup:
		_ = c.teardown(false, EndReasonPeerHangup)

	case wire.EventCallFailed:
		var data wire.CallFailedData
		if err := wire.DecodeData(env, &data); err != nil {
			c.log.Warn().Err(err).Msg("Malformed callFailed")
			return
		}
		c.log.Warn().Str("reason", data.Reason).Msg("Call failed")
		c.clearFailedCall()
		if c.handlers.OnCallFailed != nil {
			c.handlers.OnCallFailed(data.Reason)
		}

	default:
		c.log.Warn().Str("event", string(env.Event)).Msg("Unknown event from server")
	}
}

// handleSignal feeds a relayed negotiation payload into the active call's
// peer. The caller side creates its peer lazily on the first payload: that
// is the moment the callee has accepted.
func (c *Client) handleSignal(data wire.WebRTCSignalData) {
	c.mu.Lock()
	call := c.call
	if call == nil || call.participants.PairKey() != data.Participants.PairKey() {
		c.mu.Unlock()
		c.log.Warn().Msg("Signal for unknown call, dropping")
		return
	}

	p := call.peer
	if p == nil {
		if !call.isCaller {
			c.mu.Unlock()
			c.log.Warn().Msg("Signal before accept, dropping")
			return
		}
		media := call.media
		c.mu.Unlock()

		created, err := c.newPeer(c.peerConfig(call.participants, true, false, media))
		if err != nil {
			c.log.Error().Err(err).Msg("Failed to create peer")
			_ = c.teardown(true, EndReasonMediaLost)
			return
		}

		c.mu.Lock()
		if c.call != call {
			c.mu.Unlock()
			created.Close()
			return
		}
		call.peer = created
		p = created
	}
	c.mu.Unlock()

	if err := p.Signal(data.SDP); err != nil {
		c.log.Error().Err(err).Msg("Failed to apply signal")
	}
}

// clearFailedCall releases state for an outgoing call the server rejected.
func (c *Client) clearFailedCall() {
	c.mu.Lock()
	call := c.call
	c.call = nil
	c.mu.Unlock()

	if call == nil {
		return
	}
	if call.peer != nil {
		call.peer.Close()
	}
	if call.media != nil {
		call.media.Close()
	}
}

func (c *Client) teardownOnTransportLoss() {
	c.mu.Lock()
	hadCall := c.call != nil
	c.mu.Unlock()

	if hadCall {
		_ = c.teardown(false, EndReasonDisconnect)
	}
}

// teardown clears the active call: closes the peer, releases the local media
// handle, optionally emits hangup to the remote side, and surfaces the
// terminal Ended event. Safe to call with no active call.
func (c *Client) teardown(emitToPeer bool, reason string) error {
	c.mu.Lock()
	call := c.call
	c.call = nil
	c.mu.Unlock()

	if call == nil {
		return nil
	}

	var sendErr error
	if emitToPeer {
		sendErr = c.sendEnvelope(wire.EventHangup, wire.HangupData{
			Participants:    call.participants,
			UserHangingUpID: c.profile.ID,
		})
	}

	if call.peer != nil {
		call.peer.Close()
	}
	if call.media != nil {
		call.media.Close()
	}

	c.log.Info().Str("reason", reason).Msg("Call ended")
	if reason != "" && c.handlers.OnCallEnded != nil {
		c.handlers.OnCallEnded(reason)
	}
	return sendErr
}

func (c *Client) sendEnvelope(event wire.Event, data any) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	env, err := wire.NewEnvelope(event, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}
