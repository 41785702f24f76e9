package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ringlink/ringlink/internal/core/domain"
	"github.com/ringlink/ringlink/internal/metrics"
	"github.com/ringlink/ringlink/wire"
)

const writeWait = 1 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins before exposing outside dev
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errSendQueueFull = errors.New("send queue full")

// WSClient is one live connection. Writes go through a buffered queue and a
// dedicated write pump so a slow reader never blocks the hub or another
// connection.
type WSClient struct {
	id   domain.ConnID
	conn *websocket.Conn

	send chan wire.Envelope
	done chan struct{}
	once sync.Once

	pingInterval time.Duration
}

func newWSClient(conn *websocket.Conn, queueSize int, pingInterval time.Duration) *WSClient {
	return &WSClient{
		id:           domain.NewConnID(),
		conn:         conn,
		send:         make(chan wire.Envelope, queueSize),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
	}
}

func (c *WSClient) ID() domain.ConnID {
	return c.id
}

// Send queues an envelope. A full queue is an error: the connection is too
// slow to keep and the hub will drop it.
func (c *WSClient) Send(env wire.Envelope) error {
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return nil
	default:
		return errSendQueueFull
	}
}

func (c *WSClient) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return c.conn.Close()
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// ServeWS runs one connection session: upgrade, identity registration,
// per-message dispatch, and the teardown cascade on disconnect.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := newWSClient(conn, h.Cfg.SendQueueSize, h.Cfg.PingInterval)
	h.Stats.Inc(metrics.ConnectionsOpened)

	l := log.With().Str("conn_id", client.ID().String()).Logger()
	l.Info().Msg("New connection")

	h.Hub.Register(client)
	go client.writePump()

	defer func() {
		// The request context is gone once the connection drops; the
		// teardown cascade still has peers to notify.
		ctx := context.Background()
		if identity, ok := h.Presence.Identity(client.ID()); ok {
			h.Calls.HandleDisconnect(ctx, identity)
		}
		h.Presence.Unregister(ctx, client.ID())
		h.Hub.Unregister(client)
		client.Close()
		h.Stats.Inc(metrics.ConnectionsClosed)
		l.Info().Msg("Connection closed")
	}()

	conn.SetReadLimit(h.Cfg.MaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(h.Cfg.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.Cfg.IdleTimeout))
	})

	limiter := newTokenBucket(h.Cfg.MaxMessagesPerSecond)

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.Cfg.IdleTimeout))

		if msgType != websocket.TextMessage {
			writeClose(conn, websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if !limiter.Allow(time.Now()) {
			h.Stats.Inc(metrics.MessagesRejected)
			writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		env, err := wire.ParseEnvelope(raw)
		if err != nil {
			h.Stats.Inc(metrics.MessagesRejected)
			writeClose(conn, websocket.CloseUnsupportedData, "invalid message")
			return
		}

		h.dispatch(r.Context(), l, client, env)
	}
}

func (h *Handler) dispatch(ctx context.Context, l zerolog.Logger, client *WSClient, env wire.Envelope) {
	switch env.Event {
	case wire.EventAddNewUser:
		var data wire.AddNewUserData
		if err := wire.DecodeData(env, &data); err != nil {
			h.Stats.Inc(metrics.MessagesRejected)
			l.Warn().Err(err).Msg("Malformed registration")
			return
		}
		if _, err := h.Presence.Register(ctx, client.ID(), profileFromWire(data.User)); err != nil {
			// Missing identity is non-fatal; the set was broadcast anyway.
			l.Warn().Err(err).Msg("Registration skipped")
		}

	case wire.EventCall:
		var data wire.CallData
		if err := wire.DecodeData(env, &data); err != nil {
			h.Stats.Inc(metrics.MessagesRejected)
			l.Warn().Err(err).Msg("Malformed call request")
			return
		}
		if err := data.Validate(); err != nil {
			h.Stats.Inc(metrics.MessagesRejected)
			l.Warn().Err(err).Msg("Invalid call request")
			return
		}
		h.handleCall(ctx, l, client, data)

	case wire.EventWebRTCSignal:
		var data wire.WebRTCSignalData
		if err := wire.DecodeData(env, &data); err != nil {
			h.Stats.Inc(metrics.MessagesRejected)
			l.Warn().Err(err).Msg("Malformed signal")
			return
		}
		if err := data.Validate(); err != nil {
			h.Stats.Inc(metrics.MessagesRejected)
			l.Warn().Err(err).Msg("Invalid signal")
			return
		}
		h.handleSignal(ctx, l, client, data)

	case wire.EventHangup:
		var data wire.HangupData
		if err := wire.DecodeData(env, &data); err != nil {
			h.Stats.Inc(metrics.MessagesRejected)
			l.Warn().Err(err).Msg("Malformed hangup")
			return
		}
		if err := data.Validate(); err != nil {
			h.Stats.Inc(metrics.MessagesRejected)
			l.Warn().Err(err).Msg("Invalid hangup")
			return
		}
		h.handleHangup(ctx, l, client, data)

	default:
		l.Warn().Str("event", string(env.Event)).Msg("Unknown event, ignoring")
	}
}

func (h *Handler) handleCall(ctx context.Context, l zerolog.Logger, client *WSClient, data wire.CallData) {
	sender, ok := h.Presence.Identity(client.ID())
	if !ok {
		h.Stats.Inc(metrics.CallsFailed)
		h.sendCallFailed(ctx, client.ID(), wire.ReasonNotRegistered)
		return
	}
	if data.Participants.Caller.UserID != sender.String() {
		l.Warn().Str("declared", data.Participants.Caller.UserID).Msg("Call request with spoofed caller")
		h.Stats.Inc(metrics.CallsFailed)
		h.sendCallFailed(ctx, client.ID(), wire.ReasonIdentityMismatch)
		return
	}

	_, err := h.Calls.Initiate(ctx, sender, participantsFromWire(data.Participants))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrParticipantUnavailable):
		h.sendCallFailed(ctx, client.ID(), wire.ReasonParticipantUnavailable)
	case errors.Is(err, domain.ErrCallAlreadyActive):
		h.sendCallFailed(ctx, client.ID(), wire.ReasonCallAlreadyActive)
	case errors.Is(err, domain.ErrNotRegistered):
		h.sendCallFailed(ctx, client.ID(), wire.ReasonNotRegistered)
	default:
		l.Error().Err(err).Msg("Failed to initiate call")
	}
}

func (h *Handler) handleSignal(ctx context.Context, l zerolog.Logger, client *WSClient, data wire.WebRTCSignalData) {
	sender, ok := h.Presence.Identity(client.ID())
	if !ok {
		l.Warn().Msg("Signal from unregistered connection, dropping")
		return
	}

	neg := domain.Negotiation{
		Participants: participantsFromWire(data.Participants),
		IsCaller:     data.IsCaller,
		Payload:      data.SDP,
	}
	if err := h.Calls.Relay(ctx, sender, neg); err != nil {
		// Relay failures are silent towards the sender: either the call
		// is gone and teardown is in flight, or the message was spoofed.
		l.Warn().Err(err).Msg("Signal dropped")
	}
}

func (h *Handler) handleHangup(ctx context.Context, l zerolog.Logger, client *WSClient, data wire.HangupData) {
	sender, ok := h.Presence.Identity(client.ID())
	if !ok {
		l.Warn().Msg("Hangup from unregistered connection, dropping")
		return
	}
	if data.UserHangingUpID != sender.String() {
		l.Warn().Str("declared", data.UserHangingUpID).Msg("Hangup with spoofed initiator, dropping")
		return
	}

	if err := h.Calls.Terminate(ctx, participantsFromWire(data.Participants), sender, true); err != nil {
		l.Warn().Err(err).Msg("Hangup dropped")
	}
}

func (h *Handler) sendCallFailed(ctx context.Context, conn domain.ConnID, reason string) {
	if err := h.Hub.SendCallFailed(ctx, conn, reason); err != nil {
		log.Error().Err(err).Str("conn_id", conn.String()).Msg("Failed to send callFailed")
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
