package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ringlink/ringlink/internal/core/domain"
	"github.com/ringlink/ringlink/internal/core/port"
	"github.com/ringlink/ringlink/wire"
)

// Hub owns the registry of live connections. It implements
// port.RealTimeGateway: broadcasts go through the run loop, targeted sends
// resolve the connection under the lock and write to its send queue.
type Hub struct {
	mu         sync.Mutex
	clients    map[domain.ConnID]port.Client
	broadcast  chan wire.Envelope
	register   chan port.Client
	unregister chan port.Client
	quit       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[domain.ConnID]port.Client),
		broadcast:  make(chan wire.Envelope, 16),
		register:   make(chan port.Client),
		unregister: make(chan port.Client),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) BroadcastOnlineUsers(ctx context.Context, entries []domain.OnlineEntry) error {
	env, err := wire.NewEnvelope(wire.EventGetUsers, wire.GetUsersData(entriesToWire(entries)))
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- env:
	default:
		log.Warn().Msg("Broadcast channel full, dropping online set update")
	}
	return nil
}

func (h *Hub) SendIncomingCall(ctx context.Context, conn domain.ConnID, participants domain.Participants) error {
	env, err := wire.NewEnvelope(wire.EventIncomingCall, wire.IncomingCallData{Participants: participantsToWire(participants)})
	if err != nil {
		return err
	}
	return h.send(conn, env)
}

func (h *Hub) SendSignal(ctx context.Context, conn domain.ConnID, neg domain.Negotiation) error {
	env, err := wire.NewEnvelope(wire.EventWebRTCSignal, wire.WebRTCSignalData{
		SDP:          neg.Payload,
		Participants: participantsToWire(neg.Participants),
		IsCaller:     neg.IsCaller,
	})
	if err != nil {
		return err
	}
	return h.send(conn, env)
}

func (h *Hub) SendHangup(ctx context.Context, conn domain.ConnID, participants domain.Participants, initiator domain.UserID) error {
	env, err := wire.NewEnvelope(wire.EventHangup, wire.HangupData{
		Participants:    participantsToWire(participants),
		UserHangingUpID: initiator.String(),
	})
	if err != nil {
		return err
	}
	return h.send(conn, env)
}

func (h *Hub) SendCallFailed(ctx context.Context, conn domain.ConnID, reason string) error {
	env, err := wire.NewEnvelope(wire.EventCallFailed, wire.CallFailedData{Reason: reason})
	if err != nil {
		return err
	}
	return h.send(conn, env)
}

// send delivers to one connection. A missing connection is not an error:
// disconnection is observed through the session teardown cascade, not here.
func (h *Hub) send(conn domain.ConnID, env wire.Envelope) error {
	h.mu.Lock()
	client, ok := h.clients[conn]
	h.mu.Unlock()

	if !ok {
		return nil
	}
	return client.Send(env)
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				client.Close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID()] = client
			count := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("conn_id", client.ID().String()).Int("count", count).Msg("Connection registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID()]; ok {
				delete(h.clients, client.ID())
				client.Close()
				log.Info().Str("conn_id", client.ID().String()).Int("count", len(h.clients)).Msg("Connection unregistered")
			}
			h.mu.Unlock()

		case env := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if err := client.Send(env); err != nil {
					log.Error().Err(err).Str("conn_id", id.String()).Msg("Error broadcasting to connection")
					client.Close()
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Register(c port.Client) {
	h.register <- c
}

func (h *Hub) Unregister(c port.Client) {
	h.unregister <- c
}

func (h *Hub) Stop() {
	close(h.quit)
}
