package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ringlink/ringlink/internal/core/domain"
	"github.com/ringlink/ringlink/internal/core/port"
	"github.com/ringlink/ringlink/internal/metrics"
	"github.com/ringlink/ringlink/wire"
)

// CallService owns the call table and drives every call through its phases.
// It holds references to the presence directory for addressing but never owns
// online entries: a participant disappearing triggers teardown, not a
// dangling reference.
type CallService struct {
	table    port.CallTable
	presence *PresenceService
	gateway  port.RealTimeGateway
	stats    *metrics.Registry

	// ringTimeout bounds how long a call may stay in the ringing phase.
	// Zero disables the bound and preserves ring-forever behavior.
	ringTimeout time.Duration

	mu         sync.Mutex
	ringTimers map[string]*time.Timer
}

func NewCallService(table port.CallTable, presence *PresenceService, gateway port.RealTimeGateway, stats *metrics.Registry, ringTimeout time.Duration) *CallService {
	return &CallService{
		table:       table,
		presence:    presence,
		gateway:     gateway,
		stats:       stats,
		ringTimeout: ringTimeout,
		ringTimers:  make(map[string]*time.Timer),
	}
}

// Initiate creates a ringing call between the sender and the declared
// receiver and notifies the receiver's connection. Participant addresses are
// resolved from the directory, not trusted from the request.
func (s *CallService) Initiate(ctx context.Context, sender domain.UserID, requested domain.Participants) (*domain.Call, error) {
	if requested.Caller.UserID != sender {
		return nil, domain.ErrIdentityMismatch
	}

	caller, ok := s.presence.Lookup(sender)
	if !ok {
		s.stats.Inc(metrics.CallsFailed)
		return nil, domain.ErrNotRegistered
	}
	receiver, ok := s.presence.Lookup(requested.Receiver.UserID)
	if !ok {
		s.stats.Inc(metrics.CallsFailed)
		return nil, domain.ErrParticipantUnavailable
	}

	call := domain.NewCall(domain.Participants{Caller: caller, Receiver: receiver})
	if err := s.table.Put(call); err != nil {
		s.stats.Inc(metrics.CallsFailed)
		return nil, err
	}

	s.stats.Inc(metrics.CallsInitiated)
	log.Info().
		Str("call_id", call.ID.String()).
		Str("caller", caller.UserID.String()).
		Str("receiver", receiver.UserID.String()).
		Msg("Call ringing")

	if err := s.gateway.SendIncomingCall(ctx, receiver.ConnID, call.Participants); err != nil {
		log.Error().Err(err).Str("call_id", call.ID.String()).Msg("Failed to ring receiver")
	}

	s.armRingTimer(call)
	return call, nil
}

// Relay forwards one opaque negotiation payload to the participant that is
// not the sender. The first successful relay moves the call to Connected.
func (s *CallService) Relay(ctx context.Context, sender domain.UserID, neg domain.Negotiation) error {
	if neg.Sender().UserID != sender {
		return domain.ErrIdentityMismatch
	}

	call, ok := s.table.Get(neg.Participants.PairKey())
	if !ok {
		s.stats.Inc(metrics.SignalsDropped)
		return domain.ErrCallNotFound
	}

	// Address the target through the directory rather than the payload;
	// the entry embedded by the client may be stale after a reconnect.
	target, ok := s.presence.Lookup(neg.Target().UserID)
	if !ok {
		// Target gone. The disconnect cascade will tear the call down;
		// the relay itself drops silently.
		s.stats.Inc(metrics.SignalsDropped)
		return nil
	}

	s.mu.Lock()
	if call.Phase == domain.PhaseRinging {
		if err := call.Transition(domain.PhaseConnected); err != nil {
			s.mu.Unlock()
			return err
		}
		s.stats.Inc(metrics.CallsConnected)
		log.Info().Str("call_id", call.ID.String()).Msg("Call connected")
		s.cancelRingTimerLocked(call.Participants.PairKey())
	}
	s.mu.Unlock()

	if err := s.gateway.SendSignal(ctx, target.ConnID, neg); err != nil {
		s.stats.Inc(metrics.SignalsDropped)
		return err
	}
	s.stats.Inc(metrics.SignalsRelayed)
	return nil
}

// Terminate ends the call for the given participant pair, from any phase.
// Idempotent: terminating an absent call is a safe no-op. When emitToPeer is
// set, the other participant receives exactly one hangup notice.
func (s *CallService) Terminate(ctx context.Context, participants domain.Participants, initiator domain.UserID, emitToPeer bool) error {
	pairKey := participants.PairKey()

	call, ok := s.table.Get(pairKey)
	if !ok {
		return nil
	}
	if !call.Participants.Has(initiator) {
		return domain.ErrIdentityMismatch
	}

	s.mu.Lock()
	_ = call.Transition(domain.PhaseEnded)
	s.cancelRingTimerLocked(pairKey)
	s.mu.Unlock()

	s.table.Remove(pairKey)
	s.stats.Inc(metrics.CallsTerminated)
	log.Info().
		Str("call_id", call.ID.String()).
		Str("initiator", initiator.String()).
		Bool("emit_to_peer", emitToPeer).
		Msg("Call ended")

	if !emitToPeer {
		return nil
	}

	peer, ok := call.Participants.Other(initiator)
	if !ok {
		return nil
	}
	// Resolve the peer's current connection; it may have re-registered
	// since the call was created.
	if entry, ok := s.presence.Lookup(peer.UserID); ok {
		peer = entry
	}
	if err := s.gateway.SendHangup(ctx, peer.ConnID, call.Participants, initiator); err != nil {
		log.Error().Err(err).Str("call_id", call.ID.String()).Msg("Failed to notify peer of hangup")
	}
	return nil
}

// HandleDisconnect tears down whatever call the user was part of, notifying
// the remaining participant.
func (s *CallService) HandleDisconnect(ctx context.Context, user domain.UserID) {
	call, ok := s.table.ByParticipant(user)
	if !ok {
		return
	}
	if err := s.Terminate(ctx, call.Participants, user, true); err != nil {
		log.Error().Err(err).Str("user_id", user.String()).Msg("Failed to tear down call on disconnect")
	}
}

// ActiveCall resolves the call a user currently participates in.
func (s *CallService) ActiveCall(user domain.UserID) (*domain.Call, bool) {
	return s.table.ByParticipant(user)
}

func (s *CallService) armRingTimer(call *domain.Call) {
	if s.ringTimeout <= 0 {
		return
	}
	pairKey := call.Participants.PairKey()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ringTimers[pairKey] = time.AfterFunc(s.ringTimeout, func() {
		s.expireRing(pairKey, call.ID)
	})
}

func (s *CallService) cancelRingTimerLocked(pairKey string) {
	if timer, ok := s.ringTimers[pairKey]; ok {
		timer.Stop()
		delete(s.ringTimers, pairKey)
	}
}

// expireRing ends a call that was never answered. The caller learns why via
// callFailed; the callee's ringing UI is cleared with a hangup.
func (s *CallService) expireRing(pairKey string, callID domain.CallID) {
	call, ok := s.table.Get(pairKey)
	if !ok || call.ID != callID {
		return
	}

	s.mu.Lock()
	if call.Phase != domain.PhaseRinging {
		s.mu.Unlock()
		return
	}
	_ = call.Transition(domain.PhaseEnded)
	s.cancelRingTimerLocked(pairKey)
	s.mu.Unlock()

	s.table.Remove(pairKey)
	s.stats.Inc(metrics.CallsTerminated)
	log.Info().Str("call_id", call.ID.String()).Dur("ring_timeout", s.ringTimeout).Msg("Ring timed out")

	ctx := context.Background()
	if caller, ok := s.presence.Lookup(call.Participants.Caller.UserID); ok {
		if err := s.gateway.SendCallFailed(ctx, caller.ConnID, wire.ReasonRingTimeout); err != nil {
			log.Error().Err(err).Str("call_id", call.ID.String()).Msg("Failed to notify caller of ring timeout")
		}
	}
	if receiver, ok := s.presence.Lookup(call.Participants.Receiver.UserID); ok {
		if err := s.gateway.SendHangup(ctx, receiver.ConnID, call.Participants, call.Participants.Caller.UserID); err != nil {
			log.Error().Err(err).Str("call_id", call.ID.String()).Msg("Failed to clear receiver ring")
		}
	}
}
