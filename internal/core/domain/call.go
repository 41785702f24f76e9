package domain

import (
	"encoding/json"
	"fmt"
)

type CallPhase string

const (
	// PhaseRinging is the initial phase of every call: created by the
	// caller, not yet answered by the callee.
	PhaseRinging CallPhase = "ringing"
	// PhaseConnected is entered when the first negotiation payload is
	// relayed between the participants.
	PhaseConnected CallPhase = "connected"
	// PhaseEnded is terminal. Ended calls are discarded from the table.
	PhaseEnded CallPhase = "ended"
)

// Participants are the two sides of a call. The caller initiated it; the
// receiver is being rung.
type Participants struct {
	Caller   OnlineEntry `json:"caller"`
	Receiver OnlineEntry `json:"receiver"`
}

// PairKey returns a key identifying the unordered participant pair, so that
// (A,B) and (B,A) address the same call.
func (p Participants) PairKey() string {
	a, b := p.Caller.UserID, p.Receiver.UserID
	if b < a {
		a, b = b, a
	}
	return string(a) + "|" + string(b)
}

// Other returns the participant that is not the given user.
func (p Participants) Other(user UserID) (OnlineEntry, bool) {
	switch user {
	case p.Caller.UserID:
		return p.Receiver, true
	case p.Receiver.UserID:
		return p.Caller, true
	}
	return OnlineEntry{}, false
}

func (p Participants) Has(user UserID) bool {
	return user == p.Caller.UserID || user == p.Receiver.UserID
}

// Call is the stateful record of one two-party call attempt.
type Call struct {
	ID           CallID
	Participants Participants
	Phase        CallPhase
}

func NewCall(participants Participants) *Call {
	return &Call{
		ID:           NewCallID(),
		Participants: participants,
		Phase:        PhaseRinging,
	}
}

// Transition moves the call to the next phase, rejecting anything the state
// machine does not allow. Ended is reachable from every phase.
func (c *Call) Transition(next CallPhase) error {
	if next == PhaseEnded {
		c.Phase = PhaseEnded
		return nil
	}
	if c.Phase == PhaseRinging && next == PhaseConnected {
		c.Phase = PhaseConnected
		return nil
	}
	if c.Phase == next {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Phase, next)
}

// Negotiation is an opaque session-description/ICE payload in flight between
// the two participants of a call. The payload is never inspected.
type Negotiation struct {
	Participants Participants
	IsCaller     bool
	Payload      json.RawMessage
}

// Sender resolves which participant emitted the negotiation payload.
func (n Negotiation) Sender() OnlineEntry {
	if n.IsCaller {
		return n.Participants.Caller
	}
	return n.Participants.Receiver
}

// Target resolves the forwarding target: the participant that is not the
// sender.
func (n Negotiation) Target() OnlineEntry {
	if n.IsCaller {
		return n.Participants.Receiver
	}
	return n.Participants.Caller
}
