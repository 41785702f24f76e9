// Package wire defines the JSON event protocol spoken over each WebSocket
// connection. It is shared by the server and the Go client; event names are
// preserved from the deployed protocol, including the "incommingCall"
// spelling clients depend on.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type Event string

const (
	EventAddNewUser   Event = "addNewUser"
	EventGetUsers     Event = "getUsers"
	EventCall         Event = "call"
	EventIncomingCall Event = "incommingCall"
	EventWebRTCSignal Event = "webrtcSignal"
	EventHangup       Event = "hangup"
	EventCallFailed   Event = "callFailed"
)

// Profile is the display profile supplied by the external identity provider.
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
}

// OnlineEntry binds an identity to its current live connection.
type OnlineEntry struct {
	UserID  string  `json:"userId"`
	ConnID  string  `json:"connId"`
	Profile Profile `json:"profile"`
}

// Participants are the two sides of a call.
type Participants struct {
	Caller   OnlineEntry `json:"caller"`
	Receiver OnlineEntry `json:"receiver"`
}

// PairKey identifies the unordered participant pair, so that (A,B) and (B,A)
// address the same call.
func (p Participants) PairKey() string {
	a, b := p.Caller.UserID, p.Receiver.UserID
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func (p Participants) Has(userID string) bool {
	return userID == p.Caller.UserID || userID == p.Receiver.UserID
}

// Envelope wraps every frame: an event name plus an event-specific payload.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes a raw frame strictly: unknown fields at the envelope
// level and trailing data are rejected.
func ParseEnvelope(raw []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data")
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("missing event name")
	}
	return env, nil
}

// NewEnvelope marshals data into an envelope for event.
func NewEnvelope(event Event, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// DecodeData strictly decodes an envelope payload into the typed struct for
// its event.
func DecodeData(env Envelope, into any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing data", env.Event)
	}
	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("%s: %w", env.Event, err)
	}
	return nil
}

// AddNewUserData carries the identity registration. User may be null when the
// external identity provider produced nothing; registration then degrades to
// a broadcast-only no-op.
type AddNewUserData struct {
	User *Profile `json:"user"`
}

// GetUsersData is the full online set, broadcast to every connection after
// any directory change.
type GetUsersData []OnlineEntry

// CallData asks the server to ring the receiver.
type CallData struct {
	Participants Participants `json:"participants"`
}

func (d CallData) Validate() error {
	if d.Participants.Caller.UserID == "" {
		return fmt.Errorf("call: missing caller")
	}
	if d.Participants.Receiver.UserID == "" {
		return fmt.Errorf("call: missing receiver")
	}
	if d.Participants.Caller.UserID == d.Participants.Receiver.UserID {
		return fmt.Errorf("call: caller and receiver are the same user")
	}
	return nil
}

// IncomingCallData notifies the callee that it is being rung.
type IncomingCallData struct {
	Participants Participants `json:"participants"`
}

// WebRTCSignalData ferries one opaque negotiation payload. SDP is relayed
// verbatim and never inspected by the server.
type WebRTCSignalData struct {
	SDP          json.RawMessage `json:"sdp"`
	Participants Participants    `json:"participants"`
	IsCaller     bool            `json:"isCaller"`
}

func (d WebRTCSignalData) Validate() error {
	if len(d.SDP) == 0 {
		return fmt.Errorf("webrtcSignal: missing sdp")
	}
	if d.Participants.Caller.UserID == "" || d.Participants.Receiver.UserID == "" {
		return fmt.Errorf("webrtcSignal: missing participants")
	}
	return nil
}

// HangupData ends a call, addressed by its participant pair.
type HangupData struct {
	Participants    Participants `json:"participants"`
	UserHangingUpID string       `json:"userHangingUpId"`
}

func (d HangupData) Validate() error {
	if d.Participants.Caller.UserID == "" || d.Participants.Receiver.UserID == "" {
		return fmt.Errorf("hangup: missing participants")
	}
	if d.UserHangingUpID == "" {
		return fmt.Errorf("hangup: missing userHangingUpId")
	}
	if !d.Participants.Has(d.UserHangingUpID) {
		return fmt.Errorf("hangup: userHangingUpId is not a participant")
	}
	return nil
}

// Failure reasons carried by callFailed.
const (
	ReasonParticipantUnavailable = "participant_unavailable"
	ReasonCallAlreadyActive      = "call_already_active"
	ReasonRingTimeout            = "ring_timeout"
	ReasonIdentityMismatch       = "identity_mismatch"
	ReasonNotRegistered          = "not_registered"
)

// CallFailedData tells the caller why its call request did not result in a
// ringing call.
type CallFailedData struct {
	Reason string `json:"reason"`
}
