package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// The negotiation payload format exchanged between two clients. The server
// relays it verbatim and never interprets it; only the two endpoints agree on
// this shape.

type signalType string

const (
	signalTypeOffer     signalType = "offer"
	signalTypeAnswer    signalType = "answer"
	signalTypeCandidate signalType = "candidate"
)

type candidateJSON struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func candidateFromPion(init webrtc.ICECandidateInit) candidateJSON {
	return candidateJSON{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c candidateJSON) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

type signalPayload struct {
	Type      signalType     `json:"type"`
	SDP       string         `json:"sdp,omitempty"`
	Candidate *candidateJSON `json:"candidate,omitempty"`
}

func parseSignalPayload(raw []byte) (signalPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var p signalPayload
	if err := dec.Decode(&p); err != nil {
		return signalPayload{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return signalPayload{}, fmt.Errorf("unexpected trailing data")
	}
	if err := p.validate(); err != nil {
		return signalPayload{}, err
	}
	return p, nil
}

func (p signalPayload) validate() error {
	switch p.Type {
	case signalTypeOffer, signalTypeAnswer:
		if p.SDP == "" {
			return fmt.Errorf("%s payload missing sdp", p.Type)
		}
		if p.Candidate != nil {
			return fmt.Errorf("%s payload has unexpected candidate", p.Type)
		}
	case signalTypeCandidate:
		if p.Candidate == nil {
			return fmt.Errorf("candidate payload missing candidate")
		}
		if p.SDP != "" {
			return fmt.Errorf("candidate payload has unexpected sdp")
		}
	default:
		return fmt.Errorf("unsupported signal type %q", p.Type)
	}
	return nil
}

func (p signalPayload) description() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch p.Type {
	case signalTypeOffer:
		t = webrtc.SDPTypeOffer
	case signalTypeAnswer:
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("signal type %q carries no description", p.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: p.SDP}, nil
}

func marshalDescription(desc webrtc.SessionDescription) (json.RawMessage, error) {
	var t signalType
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		t = signalTypeOffer
	case webrtc.SDPTypeAnswer:
		t = signalTypeAnswer
	default:
		return nil, fmt.Errorf("unsupported sdp type %q", desc.Type)
	}
	return json.Marshal(signalPayload{Type: t, SDP: desc.SDP})
}

func marshalCandidate(init webrtc.ICECandidateInit) (json.RawMessage, error) {
	c := candidateFromPion(init)
	return json.Marshal(signalPayload{Type: signalTypeCandidate, Candidate: &c})
}
