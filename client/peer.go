package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// peer drives one side of a call's media negotiation. Exactly one peer
// exists per active call; the accepting side is the negotiation initiator.
type peer interface {
	// Signal feeds a remote negotiation payload into the peer.
	Signal(raw json.RawMessage) error
	Close() error
}

// peerFactory builds a peer. send emits an outgoing negotiation payload to
// the remote side; onDisconnect fires when the media transport is lost.
type peerFactory func(cfg peerConfig) (peer, error)

type peerConfig struct {
	iceServers   []webrtc.ICEServer
	initiator    bool
	media        MediaSource
	send         func(json.RawMessage) error
	onDisconnect func()
	onTrack      func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

// pionPeer wraps a webrtc.PeerConnection with trickle ICE. Candidates that
// arrive before the remote description are buffered.
type pionPeer struct {
	pc   *webrtc.PeerConnection
	cfg  peerConfig
	once sync.Once

	mu        sync.Mutex
	pending   []webrtc.ICECandidateInit
	remoteSet bool
}

func newPionPeer(cfg peerConfig) (peer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.iceServers})
	if err != nil {
		return nil, err
	}

	p := &pionPeer{pc: pc, cfg: cfg}

	if cfg.media != nil {
		for _, track := range cfg.media.Tracks() {
			if _, err := pc.AddTrack(track); err != nil {
				pc.Close()
				return nil, err
			}
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := marshalCandidate(c.ToJSON())
		if err != nil {
			return
		}
		_ = cfg.send(raw)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			if cfg.onDisconnect != nil {
				p.once.Do(cfg.onDisconnect)
			}
		}
	})

	if cfg.onTrack != nil {
		pc.OnTrack(cfg.onTrack)
	}

	if cfg.initiator {
		offer, err := pc.CreateOffer(nil)
		if err != nil {
			pc.Close()
			return nil, err
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			pc.Close()
			return nil, err
		}
		raw, err := marshalDescription(offer)
		if err != nil {
			pc.Close()
			return nil, err
		}
		if err := cfg.send(raw); err != nil {
			pc.Close()
			return nil, err
		}
	}

	return p, nil
}

func (p *pionPeer) Signal(raw json.RawMessage) error {
	payload, err := parseSignalPayload(raw)
	if err != nil {
		return err
	}

	switch payload.Type {
	case signalTypeOffer:
		if p.cfg.initiator {
			return fmt.Errorf("unexpected offer on initiating side")
		}
		desc, err := payload.description()
		if err != nil {
			return err
		}
		if err := p.setRemoteDescription(desc); err != nil {
			return err
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return err
		}
		out, err := marshalDescription(answer)
		if err != nil {
			return err
		}
		return p.cfg.send(out)

	case signalTypeAnswer:
		desc, err := payload.description()
		if err != nil {
			return err
		}
		return p.setRemoteDescription(desc)

	case signalTypeCandidate:
		return p.addCandidate(payload.Candidate.ToPion())
	}
	return fmt.Errorf("unsupported signal type %q", payload.Type)
}

func (p *pionPeer) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.remoteSet = true
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *pionPeer) addCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.pc.AddICECandidate(c)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
