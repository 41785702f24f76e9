package client

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrMediaAcquisitionFailed aborts a call attempt before any call state is
// created: no media means no call.
var ErrMediaAcquisitionFailed = errors.New("media acquisition failed")

// MediaSource is the local capture of camera/microphone for the duration of
// one call. The client holds a reference and calls Close on hangup; the
// capture itself belongs to an external collaborator.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

// MediaProvider acquires a fresh MediaSource for a call attempt.
type MediaProvider func() (MediaSource, error)

type trackSource struct {
	tracks []webrtc.TrackLocal
	stop   func() error
}

// NewTrackSource wraps pre-built local tracks as a MediaSource. stop is
// invoked on Close to release the underlying capture; nil is allowed.
func NewTrackSource(tracks []webrtc.TrackLocal, stop func() error) MediaSource {
	return &trackSource{tracks: tracks, stop: stop}
}

// NoMedia is a source with no tracks, for signaling-only endpoints.
func NoMedia() MediaSource {
	return &trackSource{}
}

func (s *trackSource) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

func (s *trackSource) Close() error {
	if s.stop == nil {
		return nil
	}
	return s.stop()
}
