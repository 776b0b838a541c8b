package client

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"

	"github.com/warasat/Chat-Application/internal/signal"
)

// captureSession owns the local capture device for one call session. The
// microphone is opened once, on the first link, and every later link
// attaches the same tracks by reference. Links come and go without
// touching the device; only releasing the whole session closes the
// tracks.
type captureSession struct {
	media *MediaSource

	mu     sync.Mutex
	stream mediadevices.MediaStream
	refs   int
}

// acquire returns the shared stream, opening the microphone on first use.
func (s *captureSession) acquire() (mediadevices.MediaStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		stream, err := s.media.CaptureAudio()
		if err != nil {
			return nil, err
		}
		s.stream = stream
	}
	s.refs++
	return s.stream, nil
}

func (s *captureSession) detach() {
	s.mu.Lock()
	if s.refs > 0 {
		s.refs--
	}
	s.mu.Unlock()
}

// release closes the capture tracks. After this the session can capture
// again from scratch, so a Manager can place a fresh call.
func (s *captureSession) release() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.refs = 0
	s.mu.Unlock()
	if stream == nil {
		return
	}
	for _, t := range stream.GetTracks() {
		_ = t.Close()
	}
}

// NewPeerFactory builds the production connection factory: each new link
// gets a configured peer connection with the shared microphone attached,
// and local ICE candidates trickle out over the signaler as they
// surface. Capture failure aborts link creation so a call never silently
// connects without audio.
//
// The returned release func closes the capture device; hand it to the
// Manager as Options.ReleaseMedia so teardown stops the microphone.
func NewPeerFactory(media *MediaSource, sig Signaler, chatID, selfID string, iceServers []webrtc.ICEServer, log *slog.Logger) (connFactory, func()) {
	capture := &captureSession{media: media}

	factory := func(peerID string) (rtcConn, func(), error) {
		stream, err := capture.acquire()
		if err != nil {
			return nil, nil, err
		}

		pc, err := media.NewPeerConnection(iceServers)
		if err != nil {
			capture.detach()
			return nil, nil, err
		}
		if err := AttachStream(pc, stream); err != nil {
			capture.detach()
			_ = pc.Close()
			return nil, nil, err
		}

		pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
			if cand == nil {
				return
			}
			raw, err := json.Marshal(cand.ToJSON())
			if err != nil {
				return
			}
			if err := sig.Send(signal.TypeICECandidate, signal.ICECandidate{
				ChatID:    chatID,
				Candidate: raw,
				From:      selfID,
				ToUserID:  peerID,
			}); err != nil {
				log.Warn("ice candidate not sent", "to", peerID, "error", err)
			}
		})

		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			log.Debug("peer connection state", "peer_id", peerID, "state", state.String())
		})

		// Closing one link must not stop the shared capture tracks.
		return pc, capture.detach, nil
	}

	return factory, capture.release
}
