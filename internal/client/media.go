package client

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/webrtc/v4"
)

// MediaSource builds peer connections with local capture wired in. One
// instance is shared by every link in a call so all peers hear the same
// microphone track configuration.
type MediaSource struct {
	selector *mediadevices.CodecSelector
	api      *webrtc.API
}

func NewMediaSource() (*MediaSource, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
		mediadevices.WithVideoEncoders(&vpxParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	// Default ICE disconnect timeout (5s) is too eager for relay paths;
	// give a NAT hiccup time to recover before the call drops.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	return &MediaSource{selector: selector, api: api}, nil
}

// NewPeerConnection creates a configured connection against the given
// ICE servers.
func (s *MediaSource) NewPeerConnection(iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	return s.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
}

// CaptureAudio opens the microphone. Fails when no audio driver or
// device is available; callers must abort the call, not proceed silent.
func (s *MediaSource) CaptureAudio() (mediadevices.MediaStream, error) {
	return mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: s.selector,
	})
}

// CaptureScreen grabs the display for screen sharing.
func (s *MediaSource) CaptureScreen() (mediadevices.MediaStream, error) {
	return mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: s.selector,
	})
}

// AttachStream adds every track of the stream to the connection. Track
// lifetime is the caller's: the same stream is typically attached to
// several links, so nothing here closes on failure.
func AttachStream(pc *webrtc.PeerConnection, stream mediadevices.MediaStream) error {
	for _, track := range stream.GetTracks() {
		if _, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			return err
		}
	}
	return nil
}
