package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"

	"github.com/warasat/Chat-Application/internal/signal"
)

// StartScreenShare captures the display, adds it to the primary link
// (the peer this call was started with or answered from) and
// renegotiates that link with a fresh offer carried over the
// screen-share signal. The other links keep their original track set.
func (m *Manager) StartScreenShare(media *MediaSource) error {
	m.mu.Lock()
	primary := m.primary
	m.mu.Unlock()
	if primary == "" {
		return errors.New("no active call")
	}

	link, ok := m.peers.Link(primary)
	if !ok {
		return fmt.Errorf("no link to %s", primary)
	}
	pc, ok := link.pc.(*webrtc.PeerConnection)
	if !ok {
		return errors.New("link does not support renegotiation")
	}

	stream, err := media.CaptureScreen()
	if err != nil {
		return err
	}
	return m.shareWithPeer(pc, primary, stream)
}

func (m *Manager) shareWithPeer(pc *webrtc.PeerConnection, peerID string, stream mediadevices.MediaStream) error {
	for _, track := range stream.GetVideoTracks() {
		if _, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		}); err != nil {
			return err
		}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	raw, err := json.Marshal(offer)
	if err != nil {
		return err
	}

	return m.sig.Send(signal.TypeScreenShare, signal.ScreenShare{
		ChatID:    m.chat(),
		Offer:     raw,
		IsSharing: true,
		From:      m.selfID,
		ToUserID:  peerID,
	})
}

// StopScreenShare tells the room the share ended. Receivers drop the
// remote video; the sender's tracks close with the stream.
func (m *Manager) StopScreenShare() error {
	return m.sig.Send(signal.TypeScreenShare, signal.ScreenShare{
		ChatID:    m.chat(),
		IsSharing: false,
		From:      m.selfID,
	})
}

// handleRemoteScreen answers renegotiation offers and relays start/stop
// to the observer. The Offer field carries either side of the exchange;
// the SDP type tells them apart.
func (m *Manager) handleRemoteScreen(p signal.RemoteScreenPayload) {
	if len(p.Offer) == 0 {
		if m.opts.OnRemoteScreen != nil {
			m.opts.OnRemoteScreen(p.From, p.IsSharing)
		}
		return
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(p.Offer, &desc); err != nil {
		m.log.Warn("bad screen-share payload", "from", p.From, "error", err)
		return
	}

	link, ok := m.peers.Link(p.From)
	if !ok {
		m.log.Debug("screen share from unknown peer dropped", "from", p.From)
		return
	}

	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if err := m.answerScreenOffer(link, p.From, desc); err != nil {
			m.log.Warn("screen renegotiation failed", "from", p.From, "error", err)
			return
		}
	case webrtc.SDPTypeAnswer:
		if err := link.SetRemoteDescription(desc); err != nil {
			m.log.Warn("screen answer not applied", "from", p.From, "error", err)
			return
		}
	}

	if m.opts.OnRemoteScreen != nil {
		m.opts.OnRemoteScreen(p.From, p.IsSharing)
	}
}

func (m *Manager) answerScreenOffer(link *PeerLink, from string, offer webrtc.SessionDescription) error {
	if err := link.SetRemoteDescription(offer); err != nil {
		return err
	}
	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return m.sig.Send(signal.TypeScreenShare, signal.ScreenShare{
		ChatID:    m.chat(),
		Offer:     raw,
		IsSharing: true,
		From:      m.selfID,
		ToUserID:  from,
	})
}
