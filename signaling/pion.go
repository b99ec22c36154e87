// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// PionConfig holds the parameters for a PionPeer.
type PionConfig struct {
	// STUNServers are stun: URLs for candidate discovery. Empty means
	// host candidates only, which is enough for tests and single-host
	// deployments.
	STUNServers []string
}

// PionPeer implements Peer on a pion/webrtc peer connection,
// configured to receive one audio and one video track. Candidates
// trickle: OnICECandidate fires as gathering progresses rather than
// after it completes.
type PionPeer struct {
	connection *webrtc.PeerConnection
}

var _ Peer = (*PionPeer)(nil)

// NewPionPeer builds the underlying peer connection and its recvonly
// transceivers.
func NewPionPeer(cfg PionConfig) (*PionPeer, error) {
	configuration := webrtc.Configuration{}
	if len(cfg.STUNServers) > 0 {
		configuration.ICEServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}
	connection, err := webrtc.NewPeerConnection(configuration)
	if err != nil {
		return nil, fmt.Errorf("signaling: new peer connection: %w", err)
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		_, err := connection.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			connection.Close()
			return nil, fmt.Errorf("signaling: add %s transceiver: %w", kind, err)
		}
	}
	return &PionPeer{connection: connection}, nil
}

func (p *PionPeer) CreateOffer() (SessionDescription, error) {
	offer, err := p.connection.CreateOffer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("signaling: create offer: %w", err)
	}
	return fromPionDescription(offer), nil
}

func (p *PionPeer) CreateAnswer() (SessionDescription, error) {
	answer, err := p.connection.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("signaling: create answer: %w", err)
	}
	return fromPionDescription(answer), nil
}

func (p *PionPeer) SetLocalDescription(description SessionDescription) error {
	pionDescription, err := toPionDescription(description)
	if err != nil {
		return err
	}
	if err := p.connection.SetLocalDescription(pionDescription); err != nil {
		return fmt.Errorf("signaling: set local description: %w", err)
	}
	return nil
}

func (p *PionPeer) SetRemoteDescription(description SessionDescription) error {
	pionDescription, err := toPionDescription(description)
	if err != nil {
		return err
	}
	if err := p.connection.SetRemoteDescription(pionDescription); err != nil {
		return fmt.Errorf("signaling: set remote description: %w", err)
	}
	return nil
}

func (p *PionPeer) AddICECandidate(candidate ICECandidate) error {
	err := p.connection.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
	if err != nil {
		return fmt.Errorf("signaling: add ice candidate: %w", err)
	}
	return nil
}

func (p *PionPeer) OnICECandidate(callback func(ICECandidate)) {
	p.connection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering; trickle consumers only see
		// real candidates.
		if candidate == nil {
			return
		}
		wire := candidate.ToJSON()
		callback(ICECandidate{
			Candidate:     wire.Candidate,
			SDPMid:        wire.SDPMid,
			SDPMLineIndex: wire.SDPMLineIndex,
		})
	})
}

func (p *PionPeer) OnTrack(callback func(TrackInfo)) {
	p.connection.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		callback(TrackInfo{ID: track.ID(), Kind: track.Kind().String()})
	})
}

func (p *PionPeer) OnConnectionStateChange(callback func(ConnectionState)) {
	p.connection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		callback(ConnectionState(state.String()))
	})
}

func (p *PionPeer) Close() error {
	if err := p.connection.Close(); err != nil {
		return fmt.Errorf("signaling: close peer connection: %w", err)
	}
	return nil
}

func fromPionDescription(description webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: SDPType(description.Type.String()),
		SDP:  description.SDP,
	}
}

func toPionDescription(description SessionDescription) (webrtc.SessionDescription, error) {
	var pionType webrtc.SDPType
	switch description.Type {
	case SDPOffer:
		pionType = webrtc.SDPTypeOffer
	case SDPAnswer:
		pionType = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("signaling: unsupported sdp type %q", description.Type)
	}
	return webrtc.SessionDescription{Type: pionType, SDP: description.SDP}, nil
}
