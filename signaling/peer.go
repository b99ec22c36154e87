// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

// SDPType is the kind of a session description.
type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SessionDescription is one side's negotiation state in SDP form.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidate is one trickled connectivity candidate. The pointer
// fields mirror the W3C candidate-init shape, where absent and empty
// are distinct.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ConnectionState is the peer connection's aggregate state.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// TrackInfo describes an incoming media track. The server never
// touches media; this exists for library consumers that render it.
type TrackInfo struct {
	ID   string
	Kind string
}

// Peer is the negotiation surface of a WebRTC peer connection.
// Callbacks must be registered before negotiation starts; they may be
// invoked from the implementation's own goroutines.
type Peer interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(SessionDescription) error
	SetRemoteDescription(SessionDescription) error
	AddICECandidate(ICECandidate) error
	OnICECandidate(func(ICECandidate))
	OnTrack(func(TrackInfo))
	OnConnectionStateChange(func(ConnectionState))
	Close() error
}
