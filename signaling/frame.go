// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame reports a body carrying a reserved tag with a
// missing or invalid payload. Such a body is neither a usable frame
// nor chat; consumers drop it.
var ErrMalformedFrame = errors.New("signaling: malformed frame")

// FrameType discriminates parsed channel bodies.
type FrameType string

const (
	// FrameChat is any body that is not a signaling frame.
	FrameChat FrameType = "chat"
	// FrameOffer carries the initiator's session description.
	FrameOffer FrameType = "offer"
	// FrameAnswer carries the responder's session description.
	FrameAnswer FrameType = "answer"
	// FrameCandidate carries one trickled ICE candidate.
	FrameCandidate FrameType = "ice-candidate"
)

// reservedTag reports whether tag claims the signaling namespace.
func reservedTag(tag string) bool {
	switch FrameType(tag) {
	case FrameOffer, FrameAnswer, FrameCandidate:
		return true
	}
	return false
}

// Frame is one parsed channel body. Exactly one payload field is set
// for the signaling types; none for chat.
type Frame struct {
	Type        FrameType
	Description SessionDescription // offer and answer
	Candidate   ICECandidate       // ice-candidate
}

// wireFrame is the JSON shape shared by all three signaling tags.
type wireFrame struct {
	Type          string  `json:"type"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ParseFrame classifies a channel body. A JSON object whose "type" is
// a reserved tag parses as a signaling frame; a reserved tag with an
// unusable payload is ErrMalformedFrame; every other body, JSON or
// not, is chat. The tag alone decides; there is no way to type a
// chat message that carries a reserved tag and stays chat.
func ParseFrame(body string) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return Frame{Type: FrameChat}, nil
	}
	rawTag, ok := fields["type"]
	if !ok {
		return Frame{Type: FrameChat}, nil
	}
	var tag string
	if err := json.Unmarshal(rawTag, &tag); err != nil || !reservedTag(tag) {
		return Frame{Type: FrameChat}, nil
	}

	var wire wireFrame
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return Frame{}, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, tag, err)
	}
	switch FrameType(tag) {
	case FrameOffer, FrameAnswer:
		if wire.SDP == "" {
			return Frame{}, fmt.Errorf("%w: %s without sdp", ErrMalformedFrame, tag)
		}
		return Frame{
			Type: FrameType(tag),
			Description: SessionDescription{
				Type: SDPType(tag),
				SDP:  wire.SDP,
			},
		}, nil
	default:
		if wire.Candidate == "" {
			return Frame{}, fmt.Errorf("%w: ice-candidate without candidate", ErrMalformedFrame)
		}
		return Frame{
			Type: FrameCandidate,
			Candidate: ICECandidate{
				Candidate:     wire.Candidate,
				SDPMid:        wire.SDPMid,
				SDPMLineIndex: wire.SDPMLineIndex,
			},
		}, nil
	}
}

// IsSignaling reports whether body claims the reserved signaling
// namespace. Malformed reserved-tag bodies report true: they are not
// chat either, and renderers must hide them.
func IsSignaling(body string) bool {
	frame, err := ParseFrame(body)
	return err != nil || frame.Type != FrameChat
}

// EncodeOffer produces the wire form of an offer description.
func EncodeOffer(description SessionDescription) (string, error) {
	return encodeDescription(FrameOffer, description)
}

// EncodeAnswer produces the wire form of an answer description.
func EncodeAnswer(description SessionDescription) (string, error) {
	return encodeDescription(FrameAnswer, description)
}

func encodeDescription(tag FrameType, description SessionDescription) (string, error) {
	if description.SDP == "" {
		return "", fmt.Errorf("signaling: encode %s: empty sdp", tag)
	}
	raw, err := json.Marshal(wireFrame{Type: string(tag), SDP: description.SDP})
	if err != nil {
		return "", fmt.Errorf("signaling: encode %s: %w", tag, err)
	}
	return string(raw), nil
}

// EncodeCandidate produces the wire form of one ICE candidate.
func EncodeCandidate(candidate ICECandidate) (string, error) {
	if candidate.Candidate == "" {
		return "", fmt.Errorf("signaling: encode candidate: empty candidate")
	}
	raw, err := json.Marshal(wireFrame{
		Type:          string(FrameCandidate),
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
	if err != nil {
		return "", fmt.Errorf("signaling: encode candidate: %w", err)
	}
	return string(raw), nil
}
