// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/crossfire-live/crossfire/lib/ident"
)

// FakePeer is a scriptable Peer. It records every call in order and
// exposes the registered callbacks so tests can play the remote side.
type FakePeer struct {
	mu          sync.Mutex
	calls       []string
	remoteSet   bool
	candidates  []ICECandidate
	onCandidate func(ICECandidate)
	onState     func(ConnectionState)
	onTrack     func(TrackInfo)
	addErr      func(ICECandidate) error
	closed      bool
}

var _ Peer = (*FakePeer)(nil)

func (f *FakePeer) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *FakePeer) CreateOffer() (SessionDescription, error) {
	f.record("CreateOffer")
	return SessionDescription{Type: SDPOffer, SDP: "v=0 fake-offer"}, nil
}

func (f *FakePeer) CreateAnswer() (SessionDescription, error) {
	f.record("CreateAnswer")
	return SessionDescription{Type: SDPAnswer, SDP: "v=0 fake-answer"}, nil
}

func (f *FakePeer) SetLocalDescription(description SessionDescription) error {
	f.record("SetLocal:" + string(description.Type))
	return nil
}

func (f *FakePeer) SetRemoteDescription(description SessionDescription) error {
	f.record("SetRemote:" + string(description.Type))
	f.mu.Lock()
	f.remoteSet = true
	f.mu.Unlock()
	return nil
}

func (f *FakePeer) AddICECandidate(candidate ICECandidate) error {
	f.record("AddICECandidate")
	f.mu.Lock()
	addErr := f.addErr
	f.mu.Unlock()
	if addErr != nil {
		if err := addErr(candidate); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.candidates = append(f.candidates, candidate)
	f.mu.Unlock()
	return nil
}

func (f *FakePeer) OnICECandidate(callback func(ICECandidate)) {
	f.mu.Lock()
	f.onCandidate = callback
	f.mu.Unlock()
}

func (f *FakePeer) OnTrack(callback func(TrackInfo)) {
	f.mu.Lock()
	f.onTrack = callback
	f.mu.Unlock()
}

func (f *FakePeer) OnConnectionStateChange(callback func(ConnectionState)) {
	f.mu.Lock()
	f.onState = callback
	f.mu.Unlock()
}

func (f *FakePeer) Close() error {
	f.record("Close")
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// FireICECandidate plays a locally gathered candidate.
func (f *FakePeer) FireICECandidate(candidate ICECandidate) {
	f.mu.Lock()
	callback := f.onCandidate
	f.mu.Unlock()
	if callback != nil {
		callback(candidate)
	}
}

// FireConnectionState plays a connection state transition.
func (f *FakePeer) FireConnectionState(state ConnectionState) {
	f.mu.Lock()
	callback := f.onState
	f.mu.Unlock()
	if callback != nil {
		callback(state)
	}
}

// Candidates returns the applied remote candidates.
func (f *FakePeer) Candidates() []ICECandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ICECandidate(nil), f.candidates...)
}

// Calls returns the ordered call log.
func (f *FakePeer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// testLog is a shared append-only message log standing in for the
// session channel, with one endpoint per participant.
type testLog struct {
	mu      sync.Mutex
	entries []Inbound
	wake    chan struct{}
	closed  bool
}

func newTestLog() *testLog {
	return &testLog{wake: make(chan struct{})}
}

func (l *testLog) append(sender ident.ParticipantID, body string) {
	l.mu.Lock()
	l.entries = append(l.entries, Inbound{
		Sender: sender,
		Seq:    int64(len(l.entries) + 1),
		Body:   body,
	})
	previous := l.wake
	l.wake = make(chan struct{})
	l.mu.Unlock()
	close(previous)
}

func (l *testLog) close() {
	l.mu.Lock()
	l.closed = true
	previous := l.wake
	l.wake = make(chan struct{})
	l.mu.Unlock()
	close(previous)
}

// endpoint is one participant's view of the log.
type endpoint struct {
	log    *testLog
	self   ident.ParticipantID
	cursor int
}

var _ Channel = (*endpoint)(nil)

func (l *testLog) endpoint(self ident.ParticipantID) *endpoint {
	return &endpoint{log: l, self: self}
}

func (e *endpoint) Send(_ context.Context, body string) error {
	e.log.mu.Lock()
	closed := e.log.closed
	e.log.mu.Unlock()
	if closed {
		return fmt.Errorf("endpoint send: %w", ErrChannelClosed)
	}
	e.log.append(e.self, body)
	return nil
}

func (e *endpoint) Receive(ctx context.Context) (Inbound, error) {
	for {
		e.log.mu.Lock()
		if e.cursor < len(e.log.entries) {
			entry := e.log.entries[e.cursor]
			e.cursor++
			e.log.mu.Unlock()
			return entry, nil
		}
		closed := e.log.closed
		wake := e.log.wake
		e.log.mu.Unlock()
		if closed {
			return Inbound{}, ErrChannelClosed
		}

		select {
		case <-ctx.Done():
			return Inbound{}, ctx.Err()
		case <-wake:
		}
	}
}
