// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crossfire-live/crossfire/lib/clock"
	"github.com/crossfire-live/crossfire/lib/ident"
	"github.com/crossfire-live/crossfire/store"
)

// ErrNegotiationTimeout reports that the peers did not reach the
// connected state before the deadline. Distinct from a normal close:
// callers tear down the session on timeout but not on close.
var ErrNegotiationTimeout = errors.New("signaling: negotiation timeout")

// State is the machine's position in the negotiation.
type State string

const (
	StateIdle           State = "idle"
	StateOffering       State = "offering"
	StateAwaitingAnswer State = "awaiting-answer"
	StateAwaitingOffer  State = "awaiting-offer"
	StateNegotiating    State = "negotiating"
	StateConnected      State = "connected"
	StateClosed         State = "closed"
)

// MachineConfig holds the parameters for a Machine.
type MachineConfig struct {
	// Session fixes the roles: the machine initiates iff Self is the
	// session's ParticipantA. Required.
	Session store.DebateSession

	// Self identifies this side. Must be a session participant.
	Self ident.ParticipantID

	// Peer is the connection being negotiated. Required.
	Peer Peer

	// Channel carries frames to and from the counterpart. Required.
	Channel Channel

	// Clock drives the negotiation timeout. Required.
	Clock clock.Clock

	// Logger receives frame-level diagnostics. Required.
	Logger *slog.Logger

	// NegotiationTimeout bounds the time from Run to connected. Zero
	// means 30 seconds.
	NegotiationTimeout time.Duration
}

// Machine runs one side of a session's negotiation. Create one per
// participant per session; Run drives it to completion.
type Machine struct {
	session   store.DebateSession
	self      ident.ParticipantID
	initiator bool
	peer      Peer
	channel   Channel
	clock     clock.Clock
	logger    *slog.Logger
	timeout   time.Duration

	mu        sync.Mutex
	state     State
	remoteSet bool
	buffered  []ICECandidate

	timedOut  chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMachine validates the configuration and builds a Machine in the
// idle state.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.Peer == nil {
		return nil, fmt.Errorf("signaling: Peer is required")
	}
	if cfg.Channel == nil {
		return nil, fmt.Errorf("signaling: Channel is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("signaling: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("signaling: Logger is required")
	}
	if !cfg.Session.Has(cfg.Self) {
		return nil, fmt.Errorf("signaling: %s is not a participant of session %s", cfg.Self, cfg.Session.ID)
	}
	if cfg.NegotiationTimeout == 0 {
		cfg.NegotiationTimeout = 30 * time.Second
	}
	return &Machine{
		session:   cfg.Session,
		self:      cfg.Self,
		initiator: cfg.Self == cfg.Session.ParticipantA,
		peer:      cfg.Peer,
		channel:   cfg.Channel,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		timeout:   cfg.NegotiationTimeout,
		state:     StateIdle,
		timedOut:  make(chan struct{}),
		closed:    make(chan struct{}),
	}, nil
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Initiator reports whether this side sends the offer.
func (m *Machine) Initiator() bool { return m.initiator }

func (m *Machine) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// Run drives the negotiation until the channel closes, the context is
// canceled, or the negotiation times out. Reaching connected does not
// end Run: candidates keep trickling and the connection can improve
// after the first successful pair.
func (m *Machine) Run(ctx context.Context) error {
	m.peer.OnICECandidate(func(candidate ICECandidate) {
		body, err := EncodeCandidate(candidate)
		if err != nil {
			m.logger.Warn("candidate encode failed", "session", m.session.ID, "error", err)
			return
		}
		if err := m.channel.Send(ctx, body); err != nil {
			m.logger.Warn("candidate send failed", "session", m.session.ID, "error", err)
		}
	})
	m.peer.OnConnectionStateChange(func(state ConnectionState) {
		switch state {
		case ConnectionConnected:
			m.setState(StateConnected)
		case ConnectionFailed:
			m.logger.Warn("peer connection failed", "session", m.session.ID)
		}
	})

	timer := m.clock.AfterFunc(m.timeout, func() { close(m.timedOut) })
	defer timer.Stop()

	if m.initiator {
		if err := m.sendOffer(ctx); err != nil {
			m.Close()
			return err
		}
	} else {
		m.setState(StateAwaitingOffer)
	}

	inbound := make(chan Inbound)
	pumpErrs := make(chan error, 1)
	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	go func() {
		for {
			entry, err := m.channel.Receive(pumpCtx)
			if err != nil {
				pumpErrs <- err
				return
			}
			select {
			case inbound <- entry:
			case <-pumpCtx.Done():
				return
			}
		}
	}()

	timedOut := m.timedOut
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return ctx.Err()
		case <-m.closed:
			return nil
		case <-timedOut:
			if m.State() == StateConnected {
				// Connected before the timer fired; disarm and keep
				// trickling.
				timedOut = nil
				continue
			}
			m.Close()
			return fmt.Errorf("signaling: session %s: %w", m.session.ID, ErrNegotiationTimeout)
		case err := <-pumpErrs:
			m.Close()
			if errors.Is(err, ErrChannelClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case entry := <-inbound:
			if err := m.handle(ctx, entry); err != nil {
				m.Close()
				return err
			}
		}
	}
}

// Close stops the machine and the peer connection. Idempotent; safe
// from any goroutine.
func (m *Machine) Close() {
	m.closeOnce.Do(func() {
		m.setState(StateClosed)
		close(m.closed)
		if err := m.peer.Close(); err != nil {
			m.logger.Warn("peer close failed", "session", m.session.ID, "error", err)
		}
	})
}

func (m *Machine) sendOffer(ctx context.Context) error {
	m.setState(StateOffering)
	offer, err := m.peer.CreateOffer()
	if err != nil {
		return err
	}
	if err := m.peer.SetLocalDescription(offer); err != nil {
		return err
	}
	body, err := EncodeOffer(offer)
	if err != nil {
		return err
	}
	if err := m.channel.Send(ctx, body); err != nil {
		return fmt.Errorf("signaling: send offer: %w", err)
	}
	m.setState(StateAwaitingAnswer)
	return nil
}

// handle processes one inbound channel entry. Chat is ignored here
// entirely; malformed frames are dropped with a log line and never
// stop the negotiation.
func (m *Machine) handle(ctx context.Context, entry Inbound) error {
	// Both sides read the same channel, so every append comes back to
	// its author. Authorship, not content, decides what to skip.
	if entry.Sender == m.self {
		return nil
	}

	frame, err := ParseFrame(entry.Body)
	if err != nil {
		m.logger.Warn("malformed frame dropped",
			"session", m.session.ID, "seq", entry.Seq, "error", err)
		return nil
	}

	switch frame.Type {
	case FrameChat:
		return nil
	case FrameOffer:
		if m.initiator {
			m.logger.Warn("offer from responder ignored", "session", m.session.ID, "seq", entry.Seq)
			return nil
		}
		return m.acceptOffer(ctx, frame.Description)
	case FrameAnswer:
		if !m.initiator {
			m.logger.Warn("answer from initiator ignored", "session", m.session.ID, "seq", entry.Seq)
			return nil
		}
		return m.acceptAnswer(frame.Description)
	default:
		m.addCandidate(frame.Candidate)
		return nil
	}
}

func (m *Machine) acceptOffer(ctx context.Context, offer SessionDescription) error {
	if err := m.setRemote(offer); err != nil {
		return err
	}
	answer, err := m.peer.CreateAnswer()
	if err != nil {
		return err
	}
	if err := m.peer.SetLocalDescription(answer); err != nil {
		return err
	}
	body, err := EncodeAnswer(answer)
	if err != nil {
		return err
	}
	if err := m.channel.Send(ctx, body); err != nil {
		return fmt.Errorf("signaling: send answer: %w", err)
	}
	m.advanceToNegotiating()
	return nil
}

func (m *Machine) acceptAnswer(answer SessionDescription) error {
	if err := m.setRemote(answer); err != nil {
		return err
	}
	m.advanceToNegotiating()
	return nil
}

// advanceToNegotiating moves the machine forward without regressing a
// connection that already completed.
func (m *Machine) advanceToNegotiating() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected && m.state != StateClosed {
		m.state = StateNegotiating
	}
}

// setRemote applies the counterpart's description and flushes
// candidates that trickled in ahead of it.
func (m *Machine) setRemote(description SessionDescription) error {
	if err := m.peer.SetRemoteDescription(description); err != nil {
		return err
	}
	m.mu.Lock()
	m.remoteSet = true
	buffered := m.buffered
	m.buffered = nil
	m.mu.Unlock()

	for _, candidate := range buffered {
		if err := m.peer.AddICECandidate(candidate); err != nil {
			m.logger.Warn("buffered candidate rejected",
				"session", m.session.ID, "error", err)
		}
	}
	return nil
}

// addCandidate applies or buffers one remote candidate. Apply errors
// are logged and swallowed: duplicates and candidates for a torn-down
// transport are routine with trickle ICE.
func (m *Machine) addCandidate(candidate ICECandidate) {
	m.mu.Lock()
	ready := m.remoteSet
	if !ready {
		m.buffered = append(m.buffered, candidate)
	}
	m.mu.Unlock()
	if !ready {
		return
	}
	if err := m.peer.AddICECandidate(candidate); err != nil {
		m.logger.Warn("candidate rejected", "session", m.session.ID, "error", err)
	}
}
