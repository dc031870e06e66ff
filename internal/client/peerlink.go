package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/wire"
)

// LinkState is the negotiation state of one peer link.
type LinkState string

const (
	LinkIdle            LinkState = "idle"
	LinkHaveLocalOffer  LinkState = "have-local-offer"
	LinkHaveRemoteOffer LinkState = "have-remote-offer"
	LinkStable          LinkState = "stable"
	LinkFailed          LinkState = "failed"
	LinkClosed          LinkState = "closed"
)

// SignalSender delivers negotiation messages toward the remote identity via
// the server relay.
type SignalSender interface {
	SendSignal(sig *wire.Signal) error
}

// PeerLink owns the direct media connection to exactly one remote
// participant. There is never more than one live link per identity pair;
// stale or duplicate negotiation messages are recognized by state mismatch
// and ignored, not by sequence numbers.
//
// Every handler re-checks the current state under the lock before acting:
// completions of asynchronous work must not trust the state they captured
// before suspending.
type PeerLink struct {
	localID  domain.UserID
	remoteID domain.UserID
	conn     MediaConn
	sig      SignalSender

	// onClosed tells the session to drop this link from its active set.
	// Invoked at most once, outside the link lock.
	onClosed func(remote domain.UserID)

	mu        sync.Mutex
	state     LinkState
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	restarted bool
}

func newPeerLink(local, remote domain.UserID, conn MediaConn, sig SignalSender, onClosed func(domain.UserID)) *PeerLink {
	l := &PeerLink{
		localID:  local,
		remoteID: remote,
		conn:     conn,
		sig:      sig,
		onClosed: onClosed,
		state:    LinkIdle,
	}
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		l.sendCandidate(ci)
	})
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.handleConnState(s)
	})
	return l
}

// State reports the current negotiation state.
func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Offer initiates negotiation toward the remote. Only meaningful from idle
// (first negotiation) or stable (renegotiation); any other state means a
// negotiation is already in flight and the call is a no-op.
func (l *PeerLink) Offer() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LinkIdle && l.state != LinkStable {
		return nil
	}
	return l.offerLocked(false)
}

func (l *PeerLink) offerLocked(iceRestart bool) error {
	offer, err := l.conn.CreateOffer(iceRestart)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := l.conn.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	l.state = LinkHaveLocalOffer
	payload, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return l.sig.SendSignal(&wire.Signal{Type: wire.TypeOffer, To: l.remoteID, Offer: payload})
}

// HandleOffer applies a remote offer. While we have our own offer in flight
// this is glare: the identities' fixed total order decides it. The lower
// side rolls back and accepts, the higher side ignores the incoming offer
// and waits for its own to be answered.
func (l *PeerLink) HandleOffer(payload json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case LinkHaveLocalOffer:
		if l.localID >= l.remoteID {
			log.Debug().Str("module", "client.link").Str("remote", string(l.remoteID)).Msg("glare: ignoring remote offer")
			return nil
		}
		if err := l.conn.Rollback(); err != nil {
			return fmt.Errorf("glare rollback: %w", err)
		}
		l.state = LinkIdle
	case LinkIdle, LinkStable:
		// stable accepts renegotiation offers (e.g. a remote ICE restart).
	default:
		log.Debug().Str("module", "client.link").Str("state", string(l.state)).Msg("stale offer ignored")
		return nil
	}

	if err := l.conn.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	l.state = LinkHaveRemoteOffer
	l.flushCandidatesLocked()

	answer, err := l.conn.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := l.conn.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	l.state = LinkStable

	body, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return l.sig.SendSignal(&wire.Signal{Type: wire.TypeAnswer, To: l.remoteID, Answer: body})
}

// HandleAnswer completes a negotiation we initiated. An answer arriving in
// any state other than have-local-offer is stale or duplicate and ignored.
func (l *PeerLink) HandleAnswer(payload json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LinkHaveLocalOffer {
		log.Debug().Str("module", "client.link").Str("state", string(l.state)).Msg("stale answer ignored")
		return nil
	}
	if err := l.conn.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	l.state = LinkStable
	l.flushCandidatesLocked()
	return nil
}

// HandleCandidate applies a trickled connectivity candidate, or queues it
// until the remote description is in place. Queued candidates are never
// dropped while negotiation is alive.
func (l *PeerLink) HandleCandidate(payload json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed || l.state == LinkFailed {
		return nil
	}
	if !l.remoteSet {
		l.pending = append(l.pending, ci)
		return nil
	}
	if err := l.conn.AddICECandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "client.link").Msg("add candidate")
	}
	return nil
}

// flushCandidatesLocked applies every buffered candidate in receipt order.
// Called whenever the remote description transitions from unset to set.
func (l *PeerLink) flushCandidatesLocked() {
	l.remoteSet = true
	for _, ci := range l.pending {
		if err := l.conn.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "client.link").Msg("flush candidate")
		}
	}
	l.pending = nil
}

func (l *PeerLink) sendCandidate(ci webrtc.ICECandidateInit) {
	l.mu.Lock()
	dead := l.state == LinkClosed || l.state == LinkFailed
	l.mu.Unlock()
	if dead {
		// Gathering completions may trail the teardown; a closed link
		// sends nothing.
		return
	}
	body, err := json.Marshal(ci)
	if err != nil {
		return
	}
	if err := l.sig.SendSignal(&wire.Signal{Type: wire.TypeICECandidate, To: l.remoteID, Candidate: body}); err != nil {
		log.Debug().Err(err).Str("module", "client.link").Msg("send candidate")
	}
}

// handleConnState reacts to connectivity transitions of the underlying
// connection. On the first failure it attempts a single in-place ICE
// restart; a second failure closes the link. There is no automatic
// re-offer beyond that; a fresh userJoined is what re-establishes a peer.
func (l *PeerLink) handleConnState(s webrtc.PeerConnectionState) {
	log.Info().Str("module", "client.link").Str("remote", string(l.remoteID)).Str("conn_state", s.String()).Msg("connection state")

	switch s {
	case webrtc.PeerConnectionStateFailed:
		l.mu.Lock()
		if l.state == LinkClosed {
			l.mu.Unlock()
			return
		}
		if !l.restarted {
			l.restarted = true
			if err := l.offerLocked(true); err == nil {
				l.mu.Unlock()
				return
			}
		}
		l.state = LinkFailed
		l.mu.Unlock()
		l.Close()
	case webrtc.PeerConnectionStateClosed:
		l.Close()
	}
}

// Close tears the link down: the underlying connection is released and all
// negotiation state and buffered candidates are discarded. Idempotent.
func (l *PeerLink) Close() {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkClosed
	l.pending = nil
	l.mu.Unlock()

	_ = l.conn.Close()
	if l.onClosed != nil {
		l.onClosed(l.remoteID)
	}
}
