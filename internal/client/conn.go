package client

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// MediaConn abstracts the direct media connection a peer link owns. The
// pion implementation below is the production one; tests drive the link
// state machine through a fake.
type MediaConn interface {
	AttachTracks(audio, video webrtc.TrackLocal) error
	// ReplaceVideoTrack swaps the outgoing video track in place on an
	// established link; no renegotiation results.
	ReplaceVideoTrack(t webrtc.TrackLocal) error

	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// Rollback abandons the pending local offer, returning the underlying
	// connection to a stable signaling state.
	Rollback() error
	AddICECandidate(webrtc.ICECandidateInit) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))

	Close() error
}

// ConnFactory builds a MediaConn for a new peer link.
type ConnFactory func() (MediaConn, error)

// NewPionFactory returns a ConnFactory producing pion PeerConnections
// configured with the given STUN/TURN URLs (opaque strings from config).
func NewPionFactory(iceServers []string) ConnFactory {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return func() (MediaConn, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}
		return &pionConn{pc: pc}, nil
	}
}

// pionConn adapts *webrtc.PeerConnection to MediaConn, keeping the RTP
// senders so the video track can be replaced in place.
type pionConn struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	videoSender *webrtc.RTPSender
}

func (c *pionConn) AttachTracks(audio, video webrtc.TrackLocal) error {
	if audio != nil {
		if _, err := c.pc.AddTrack(audio); err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
	}
	if video != nil {
		sender, err := c.pc.AddTrack(video)
		if err != nil {
			return fmt.Errorf("add video track: %w", err)
		}
		c.mu.Lock()
		c.videoSender = sender
		c.mu.Unlock()
	}
	return nil
}

func (c *pionConn) ReplaceVideoTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	sender := c.videoSender
	c.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("no video sender on this link")
	}
	return sender.ReplaceTrack(t)
}

func (c *pionConn) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	return c.pc.CreateOffer(opts)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(sd)
}

func (c *pionConn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sd)
}

func (c *pionConn) Rollback() error {
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (c *pionConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *pionConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks the end of gathering; trickle consumers only want
		// real candidates.
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

func (c *pionConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *pionConn) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.pc.OnTrack(fn)
}

func (c *pionConn) Close() error {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("peer connection close")
		return err
	}
	return nil
}
