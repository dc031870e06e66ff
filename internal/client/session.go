package client

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/wire"
)

// SessionTransport is what a session needs from the signaling channel:
// addressed negotiation messages and call-membership announcements.
type SessionTransport interface {
	SignalSender
	SendPresence(p *wire.Presence) error
}

// Session drives one participant's call inside one room: it acquires local
// media, announces call membership, and owns the peer links to every other
// call member. Membership events, not startCall, drive link creation: the
// fresh existingParticipants snapshot after announcing avoids duplicate-offer
// races, and any remaining simultaneity is resolved by the links' glare rule.
type Session struct {
	room        domain.RoomID
	identity    domain.UserID
	displayName string

	transport SessionTransport
	media     MediaFactory
	conns     ConnFactory

	onTrack func(remote domain.UserID, track *webrtc.TrackRemote, recv *webrtc.RTPReceiver)

	mu      sync.Mutex
	active  bool
	source  MediaSource
	links   map[domain.UserID]*PeerLink
	known   map[domain.UserID]string
	sharing bool
	screen  webrtc.TrackLocal
}

func NewSession(room domain.RoomID, user domain.User, transport SessionTransport, media MediaFactory, conns ConnFactory) *Session {
	return &Session{
		room:        room,
		identity:    user.ID,
		displayName: user.DisplayName,
		transport:   transport,
		media:       media,
		conns:       conns,
		links:       make(map[domain.UserID]*PeerLink),
		known:       make(map[domain.UserID]string),
	}
}

// OnRemoteTrack registers the consumer for incoming media. Set before
// StartCall; links created afterwards wire it into their connections.
func (s *Session) OnRemoteTrack(fn func(remote domain.UserID, track *webrtc.TrackRemote, recv *webrtc.RTPReceiver)) {
	s.mu.Lock()
	s.onTrack = fn
	s.mu.Unlock()
}

// Active reports whether the local participant is currently in the call.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Participants returns the current view of call membership, excluding the
// local identity.
func (s *Session) Participants() []wire.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Participant, 0, len(s.known))
	for id, name := range s.known {
		out = append(out, wire.Participant{Identity: id, DisplayName: name})
	}
	return out
}

// StartCall acquires local capture and announces call membership. Media
// failure (ErrMediaAccessDenied) is surfaced before anything is announced.
// No links are created here; the resulting existingParticipants snapshot
// and later userJoined events drive them.
func (s *Session) StartCall() error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	source, err := s.media()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.source = source
	s.active = true
	s.mu.Unlock()

	err = s.transport.SendPresence(&wire.Presence{
		Type:        wire.TypeJoinCall,
		Room:        s.room,
		Identity:    s.identity,
		DisplayName: s.displayName,
	})
	if err != nil {
		s.mu.Lock()
		s.active = false
		s.source = nil
		s.mu.Unlock()
		_ = source.Close()
		return fmt.Errorf("announce call join: %w", err)
	}
	return nil
}

// EndCall closes every peer link, releases capture and announces the leave.
// Safe to call repeatedly or when no call is active.
func (s *Session) EndCall() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	links := s.links
	s.links = make(map[domain.UserID]*PeerLink)
	source := s.source
	s.source = nil
	s.sharing = false
	s.screen = nil
	s.mu.Unlock()

	for _, l := range links {
		l.Close()
	}
	if source != nil {
		_ = source.Close()
	}
	return s.transport.SendPresence(&wire.Presence{
		Type:        wire.TypeLeaveCall,
		Room:        s.room,
		Identity:    s.identity,
		DisplayName: s.displayName,
	})
}

// OnExistingParticipants handles the snapshot delivered once after joining:
// while the call is active, every listed identity gets a link and an offer.
// Received while inactive it only records membership.
func (s *Session) OnExistingParticipants(ep *wire.ExistingParticipants) {
	s.mu.Lock()
	var fresh []*PeerLink
	for _, p := range ep.Participants {
		if p.Identity == s.identity {
			continue
		}
		s.known[p.Identity] = p.DisplayName
		if !s.active {
			continue
		}
		if _, ok := s.links[p.Identity]; ok {
			continue
		}
		l, err := s.newLinkLocked(p.Identity)
		if err != nil {
			log.Error().Err(err).Str("module", "client.session").Str("remote", string(p.Identity)).Msg("create link")
			continue
		}
		fresh = append(fresh, l)
	}
	s.mu.Unlock()

	for _, l := range fresh {
		if err := l.Offer(); err != nil {
			log.Error().Err(err).Str("module", "client.session").Msg("offer")
		}
	}
}

// OnUserJoined records the newcomer and, while active, offers toward it.
// The newcomer will usually offer toward us too; the glare rule picks the
// survivor.
func (s *Session) OnUserJoined(d *wire.MembershipDelta) {
	if d.Identity == s.identity {
		return
	}
	s.mu.Lock()
	s.known[d.Identity] = d.DisplayName
	if !s.active {
		s.mu.Unlock()
		return
	}
	l, ok := s.links[d.Identity]
	if !ok {
		var err error
		if l, err = s.newLinkLocked(d.Identity); err != nil {
			s.mu.Unlock()
			log.Error().Err(err).Str("module", "client.session").Str("remote", string(d.Identity)).Msg("create link")
			return
		}
	}
	s.mu.Unlock()

	if err := l.Offer(); err != nil {
		log.Error().Err(err).Str("module", "client.session").Msg("offer")
	}
}

// OnUserLeft drops the departed identity's link, if any.
func (s *Session) OnUserLeft(d *wire.MembershipDelta) {
	s.mu.Lock()
	delete(s.known, d.Identity)
	l := s.links[d.Identity]
	delete(s.links, d.Identity)
	s.mu.Unlock()

	if l != nil {
		l.Close()
	}
}

// HandleSignal routes a relayed negotiation message to the link it belongs
// to. An incoming offer creates the link on demand; answers and candidates
// with no matching link are stale and dropped.
func (s *Session) HandleSignal(sig *wire.Signal) error {
	switch sig.Type {
	case wire.TypeOffer:
		s.mu.Lock()
		if !s.active {
			s.mu.Unlock()
			return nil
		}
		l, ok := s.links[sig.From]
		if !ok {
			var err error
			if l, err = s.newLinkLocked(sig.From); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("link for offer: %w", err)
			}
		}
		s.mu.Unlock()
		return l.HandleOffer(sig.Offer)
	case wire.TypeAnswer:
		if l := s.link(sig.From); l != nil {
			return l.HandleAnswer(sig.Answer)
		}
	case wire.TypeICECandidate:
		if l := s.link(sig.From); l != nil {
			return l.HandleCandidate(sig.Candidate)
		}
	}
	return nil
}

// SetMicEnabled flips the outgoing audio flag. The tracks and their senders
// stay attached; no renegotiation happens.
func (s *Session) SetMicEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != nil {
		s.source.SetAudioEnabled(on)
	}
}

// SetCameraEnabled flips the outgoing video flag, same contract as
// SetMicEnabled.
func (s *Session) SetCameraEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != nil {
		s.source.SetVideoEnabled(on)
	}
}

// StartScreenShare replaces the outgoing video with the given track on
// every live link. Links that refuse the swap keep their previous track;
// the share still proceeds on the rest.
func (s *Session) StartScreenShare(track webrtc.TrackLocal) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return fmt.Errorf("no active call")
	}
	if s.sharing {
		s.mu.Unlock()
		return nil
	}
	s.sharing = true
	s.screen = track
	links := s.snapshotLinksLocked()
	s.mu.Unlock()

	s.replaceVideo(links, track)
	return nil
}

// StopScreenShare restores the camera track on every live link.
func (s *Session) StopScreenShare() error {
	s.mu.Lock()
	if !s.sharing {
		s.mu.Unlock()
		return nil
	}
	s.sharing = false
	s.screen = nil
	var cam webrtc.TrackLocal
	if s.source != nil {
		cam = s.source.VideoTrack()
	}
	links := s.snapshotLinksLocked()
	s.mu.Unlock()

	if cam != nil {
		s.replaceVideo(links, cam)
	}
	return nil
}

func (s *Session) replaceVideo(links []*PeerLink, track webrtc.TrackLocal) {
	for _, l := range links {
		if err := l.conn.ReplaceVideoTrack(track); err != nil {
			log.Warn().Err(err).Str("module", "client.session").Str("remote", string(l.remoteID)).Msg("replace video track")
		}
	}
}

func (s *Session) link(remote domain.UserID) *PeerLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[remote]
}

func (s *Session) snapshotLinksLocked() []*PeerLink {
	out := make([]*PeerLink, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	return out
}

// newLinkLocked builds the media connection for one remote, attaches the
// current outgoing tracks and registers the link. Caller holds s.mu.
func (s *Session) newLinkLocked(remote domain.UserID) (*PeerLink, error) {
	conn, err := s.conns()
	if err != nil {
		return nil, fmt.Errorf("media connection: %w", err)
	}

	video := s.source.VideoTrack()
	if s.sharing && s.screen != nil {
		video = s.screen
	}
	if err := conn.AttachTracks(s.source.AudioTrack(), video); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("attach tracks: %w", err)
	}
	if fn := s.onTrack; fn != nil {
		conn.OnTrack(func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
			fn(remote, track, recv)
		})
	}

	l := newPeerLink(s.identity, remote, conn, s.transport, s.removeLink)
	s.links[remote] = l
	return l, nil
}

// removeLink is the links' onClosed hook: it drops the entry only if the
// stored link is the one that closed, so a replacement created in the
// meantime survives.
func (s *Session) removeLink(remote domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.links[remote]; ok && l.State() == LinkClosed {
		delete(s.links, remote)
	}
}
