package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/wire"
)

type fakeMediaConn struct {
	mu            sync.Mutex
	offers        int
	restartOffers int
	rollbacks     int
	closed        bool
	localDescs    []webrtc.SessionDescription
	remoteDescs   []webrtc.SessionDescription
	candidates    []webrtc.ICECandidateInit
	attachedVideo webrtc.TrackLocal
	replaced      []webrtc.TrackLocal

	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func (c *fakeMediaConn) AttachTracks(audio, video webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachedVideo = video
	return nil
}

func (c *fakeMediaConn) ReplaceVideoTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replaced = append(c.replaced, t)
	return nil
}

func (c *fakeMediaConn) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
	if iceRestart {
		c.restartOffers++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", c.offers)}, nil
}

func (c *fakeMediaConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (c *fakeMediaConn) SetLocalDescription(sd webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localDescs = append(c.localDescs, sd)
	return nil
}

func (c *fakeMediaConn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteDescs = append(c.remoteDescs, sd)
	return nil
}

func (c *fakeMediaConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbacks++
	return nil
}

func (c *fakeMediaConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *fakeMediaConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }
func (c *fakeMediaConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.onState = fn
}
func (c *fakeMediaConn) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) { c.onTrack = fn }

func (c *fakeMediaConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type fakeSender struct {
	mu      sync.Mutex
	signals []*wire.Signal
}

func (s *fakeSender) SendSignal(sig *wire.Signal) error {
	s.mu.Lock()
	s.signals = append(s.signals, sig)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) byType(typ string) []*wire.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*wire.Signal
	for _, sig := range s.signals {
		if sig.Type == typ {
			out = append(out, sig)
		}
	}
	return out
}

func sdpPayload(t *testing.T, typ webrtc.SDPType, sdp string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(webrtc.SessionDescription{Type: typ, SDP: sdp})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func candidatePayload(t *testing.T, cand string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(webrtc.ICECandidateInit{Candidate: cand})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newTestLink(local, remote domain.UserID) (*PeerLink, *fakeMediaConn, *fakeSender) {
	conn := &fakeMediaConn{}
	sender := &fakeSender{}
	l := newPeerLink(local, remote, conn, sender, nil)
	return l, conn, sender
}

func TestOfferTransitionsAndAddresses(t *testing.T) {
	l, conn, sender := newTestLink("alice", "bob")

	if err := l.Offer(); err != nil {
		t.Fatal(err)
	}
	if l.State() != LinkHaveLocalOffer {
		t.Fatalf("state = %v, want have-local-offer", l.State())
	}
	if len(conn.localDescs) != 1 {
		t.Fatalf("local descriptions = %d, want 1", len(conn.localDescs))
	}
	offers := sender.byType(wire.TypeOffer)
	if len(offers) != 1 || offers[0].To != "bob" {
		t.Fatalf("sent offers = %+v, want one addressed to bob", offers)
	}

	// Another Offer while one is pending is a no-op.
	if err := l.Offer(); err != nil {
		t.Fatal(err)
	}
	if got := len(sender.byType(wire.TypeOffer)); got != 1 {
		t.Fatalf("pending-state Offer sent another offer (%d total)", got)
	}
}

func TestIncomingOfferAnswered(t *testing.T) {
	l, conn, sender := newTestLink("bob", "alice")

	if err := l.HandleOffer(sdpPayload(t, webrtc.SDPTypeOffer, "o1")); err != nil {
		t.Fatal(err)
	}
	if l.State() != LinkStable {
		t.Fatalf("state = %v, want stable", l.State())
	}
	if len(conn.remoteDescs) != 1 || conn.remoteDescs[0].SDP != "o1" {
		t.Fatalf("remote descriptions = %+v", conn.remoteDescs)
	}
	answers := sender.byType(wire.TypeAnswer)
	if len(answers) != 1 || answers[0].To != "alice" {
		t.Fatalf("sent answers = %+v, want one addressed to alice", answers)
	}
}

func TestGlareLowerIdentityRollsBackAndAnswers(t *testing.T) {
	l, conn, sender := newTestLink("alice", "bob") // alice < bob

	if err := l.Offer(); err != nil {
		t.Fatal(err)
	}
	if err := l.HandleOffer(sdpPayload(t, webrtc.SDPTypeOffer, "bob-offer")); err != nil {
		t.Fatal(err)
	}

	if conn.rollbacks != 1 {
		t.Fatalf("rollbacks = %d, want 1", conn.rollbacks)
	}
	if l.State() != LinkStable {
		t.Fatalf("state = %v, want stable after accepting the winning offer", l.State())
	}
	if got := len(sender.byType(wire.TypeAnswer)); got != 1 {
		t.Fatalf("answers sent = %d, want 1", got)
	}
}

func TestGlareHigherIdentityIgnoresAndWins(t *testing.T) {
	l, conn, sender := newTestLink("bob", "alice") // bob > alice

	if err := l.Offer(); err != nil {
		t.Fatal(err)
	}
	if err := l.HandleOffer(sdpPayload(t, webrtc.SDPTypeOffer, "alice-offer")); err != nil {
		t.Fatal(err)
	}

	if conn.rollbacks != 0 {
		t.Fatalf("higher identity rolled back (%d times)", conn.rollbacks)
	}
	if l.State() != LinkHaveLocalOffer {
		t.Fatalf("state = %v, want have-local-offer while waiting for the answer", l.State())
	}
	if got := len(sender.byType(wire.TypeAnswer)); got != 0 {
		t.Fatalf("higher identity answered the losing offer (%d answers)", got)
	}

	if err := l.HandleAnswer(sdpPayload(t, webrtc.SDPTypeAnswer, "alice-answer")); err != nil {
		t.Fatal(err)
	}
	if l.State() != LinkStable {
		t.Fatalf("state = %v, want stable after answer", l.State())
	}
}

func TestStaleAnswerIgnored(t *testing.T) {
	l, conn, _ := newTestLink("alice", "bob")

	if err := l.HandleAnswer(sdpPayload(t, webrtc.SDPTypeAnswer, "stale")); err != nil {
		t.Fatal(err)
	}
	if len(conn.remoteDescs) != 0 {
		t.Fatalf("stale answer applied: %+v", conn.remoteDescs)
	}
	if l.State() != LinkIdle {
		t.Fatalf("state = %v, want idle", l.State())
	}
}

func TestCandidatesBufferedUntilRemoteDescriptionThenOrdered(t *testing.T) {
	l, conn, _ := newTestLink("bob", "alice")

	for i := 1; i <= 3; i++ {
		if err := l.HandleCandidate(candidatePayload(t, fmt.Sprintf("c%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	if len(conn.candidates) != 0 {
		t.Fatalf("candidates applied before remote description: %+v", conn.candidates)
	}

	if err := l.HandleOffer(sdpPayload(t, webrtc.SDPTypeOffer, "o1")); err != nil {
		t.Fatal(err)
	}
	if err := l.HandleCandidate(candidatePayload(t, "c4")); err != nil {
		t.Fatal(err)
	}

	want := []string{"c1", "c2", "c3", "c4"}
	if len(conn.candidates) != len(want) {
		t.Fatalf("candidates = %+v, want %v", conn.candidates, want)
	}
	for i, ci := range conn.candidates {
		if ci.Candidate != want[i] {
			t.Fatalf("candidate[%d] = %q, want %q (receipt order)", i, ci.Candidate, want[i])
		}
	}
}

func TestLocalCandidateSentToRemote(t *testing.T) {
	_, conn, sender := newTestLink("alice", "bob")

	conn.onICE(webrtc.ICECandidateInit{Candidate: "local-c1"})

	sigs := sender.byType(wire.TypeICECandidate)
	if len(sigs) != 1 || sigs[0].To != "bob" {
		t.Fatalf("candidate signals = %+v, want one addressed to bob", sigs)
	}
}

func TestFailureRestartsOnceThenCloses(t *testing.T) {
	var closedRemote domain.UserID
	conn := &fakeMediaConn{}
	sender := &fakeSender{}
	l := newPeerLink("alice", "bob", conn, sender, func(remote domain.UserID) { closedRemote = remote })

	if err := l.Offer(); err != nil {
		t.Fatal(err)
	}
	if err := l.HandleAnswer(sdpPayload(t, webrtc.SDPTypeAnswer, "a1")); err != nil {
		t.Fatal(err)
	}

	conn.onState(webrtc.PeerConnectionStateFailed)
	if conn.restartOffers != 1 {
		t.Fatalf("restart offers = %d, want 1", conn.restartOffers)
	}
	if l.State() != LinkHaveLocalOffer {
		t.Fatalf("state = %v, want have-local-offer during restart", l.State())
	}

	conn.onState(webrtc.PeerConnectionStateFailed)
	if l.State() != LinkClosed {
		t.Fatalf("state = %v, want closed after second failure", l.State())
	}
	if !conn.closed {
		t.Fatal("underlying connection not closed")
	}
	if closedRemote != "bob" {
		t.Fatalf("onClosed remote = %q, want bob", closedRemote)
	}
}

func TestClosedLinkEmitsNothing(t *testing.T) {
	l, conn, sender := newTestLink("alice", "bob")

	if err := l.Offer(); err != nil {
		t.Fatal(err)
	}
	l.Close()

	// Gathering completions that trail the teardown stay local.
	conn.onICE(webrtc.ICECandidateInit{Candidate: "late"})
	if got := len(sender.byType(wire.TypeICECandidate)); got != 0 {
		t.Fatalf("closed link sent %d candidate signals", got)
	}
}

func TestCloseIdempotentAndTerminal(t *testing.T) {
	closes := 0
	conn := &fakeMediaConn{}
	l := newPeerLink("alice", "bob", conn, &fakeSender{}, func(domain.UserID) { closes++ })

	l.Close()
	l.Close()
	if closes != 1 {
		t.Fatalf("onClosed fired %d times, want 1", closes)
	}

	// Terminal: no event revives the link.
	if err := l.HandleOffer(sdpPayload(t, webrtc.SDPTypeOffer, "late")); err != nil {
		t.Fatal(err)
	}
	if err := l.HandleCandidate(candidatePayload(t, "late")); err != nil {
		t.Fatal(err)
	}
	if l.State() != LinkClosed {
		t.Fatalf("state = %v, want closed", l.State())
	}
	if len(conn.remoteDescs) != 0 || len(conn.candidates) != 0 {
		t.Fatal("closed link still applied negotiation input")
	}
}
