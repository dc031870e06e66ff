package client

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrMediaAccessDenied is returned by a media factory when capture is
// refused or no device exists. StartCall surfaces it without announcing
// anything to the room.
var ErrMediaAccessDenied = errors.New("media access denied")

// MediaSource supplies the local tracks attached to every peer link. The
// stream is shared read-only across links; links attach tracks but never
// mutate the source; toggling and replacement go through the session,
// which applies them to all links uniformly.
type MediaSource interface {
	AudioTrack() webrtc.TrackLocal
	VideoTrack() webrtc.TrackLocal
	// SetAudioEnabled / SetVideoEnabled flip the producer-side enabled
	// flags. No renegotiation happens: a disabled track keeps its senders
	// and is only observable remotely as silence/blank frames.
	SetAudioEnabled(bool)
	SetVideoEnabled(bool)
	Close() error
}

// MediaFactory acquires a capture source. Implementations wrap whatever
// device API is available; factories report ErrMediaAccessDenied when the
// user refuses or no device is present.
type MediaFactory func() (MediaSource, error)

// SampleSource is a MediaSource backed by static sample tracks. Producers
// (capture loops, file readers, test drivers) write samples into the tracks
// and consult the enabled flags.
type SampleSource struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mu       sync.RWMutex
	audioOn  bool
	videoOn  bool
	closed   bool
	closeFns []func() error
}

// NewSampleSource builds an Opus audio track and a VP8 video track under
// the given stream ID.
func NewSampleSource(streamID string) (*SampleSource, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, err
	}
	return &SampleSource{audio: audio, video: video, audioOn: true, videoOn: true}, nil
}

func (s *SampleSource) AudioTrack() webrtc.TrackLocal { return s.audio }
func (s *SampleSource) VideoTrack() webrtc.TrackLocal { return s.video }

// AudioSampleTrack exposes the concrete track for producers.
func (s *SampleSource) AudioSampleTrack() *webrtc.TrackLocalStaticSample { return s.audio }

// VideoSampleTrack exposes the concrete track for producers.
func (s *SampleSource) VideoSampleTrack() *webrtc.TrackLocalStaticSample { return s.video }

func (s *SampleSource) SetAudioEnabled(on bool) {
	s.mu.Lock()
	s.audioOn = on
	s.mu.Unlock()
}

func (s *SampleSource) SetVideoEnabled(on bool) {
	s.mu.Lock()
	s.videoOn = on
	s.mu.Unlock()
}

// AudioEnabled is consulted by producers before writing samples.
func (s *SampleSource) AudioEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioOn
}

// VideoEnabled is consulted by producers before writing samples.
func (s *SampleSource) VideoEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videoOn
}

// OnClose registers a producer teardown invoked by Close.
func (s *SampleSource) OnClose(fn func() error) {
	s.mu.Lock()
	s.closeFns = append(s.closeFns, fn)
	s.mu.Unlock()
}

func (s *SampleSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	fns := s.closeFns
	s.closeFns = nil
	s.mu.Unlock()

	var err error
	for _, fn := range fns {
		err = errors.Join(err, fn())
	}
	return err
}
