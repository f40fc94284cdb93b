package media

import (
	"sync"
	"sync/atomic"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// TrackSource is a stream whose tracks can be sent over a peer connection.
type TrackSource interface {
	WebRTCTracks() []webrtc.TrackLocal
}

// localTrack is one file-backed capture track. While disabled no samples are
// written, which the remote sees as silence or a frozen frame.
type localTrack struct {
	kind    domain.MediaKind
	sample  *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool
	stop    func()
}

var _ ports.MediaTrack = (*localTrack)(nil)

func newLocalTrack(kind domain.MediaKind, sample *webrtc.TrackLocalStaticSample) *localTrack {
	t := &localTrack{kind: kind, sample: sample, stop: func() {}}
	t.enabled.Store(true)
	return t
}

func (t *localTrack) ID() string              { return t.sample.ID() }
func (t *localTrack) Kind() domain.MediaKind  { return t.kind }
func (t *localTrack) Enabled() bool           { return t.enabled.Load() }
func (t *localTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *localTrack) Stopped() bool           { return t.stopped.Load() }

func (t *localTrack) Stop() {
	if t.stopped.CompareAndSwap(false, true) {
		t.stop()
	}
}

// LocalStream is the local camera and microphone.
type LocalStream struct {
	id    string
	audio []*localTrack
	video []*localTrack

	stopOnce sync.Once
}

var (
	_ ports.MediaStream = (*LocalStream)(nil)
	_ TrackSource       = (*LocalStream)(nil)
)

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) AudioTracks() []ports.MediaTrack {
	out := make([]ports.MediaTrack, 0, len(s.audio))
	for _, t := range s.audio {
		out = append(out, t)
	}
	return out
}

func (s *LocalStream) VideoTracks() []ports.MediaTrack {
	out := make([]ports.MediaTrack, 0, len(s.video))
	for _, t := range s.video {
		out = append(out, t)
	}
	return out
}

func (s *LocalStream) WebRTCTracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.audio)+len(s.video))
	for _, t := range s.audio {
		out = append(out, t.sample)
	}
	for _, t := range s.video {
		out = append(out, t.sample)
	}
	return out
}

// Stop stops every track and releases the capture sources.
func (s *LocalStream) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.audio {
			t.Stop()
		}
		for _, t := range s.video {
			t.Stop()
		}
	})
}
