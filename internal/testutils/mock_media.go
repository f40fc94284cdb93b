package testutils

import (
	"context"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
)

type MockTrack struct {
	mu      sync.Mutex
	id      string
	kind    domain.MediaKind
	enabled bool
	stopped bool
}

func NewMockTrack(id string, kind domain.MediaKind) *MockTrack {
	return &MockTrack{id: id, kind: kind, enabled: true}
}

func (t *MockTrack) ID() string             { return t.id }
func (t *MockTrack) Kind() domain.MediaKind { return t.kind }

func (t *MockTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *MockTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *MockTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *MockTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type MockStream struct {
	Audio []*MockTrack
	Video []*MockTrack
}

// NewMockStream returns a stream with one audio and one video track.
func NewMockStream() *MockStream {
	return &MockStream{
		Audio: []*MockTrack{NewMockTrack("mic", domain.MediaAudio)},
		Video: []*MockTrack{NewMockTrack("cam", domain.MediaVideo)},
	}
}

func (s *MockStream) ID() string { return "local" }

func (s *MockStream) AudioTracks() []ports.MediaTrack {
	out := make([]ports.MediaTrack, 0, len(s.Audio))
	for _, t := range s.Audio {
		out = append(out, t)
	}
	return out
}

func (s *MockStream) VideoTracks() []ports.MediaTrack {
	out := make([]ports.MediaTrack, 0, len(s.Video))
	for _, t := range s.Video {
		out = append(out, t)
	}
	return out
}

func (s *MockStream) Stop() {
	for _, t := range s.Audio {
		t.Stop()
	}
	for _, t := range s.Video {
		t.Stop()
	}
}

type MockRemoteStream struct {
	Peer domain.PeerID
}

func (s *MockRemoteStream) ID() string                { return "remote-" + string(s.Peer) }
func (s *MockRemoteStream) RemotePeer() domain.PeerID { return s.Peer }
func (s *MockRemoteStream) Kinds() []domain.MediaKind {
	return []domain.MediaKind{domain.MediaAudio, domain.MediaVideo}
}

// MockDevices hands out Stream, or fails with Err.
type MockDevices struct {
	Stream   *MockStream
	Err      error
	Requests int
}

func (d *MockDevices) RequestAudioVideo(ctx context.Context) (ports.MediaStream, error) {
	d.Requests++
	if d.Err != nil {
		return nil, d.Err
	}
	if d.Stream == nil {
		d.Stream = NewMockStream()
	}
	return d.Stream, nil
}

// MockGeolocator returns queued results in order; the last one repeats.
type MockGeolocator struct {
	mu      sync.Mutex
	Results []GeoResult
	Seen    []ports.PositionOptions
}

type GeoResult struct {
	Position ports.Position
	Err      error
}

func (g *MockGeolocator) CurrentPosition(ctx context.Context, opts ports.PositionOptions) (ports.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Seen = append(g.Seen, opts)
	if len(g.Results) == 0 {
		return ports.Position{}, &domain.PositionError{Code: domain.PositionUnavailable, Message: "no fix"}
	}
	r := g.Results[0]
	if len(g.Results) > 1 {
		g.Results = g.Results[1:]
	}
	return r.Position, r.Err
}
