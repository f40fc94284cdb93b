package ports

import (
	"context"

	"peerlink/internal/core/domain"
)

type MediaTrack interface {
	ID() string
	Kind() domain.MediaKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// MediaStream is the local camera + microphone stream shared by the call and
// the local preview.
type MediaStream interface {
	ID() string
	AudioTracks() []MediaTrack
	VideoTracks() []MediaTrack
	Stop()
}

type RemoteStream interface {
	ID() string
	RemotePeer() domain.PeerID
	Kinds() []domain.MediaKind
}

type MediaDevices interface {
	// RequestAudioVideo returns domain.ErrMediaDenied when access is refused.
	RequestAudioVideo(ctx context.Context) (MediaStream, error)
}
