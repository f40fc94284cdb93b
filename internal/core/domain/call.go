package domain

import "time"

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// CallSession is the single active audio/video call.
type CallSession struct {
	CallID       string
	RemotePeer   PeerID
	Direction    ConnectionDirection
	AudioEnabled bool
	VideoEnabled bool
	StartedAt    time.Time
}
