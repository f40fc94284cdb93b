package ports

import (
	"context"

	"peerlink/internal/core/domain"
)

type EventType string

const (
	EventLocalIDReady      EventType = "local_id_ready"
	EventInitError         EventType = "init_error"
	EventInboundConnection EventType = "inbound_connection"
	EventChannelOpen       EventType = "channel_open"
	EventChannelData       EventType = "channel_data"
	EventChannelClose      EventType = "channel_close"
	EventChannelError      EventType = "channel_error"
	EventInboundCall       EventType = "inbound_call"
	EventRemoteStream      EventType = "remote_stream"
	EventCallClose         EventType = "call_close"
)

// Event is one callback from the peer transport. Only the fields relevant to
// Type are set.
type Event struct {
	Type    EventType
	LocalID domain.PeerID
	Channel DataChannel
	Call    MediaCall
	Stream  RemoteStream
	Payload *domain.Payload
	Err     error
}

type Serialization string

const (
	SerializationJSON Serialization = "json"
	SerializationNone Serialization = "none"
)

type ConnectOptions struct {
	Reliable      bool
	Serialization Serialization
	// Probe marks a throwaway reachability connection. The remote transport
	// answers it without surfacing an inbound connection.
	Probe bool
}

type DataChannel interface {
	ID() string
	RemotePeer() domain.PeerID
	Probe() bool
	Send(payload *domain.Payload) error
	Close() error
}

type MediaCall interface {
	ID() string
	RemotePeer() domain.PeerID
	Answer(stream MediaStream) error
	Close() error
}

// Transport is the signaling + data channel + media call abstraction. Results of
// asynchronous work are delivered on Events.
type Transport interface {
	Initialize(ctx context.Context, localID domain.PeerID) error
	ConnectTo(ctx context.Context, remote domain.PeerID, opts ConnectOptions) (DataChannel, error)
	CallWith(ctx context.Context, remote domain.PeerID, stream MediaStream) (MediaCall, error)
	// Ready reports whether the local id is live on the signaling server.
	Ready() bool
	Events() <-chan Event
	Close() error
}
