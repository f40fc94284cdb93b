package domain

import "time"

type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionConnecting SessionState = "connecting"
	SessionOpen       SessionState = "open"
	SessionClosed     SessionState = "closed"
)

type ConnectionDirection string

const (
	DirectionInbound  ConnectionDirection = "inbound"
	DirectionOutbound ConnectionDirection = "outbound"
)

// Session is the single logical chat connection to one remote peer.
type Session struct {
	RemotePeer PeerID
	ChannelID  string
	State      SessionState
	Direction  ConnectionDirection
	// Notified is set exactly once, on the first open of the channel.
	Notified  bool
	CreatedAt time.Time
	OpenedAt  time.Time
}

func (s *Session) IsOpen() bool {
	return s != nil && s.State == SessionOpen
}

// CanTransition reports whether the session state machine has an edge from -> to.
func CanTransition(from, to SessionState) bool {
	switch from {
	case SessionIdle, SessionClosed:
		return to == SessionConnecting
	case SessionConnecting:
		return to == SessionOpen || to == SessionClosed
	case SessionOpen:
		return to == SessionClosed
	}
	return false
}
