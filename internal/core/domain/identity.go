package domain

type PeerID string

// SystemSender is the synthetic sender used for greetings and status lines.
const SystemSender = "System"

type Identity struct {
	PeerID      PeerID
	DisplayName string
}

func (i *Identity) Valid() bool {
	return i != nil && i.PeerID != "" && i.DisplayName != ""
}

type ReconnectIntent struct {
	LastPeer   PeerID
	Connecting bool
}
