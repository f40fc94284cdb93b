package signal

import (
	"encoding/json"
	"fmt"

	"peerlink/internal/core/domain"
)

type MessageType string

const (
	// server -> client
	MsgOpen    MessageType = "OPEN"
	MsgIDTaken MessageType = "ID-TAKEN"
	MsgError   MessageType = "ERROR"
	MsgExpire  MessageType = "EXPIRE"

	// client -> server
	MsgHeartbeat MessageType = "HEARTBEAT"

	// relayed between clients
	MsgOffer     MessageType = "OFFER"
	MsgAnswer    MessageType = "ANSWER"
	MsgCandidate MessageType = "CANDIDATE"
	MsgLeave     MessageType = "LEAVE"
)

// Message is the envelope of every signaling frame. The server stamps Src on
// relayed messages; clients only set Dst.
type Message struct {
	Type    MessageType     `json:"type"`
	Src     domain.PeerID   `json:"src,omitempty"`
	Dst     domain.PeerID   `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectionType tells which kind of peer connection an offer belongs to.
type ConnectionType string

const (
	ConnectionData  ConnectionType = "data"
	ConnectionMedia ConnectionType = "media"
)

type OfferPayload struct {
	SDP           string         `json:"sdp"`
	ConnectionID  string         `json:"connectionId"`
	Type          ConnectionType `json:"type"`
	Label         string         `json:"label,omitempty"`
	Reliable      bool           `json:"reliable,omitempty"`
	Serialization string         `json:"serialization,omitempty"`
	Probe         bool           `json:"probe,omitempty"`
}

type AnswerPayload struct {
	SDP          string         `json:"sdp"`
	ConnectionID string         `json:"connectionId"`
	Type         ConnectionType `json:"type"`
}

type CandidatePayload struct {
	Candidate     string         `json:"candidate"`
	SDPMid        *string        `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16        `json:"sdpMLineIndex,omitempty"`
	ConnectionID  string         `json:"connectionId"`
	Type          ConnectionType `json:"type"`
}

// LeavePayload is optional on LEAVE; without a ConnectionID every connection
// with the sender is gone.
type LeavePayload struct {
	ConnectionID string `json:"connectionId,omitempty"`
}

type OpenPayload struct {
	Token string `json:"token"`
}

type ErrorPayload struct {
	Msg string `json:"msg"`
}

// NewMessage builds a message with payload encoded as JSON.
func NewMessage(typ MessageType, dst domain.PeerID, payload interface{}) (Message, error) {
	msg := Message{Type: typ, Dst: dst}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", m.Type, err)
	}
	return nil
}

func isRelayed(t MessageType) bool {
	switch t {
	case MsgOffer, MsgAnswer, MsgCandidate, MsgLeave:
		return true
	}
	return false
}
