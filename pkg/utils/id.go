package utils

import "github.com/google/uuid"

// NewConnectionID returns a transport-level identifier for a data channel.
func NewConnectionID() string {
	return "dc_" + uuid.NewString()
}

// NewCallID returns an identifier for a media call.
func NewCallID() string {
	return "mc_" + uuid.NewString()
}
