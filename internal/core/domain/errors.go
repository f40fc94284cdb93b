package domain

import "errors"

var (
	ErrEmptyPeerID       = errors.New("peer id is empty")
	ErrAlreadyConnected  = errors.New("already connected to peer")
	ErrSessionBusy       = errors.New("a session is already open")
	ErrNotConnected      = errors.New("not connected to any peer")
	ErrNoPreviousPeer    = errors.New("no previous connection")
	ErrNotInitialized    = errors.New("local peer not initialized")
	ErrMediaDenied       = errors.New("media access denied")
	ErrNoLocalMedia      = errors.New("no local media")
	ErrCallActive        = errors.New("call already in progress")
	ErrNoActiveCall      = errors.New("no active call")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrIdentityMissing   = errors.New("identity missing")
	ErrUnknownKind       = errors.New("unknown payload kind")
	ErrPositionFailed    = errors.New("position unavailable")
	ErrTransportNotReady = errors.New("transport not ready")
)
