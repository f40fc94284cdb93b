package ports

import (
	"context"
	"time"

	"peerlink/internal/core/domain"
)

type Notification struct {
	Title    string
	Body     string
	Icon     string
	Tag      string
	Renotify bool
	Silent   bool
	Vibrate  []int
	OnClick  func()
}

// NotifyOptions overrides per-notification defaults. Zero fields keep the
// gate's defaults.
type NotifyOptions struct {
	Icon string
}

type NotificationPlatform interface {
	RequestPermission(ctx context.Context) (bool, error)
	Show(n Notification) error
	PlayAlert() error
}

// FocusState tracks whether the user is currently looking at the client.
type FocusState interface {
	HasFocus() bool
	Focus()
}

type LineKind string

const (
	LineSystem LineKind = "system"
	LineLocal  LineKind = "local"
	LineRemote LineKind = "remote"
	// LineRemoteSystem is a system-styled line whose text came from the peer.
	LineRemoteSystem LineKind = "remote_system"
)

type Renderer interface {
	AppendLine(text string, kind LineKind)
	ShowFile(filename string, data []byte, origin LineKind)
	ShowImage(filename string, data []byte, origin LineKind)
	ShowLocation(loc domain.Location, origin LineKind)
	ShowRemoteStream(stream RemoteStream)
	ClearRemoteStream()
	ClearLog()
}

type PositionOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
}

type Position struct {
	Lat       float64
	Lng       float64
	Accuracy  float64
	Timestamp time.Time
}

type Geolocator interface {
	CurrentPosition(ctx context.Context, opts PositionOptions) (Position, error)
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks later on the owner's event loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Every(d time.Duration, fn func()) Timer
}

type Clock interface {
	Now() time.Time
}

// Onboarder collects the identity on first run.
type Onboarder interface {
	PromptIdentity(ctx context.Context) (peerID string, displayName string, err error)
}

// Metrics records client-side counters. Implementations must be cheap; they
// are called on the event loop.
type Metrics interface {
	SessionOpened(direction domain.ConnectionDirection)
	SessionClosed(reason string)
	InboundRejected()
	ProbeResult(online bool)
	NotificationShown()
	NotificationSuppressed(reason string)
	CallOutcome(outcome string)
	PayloadRouted(kind domain.PayloadKind, direction string, size int)
}
