package notify

import (
	"sync"
	"time"

	"peerlink/internal/core/ports"
)

// IdleFocus treats the user as looking at the client until no input was
// seen for the idle timeout.
type IdleFocus struct {
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

var _ ports.FocusState = (*IdleFocus)(nil)

func NewIdleFocus(timeout time.Duration, clock ports.Clock) *IdleFocus {
	f := &IdleFocus{timeout: timeout, now: time.Now}
	if clock != nil {
		f.now = clock.Now
	}
	f.lastSeen = f.now()
	return f
}

func (f *IdleFocus) HasFocus() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Sub(f.lastSeen) < f.timeout
}

// Focus records user activity.
func (f *IdleFocus) Focus() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen = f.now()
}
