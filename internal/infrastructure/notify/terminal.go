package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"peerlink/internal/core/ports"

	"go.uber.org/zap"
)

// TerminalPlatform shows notifications as highlighted lines on a terminal
// and rings the bell for alerts. Notifications sharing a tag replace each
// other: a repeat is shown only when Renotify is set.
type TerminalPlatform struct {
	out     io.Writer
	enabled bool

	mu   sync.Mutex
	tags map[string]bool
}

var _ ports.NotificationPlatform = (*TerminalPlatform)(nil)

func NewTerminalPlatform(out io.Writer, enabled bool) *TerminalPlatform {
	return &TerminalPlatform{out: out, enabled: enabled, tags: make(map[string]bool)}
}

func (p *TerminalPlatform) RequestPermission(ctx context.Context) (bool, error) {
	return p.enabled, nil
}

func (p *TerminalPlatform) Show(n ports.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n.Tag != "" {
		if p.tags[n.Tag] && !n.Renotify {
			return nil
		}
		p.tags[n.Tag] = true
	}

	var b strings.Builder
	b.WriteString("*** ")
	b.WriteString(n.Title)
	if n.Body != "" {
		b.WriteString(": ")
		b.WriteString(n.Body)
	}
	b.WriteString(" ***\n")
	if !n.Silent {
		b.WriteString("\a")
	}
	_, err := io.WriteString(p.out, b.String())
	return err
}

func (p *TerminalPlatform) PlayAlert() error {
	_, err := io.WriteString(p.out, "\a")
	return err
}

// BusPlatform shows notifications locally and forwards them to the bus so
// background notifiers see them too.
type BusPlatform struct {
	ports.NotificationPlatform
	bus     *Bus
	timeout time.Duration
	logger  *zap.SugaredLogger
}

func NewBusPlatform(local ports.NotificationPlatform, bus *Bus, logger *zap.SugaredLogger) *BusPlatform {
	return &BusPlatform{NotificationPlatform: local, bus: bus, timeout: 2 * time.Second, logger: logger}
}

func (p *BusPlatform) Show(n ports.Notification) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.bus.Publish(ctx, n); err != nil {
		p.logger.Warnw("Notification not forwarded", "error", err)
	}
	return p.NotificationPlatform.Show(n)
}

// FormatMessage renders a bus notification for the notifier process.
func FormatMessage(m *Message) string {
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("15:04:05"), m.Title, m.Body)
}
