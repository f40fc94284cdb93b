package services

import (
	"context"
	"time"

	"peerlink/internal/core/ports"

	"go.uber.org/zap"
)

const notificationTag = "peerlink-notification"

var defaultVibrate = []int{200, 100, 200}

// NotificationGate drops notifications unless permission was granted, the
// user is away, and the global cooldown has passed. Nothing is queued.
type NotificationGate struct {
	platform ports.NotificationPlatform
	focus    ports.FocusState
	clock    ports.Clock
	metrics  ports.Metrics
	logger   *zap.SugaredLogger

	cooldown time.Duration
	icon     string

	granted   bool
	lastShown time.Time
}

func NewNotificationGate(
	platform ports.NotificationPlatform,
	focus ports.FocusState,
	clock ports.Clock,
	metrics ports.Metrics,
	cooldown time.Duration,
	icon string,
	logger *zap.SugaredLogger,
) *NotificationGate {
	return &NotificationGate{
		platform: platform,
		focus:    focus,
		clock:    clock,
		metrics:  metrics,
		cooldown: cooldown,
		icon:     icon,
		logger:   logger,
	}
}

// Init asks the platform for permission once.
func (g *NotificationGate) Init(ctx context.Context) {
	granted, err := g.platform.RequestPermission(ctx)
	if err != nil {
		g.logger.Warnw("Notification permission request failed", "error", err)
		return
	}
	g.granted = granted
	g.logger.Debugw("Notification permission", "granted", granted)
}

func (g *NotificationGate) Granted() bool {
	return g.granted
}

// Notify shows title/body unless suppressed and reports whether it was shown.
func (g *NotificationGate) Notify(title, body string, opts ports.NotifyOptions) bool {
	if !g.granted {
		g.metrics.NotificationSuppressed("permission")
		return false
	}
	if g.focus.HasFocus() {
		g.metrics.NotificationSuppressed("focus")
		return false
	}

	now := g.clock.Now()
	if !g.lastShown.IsZero() && now.Sub(g.lastShown) < g.cooldown {
		g.metrics.NotificationSuppressed("cooldown")
		return false
	}
	g.lastShown = now

	icon := g.icon
	if opts.Icon != "" {
		icon = opts.Icon
	}
	n := ports.Notification{
		Title:    title,
		Body:     body,
		Icon:     icon,
		Tag:      notificationTag,
		Renotify: true,
		Vibrate:  defaultVibrate,
		OnClick:  g.focus.Focus,
	}
	if err := g.platform.Show(n); err != nil {
		g.logger.Warnw("Failed to show notification", "title", title, "error", err)
	}
	if err := g.platform.PlayAlert(); err != nil {
		g.logger.Debugw("Alert playback failed", "error", err)
	}
	g.metrics.NotificationShown()
	return true
}
