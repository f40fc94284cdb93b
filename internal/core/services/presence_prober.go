package services

import (
	"context"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"go.uber.org/zap"
)

// sessionConnector is the slice of SessionManager the prober drives.
type sessionConnector interface {
	IsOpen() bool
	Connect(ctx context.Context, remote domain.PeerID) error
}

// PresenceProber watches one remembered peer with throwaway probe channels
// and reconnects when it comes back online while no session is open.
type PresenceProber struct {
	transport ports.Transport
	scheduler ports.Scheduler
	gate      *NotificationGate
	renderer  ports.Renderer
	metrics   ports.Metrics
	logger    *zap.SugaredLogger

	interval         time.Duration
	autoConnectDelay time.Duration

	sessions sessionConnector

	ctx        context.Context
	target     domain.PeerID
	lastOnline bool
	ticker     ports.Timer
	autoTimer  ports.Timer
	pending    ports.DataChannel
}

func NewPresenceProber(
	transport ports.Transport,
	scheduler ports.Scheduler,
	gate *NotificationGate,
	renderer ports.Renderer,
	metrics ports.Metrics,
	interval, autoConnectDelay time.Duration,
	logger *zap.SugaredLogger,
) *PresenceProber {
	return &PresenceProber{
		transport:        transport,
		scheduler:        scheduler,
		gate:             gate,
		renderer:         renderer,
		metrics:          metrics,
		interval:         interval,
		autoConnectDelay: autoConnectDelay,
		logger:           logger,
	}
}

// Bind sets the session manager used for the online check and auto-connect.
func (p *PresenceProber) Bind(sessions sessionConnector) {
	p.sessions = sessions
}

// Target returns the peer last probed. It is kept after Stop.
func (p *PresenceProber) Target() domain.PeerID {
	return p.target
}

func (p *PresenceProber) Active() bool {
	return p.ticker != nil
}

// Start replaces any running probe, checks peer immediately and then every interval.
func (p *PresenceProber) Start(ctx context.Context, peer domain.PeerID) {
	p.Stop()

	p.ctx = ctx
	p.target = peer
	p.lastOnline = false
	p.logger.Debugw("Presence probe started", "peer_id", peer, "interval", p.interval)

	p.ticker = p.scheduler.Every(p.interval, p.check)
	p.check()
}

// Stop cancels the interval and any pending probe. Safe to call repeatedly.
func (p *PresenceProber) Stop() {
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
	}
	if p.autoTimer != nil {
		p.autoTimer.Stop()
		p.autoTimer = nil
	}
	p.dropPending()
}

// OnFocus re-checks right away when the user comes back.
func (p *PresenceProber) OnFocus() {
	p.check()
}

func (p *PresenceProber) check() {
	if p.ticker == nil || !p.transport.Ready() {
		return
	}

	// an unresolved probe from the previous round counts as offline
	if p.pending != nil {
		p.dropPending()
		p.markOffline()
	}

	ch, err := p.transport.ConnectTo(p.ctx, p.target, ports.ConnectOptions{
		Serialization: ports.SerializationNone,
		Probe:         true,
	})
	if err != nil {
		p.logger.Debugw("Probe connect failed", "peer_id", p.target, "error", err)
		p.markOffline()
		return
	}
	p.pending = ch
}

// HandleEvent consumes events of probe channels. Events of probe channels
// that are no longer pending are dropped.
func (p *PresenceProber) HandleEvent(ev ports.Event) {
	if p.pending == nil || ev.Channel == nil || ev.Channel.ID() != p.pending.ID() {
		if ev.Channel != nil && ev.Type == ports.EventChannelOpen {
			_ = ev.Channel.Close()
		}
		return
	}

	switch ev.Type {
	case ports.EventChannelOpen:
		p.dropPending()
		p.markOnline()
	case ports.EventChannelError, ports.EventChannelClose:
		p.pending = nil
		p.markOffline()
	}
}

func (p *PresenceProber) markOffline() {
	p.lastOnline = false
	p.metrics.ProbeResult(false)
}

func (p *PresenceProber) markOnline() {
	p.metrics.ProbeResult(true)
	wasOnline := p.lastOnline
	p.lastOnline = true
	if wasOnline || p.sessions == nil || p.sessions.IsOpen() {
		return
	}

	peer := p.target
	systemLine(p.renderer, "%s is now online!", peer)
	p.gate.Notify(string(peer)+" is online", "Your friend is now available", ports.NotifyOptions{})
	p.logger.Infow("Peer came online", "peer_id", peer)

	if p.autoTimer != nil {
		p.autoTimer.Stop()
	}
	ctx := p.ctx
	p.autoTimer = p.scheduler.AfterFunc(p.autoConnectDelay, func() {
		p.autoTimer = nil
		if p.sessions.IsOpen() {
			return
		}
		if err := p.sessions.Connect(ctx, peer); err != nil {
			p.logger.Debugw("Auto-connect did not proceed", "peer_id", peer, "error", err)
		}
	})
}

func (p *PresenceProber) dropPending() {
	if p.pending == nil {
		return
	}
	ch := p.pending
	p.pending = nil
	if err := ch.Close(); err != nil {
		p.logger.Debugw("Closing probe channel failed", "channel_id", ch.ID(), "error", err)
	}
}
