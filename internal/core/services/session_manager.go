package services

import (
	"context"
	"strings"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	apperrors "peerlink/pkg/errors"
	"peerlink/pkg/tracing"

	"go.uber.org/zap"
)

// SessionManager owns the single chat session. All methods run on the
// client event loop.
type SessionManager struct {
	transport   ports.Transport
	persistence *Persistence
	prober      *PresenceProber
	router      *MessageRouter
	renderer    ports.Renderer
	scheduler   ports.Scheduler
	clock       ports.Clock
	metrics     ports.Metrics
	logger      *zap.SugaredLogger

	reconnectDelay time.Duration

	identity *domain.Identity
	session  *domain.Session
	channel  ports.DataChannel
	lastPeer domain.PeerID

	// reconnect or startup-resume connect waiting to fire
	pendingConnect ports.Timer
}

func NewSessionManager(
	transport ports.Transport,
	persistence *Persistence,
	prober *PresenceProber,
	router *MessageRouter,
	renderer ports.Renderer,
	scheduler ports.Scheduler,
	clock ports.Clock,
	metrics ports.Metrics,
	reconnectDelay time.Duration,
	logger *zap.SugaredLogger,
) *SessionManager {
	return &SessionManager{
		transport:      transport,
		persistence:    persistence,
		prober:         prober,
		router:         router,
		renderer:       renderer,
		scheduler:      scheduler,
		clock:          clock,
		metrics:        metrics,
		reconnectDelay: reconnectDelay,
		logger:         logger,
	}
}

func (s *SessionManager) SetIdentity(identity *domain.Identity) {
	s.identity = identity
}

func (s *SessionManager) Identity() *domain.Identity {
	return s.identity
}

// RememberPeer seeds the last peer, e.g. from the persisted intent at startup.
func (s *SessionManager) RememberPeer(peer domain.PeerID) {
	s.lastPeer = peer
}

func (s *SessionManager) LastPeer() domain.PeerID {
	return s.lastPeer
}

// Session returns a copy of the current session, or nil when idle.
func (s *SessionManager) Session() *domain.Session {
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

// State returns the session state, SessionIdle when there is none.
func (s *SessionManager) State() domain.SessionState {
	if s.session == nil {
		return domain.SessionIdle
	}
	return s.session.State
}

func (s *SessionManager) IsOpen() bool {
	return s.session.IsOpen()
}

// RemotePeer returns the peer of the open session, or "".
func (s *SessionManager) RemotePeer() domain.PeerID {
	if !s.IsOpen() {
		return ""
	}
	return s.session.RemotePeer
}

// Connect opens an outgoing session to remote, replacing any existing one.
func (s *SessionManager) Connect(ctx context.Context, remote domain.PeerID) error {
	remote = domain.PeerID(strings.TrimSpace(string(remote)))
	if remote == "" {
		return reject(s.renderer, domain.ErrEmptyPeerID, "Please enter a Peer ID")
	}
	if s.session.IsOpen() && s.session.RemotePeer == remote {
		return reject(s.renderer, domain.ErrAlreadyConnected, "Already connected to "+string(remote))
	}
	if s.identity == nil || !s.transport.Ready() {
		return reject(s.renderer, domain.ErrNotInitialized, "Cannot connect - peer not initialized")
	}

	ctx, span := tracing.TraceSession(ctx, "connect", string(remote))
	defer span.End()

	s.cancelPendingConnect()
	s.teardown("replaced")

	ch, err := s.transport.ConnectTo(ctx, remote, ports.ConnectOptions{
		Reliable:      true,
		Serialization: ports.SerializationJSON,
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		s.persistence.SaveIntent(ctx, remote, false)
		msg := "Connection error: " + err.Error()
		systemLine(s.renderer, "%s", msg)
		return apperrors.NewTransportError(err, msg)
	}

	s.begin(ctx, ch, domain.DirectionOutbound)
	tracing.AddSpanAttributes(ctx, tracing.ChannelIDKey.String(ch.ID()))
	systemLine(s.renderer, "Connecting to %s...", remote)
	return nil
}

// AcceptInbound adopts an inbound channel unless a session is already open,
// in which case the channel is closed and the open session is kept.
func (s *SessionManager) AcceptInbound(ctx context.Context, ch ports.DataChannel) error {
	if s.session.IsOpen() {
		s.metrics.InboundRejected()
		s.logger.Infow("Rejected inbound connection, session already open",
			"peer_id", ch.RemotePeer(),
			"current_peer", s.session.RemotePeer,
		)
		if err := ch.Close(); err != nil {
			s.logger.Debugw("Closing rejected channel failed", "channel_id", ch.ID(), "error", err)
		}
		return apperrors.NewPolicyError(domain.ErrSessionBusy, "inbound connection rejected")
	}

	s.cancelPendingConnect()
	s.teardown("replaced")
	s.begin(ctx, ch, domain.DirectionInbound)
	return nil
}

func (s *SessionManager) begin(ctx context.Context, ch ports.DataChannel, dir domain.ConnectionDirection) {
	remote := ch.RemotePeer()
	s.channel = ch
	s.session = &domain.Session{
		RemotePeer: remote,
		ChannelID:  ch.ID(),
		State:      domain.SessionConnecting,
		Direction:  dir,
		CreatedAt:  s.clock.Now(),
	}
	s.lastPeer = remote
	s.persistence.SaveIntent(ctx, remote, true)
	s.logger.Infow("Session connecting", "peer_id", remote, "channel_id", ch.ID(), "direction", dir)
}

// HandleChannelEvent applies a transport event of a session channel. Events
// of channels other than the current one are stale and ignored.
func (s *SessionManager) HandleChannelEvent(ctx context.Context, ev ports.Event) {
	if s.channel == nil || ev.Channel == nil || ev.Channel.ID() != s.channel.ID() {
		if ev.Channel != nil {
			s.logger.Debugw("Ignoring stale channel event", "type", ev.Type, "channel_id", ev.Channel.ID())
		}
		return
	}

	switch ev.Type {
	case ports.EventChannelOpen:
		s.onOpen(ctx)
	case ports.EventChannelData:
		if ev.Payload != nil {
			s.router.Route(ev.Payload)
		}
	case ports.EventChannelClose:
		s.onClosed(ctx, "remote_close", "Disconnected from "+string(s.session.RemotePeer))
	case ports.EventChannelError:
		msg := "Connection error"
		if ev.Err != nil {
			msg += ": " + ev.Err.Error()
		}
		s.onClosed(ctx, "error", msg)
	}
}

func (s *SessionManager) onOpen(ctx context.Context) {
	if !domain.CanTransition(s.session.State, domain.SessionOpen) {
		return
	}
	remote := s.session.RemotePeer
	s.session.State = domain.SessionOpen
	s.session.OpenedAt = s.clock.Now()
	s.persistence.SaveIntent(ctx, remote, true)
	s.metrics.SessionOpened(s.session.Direction)
	s.logger.Infow("Session open", "peer_id", remote, "channel_id", s.session.ChannelID)

	if s.session.Notified {
		return
	}
	greeting := domain.NewTextPayload(domain.SystemSender, "Connected to "+s.identity.DisplayName)
	if err := s.channel.Send(greeting); err != nil {
		s.logger.Warnw("Failed to send greeting", "peer_id", remote, "error", err)
	}
	systemLine(s.renderer, "Connected to %s", remote)
	s.prober.Start(ctx, remote)
	s.session.Notified = true
}

func (s *SessionManager) onClosed(ctx context.Context, reason, msg string) {
	remote := s.session.RemotePeer
	ch := s.channel
	s.channel = nil
	s.session.State = domain.SessionClosed
	_ = ch.Close()

	s.persistence.SaveIntent(ctx, remote, false)
	s.metrics.SessionClosed(reason)
	s.logger.Infow("Session closed", "peer_id", remote, "reason", reason)
	systemLine(s.renderer, "%s", msg)
}

// Send writes a payload to the open session.
func (s *SessionManager) Send(p *domain.Payload) error {
	if !s.session.IsOpen() {
		return reject(s.renderer, domain.ErrNotConnected, "Not connected to any peer")
	}
	if err := s.channel.Send(p); err != nil {
		msg := "Send failed: " + err.Error()
		systemLine(s.renderer, "%s", msg)
		return apperrors.NewTransportError(err, msg)
	}
	s.metrics.PayloadRouted(p.Kind, "outbound", len(p.Data)+len(p.Body))
	return nil
}

// Disconnect closes the session, clears the reconnect intent and stops the
// prober. Repeated calls are no-ops apart from clearing the intent again.
func (s *SessionManager) Disconnect(ctx context.Context) {
	s.cancelPendingConnect()
	s.prober.Stop()

	if s.channel != nil {
		remote := s.session.RemotePeer
		s.teardown("local_close")
		s.logger.Infow("Disconnected", "peer_id", remote)
		systemLine(s.renderer, "Disconnected")
	}
	s.session = nil
	s.persistence.ClearIntent(ctx)
}

// Reconnect tears down the current session and reconnects to the last peer
// after the reconnect delay.
func (s *SessionManager) Reconnect(ctx context.Context) error {
	if s.lastPeer == "" {
		return reject(s.renderer, domain.ErrNoPreviousPeer, "No previous connection found")
	}
	if s.identity == nil || !s.transport.Ready() {
		return reject(s.renderer, domain.ErrNotInitialized, "Cannot reconnect - peer not initialized")
	}

	if s.channel != nil {
		s.teardown("reconnect")
		systemLine(s.renderer, "Disconnected from current peer")
	}

	peer := s.lastPeer
	s.schedule(ctx, s.reconnectDelay, peer, "Reconnecting to %s...")
	return nil
}

// ScheduleResume connects to peer after delay; used at startup when the
// persisted intent says a connection was in progress.
func (s *SessionManager) ScheduleResume(ctx context.Context, peer domain.PeerID, delay time.Duration) {
	s.lastPeer = peer
	s.schedule(ctx, delay, peer, "Attempting to reconnect to %s...")
}

func (s *SessionManager) schedule(ctx context.Context, delay time.Duration, peer domain.PeerID, notice string) {
	s.cancelPendingConnect()
	s.pendingConnect = s.scheduler.AfterFunc(delay, func() {
		s.pendingConnect = nil
		if err := s.Connect(ctx, peer); err != nil {
			s.logger.Debugw("Scheduled connect did not proceed", "peer_id", peer, "error", err)
			return
		}
		systemLine(s.renderer, notice, peer)
	})
}

func (s *SessionManager) cancelPendingConnect() {
	if s.pendingConnect != nil {
		s.pendingConnect.Stop()
		s.pendingConnect = nil
	}
}

// teardown closes the current channel without touching the intent.
func (s *SessionManager) teardown(reason string) {
	if s.channel != nil {
		ch := s.channel
		s.channel = nil
		if err := ch.Close(); err != nil {
			s.logger.Debugw("Closing channel failed", "channel_id", ch.ID(), "error", err)
		}
	}
	if s.session != nil && s.session.State != domain.SessionClosed {
		s.session.State = domain.SessionClosed
		s.metrics.SessionClosed(reason)
	}
}

// Reset forgets everything, used when local data is cleared.
func (s *SessionManager) Reset(ctx context.Context) {
	s.Disconnect(ctx)
	s.lastPeer = ""
}
