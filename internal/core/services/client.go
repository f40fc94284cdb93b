package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	apperrors "peerlink/pkg/errors"
	"peerlink/pkg/validation"

	"go.uber.org/zap"
)

// ErrClientStopped is returned by Do once the event loop has exited.
var ErrClientStopped = errors.New("client stopped")

// ClientOptions holds the timings and limits of the client core.
type ClientOptions struct {
	ProbeInterval        time.Duration
	ReconnectDelay       time.Duration
	ResumeDelay          time.Duration
	AutoConnectDelay     time.Duration
	NotificationCooldown time.Duration
	PreviewLength        int
	LocationTimeout      time.Duration
	NotificationIcon     string
	AttachmentIcon       string
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ProbeInterval:        5 * time.Second,
		ReconnectDelay:       300 * time.Millisecond,
		ResumeDelay:          time.Second,
		AutoConnectDelay:     time.Second,
		NotificationCooldown: 5 * time.Second,
		PreviewLength:        30,
		LocationTimeout:      10 * time.Second,
		NotificationIcon:     "peerlink",
		AttachmentIcon:       "mail-attachment",
	}
}

// ClientDeps are the collaborators of the client core. Scheduler, Clock and
// Metrics are optional.
type ClientDeps struct {
	Transport  ports.Transport
	Store      ports.KeyValueStore
	Devices    ports.MediaDevices
	Geolocator ports.Geolocator
	Platform   ports.NotificationPlatform
	Focus      ports.FocusState
	Renderer   ports.Renderer
	Onboarder  ports.Onboarder
	Scheduler  ports.Scheduler
	Clock      ports.Clock
	Metrics    ports.Metrics
	Logger     *zap.SugaredLogger
}

// Client is the construction point of the core. Its event loop (Run) is the
// only goroutine that touches session, call and probe state.
type Client struct {
	opts   ClientOptions
	deps   ClientDeps
	logger *zap.SugaredLogger

	Persistence *Persistence
	Gate        *NotificationGate
	Prober      *PresenceProber
	Sessions    *SessionManager
	Calls       *CallManager
	Router      *MessageRouter
	Share       *ShareService

	commands chan func(context.Context)
	done     chan struct{}
}

func NewClient(opts ClientOptions, deps ClientDeps) *Client {
	c := &Client{
		opts:     opts,
		commands: make(chan func(context.Context), 64),
		done:     make(chan struct{}),
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = NewLoopScheduler(c.Post)
	}
	c.deps = deps
	c.logger = deps.Logger

	c.Persistence = NewPersistence(deps.Store, deps.Logger.Named("persistence"))
	c.Gate = NewNotificationGate(deps.Platform, deps.Focus, deps.Clock, deps.Metrics,
		opts.NotificationCooldown, opts.NotificationIcon, deps.Logger.Named("notify"))
	c.Router = NewMessageRouter(deps.Renderer, c.Gate, deps.Focus, deps.Metrics,
		opts.PreviewLength, opts.AttachmentIcon, deps.Logger.Named("router"))
	c.Prober = NewPresenceProber(deps.Transport, deps.Scheduler, c.Gate, deps.Renderer, deps.Metrics,
		opts.ProbeInterval, opts.AutoConnectDelay, deps.Logger.Named("probe"))
	c.Sessions = NewSessionManager(deps.Transport, c.Persistence, c.Prober, c.Router, deps.Renderer,
		deps.Scheduler, deps.Clock, deps.Metrics, opts.ReconnectDelay, deps.Logger.Named("session"))
	c.Prober.Bind(c.Sessions)
	c.Calls = NewCallManager(deps.Transport, deps.Devices, c.Sessions, c.Gate, deps.Renderer,
		deps.Clock, deps.Metrics, deps.Logger.Named("call"))
	c.Share = NewShareService(c.Sessions, deps.Geolocator, deps.Renderer,
		opts.LocationTimeout, deps.Logger.Named("share"))

	return c
}

// Start restores or onboards the identity and initializes the transport.
// Without an identity nothing touches the transport.
func (c *Client) Start(ctx context.Context) error {
	c.Gate.Init(ctx)

	identity, err := c.Persistence.LoadIdentity(ctx)
	if err != nil {
		c.logger.Warnw("Failed to load identity", "error", err)
	}

	returning := identity != nil
	if !returning {
		identity, err = c.onboard(ctx)
		if err != nil {
			return err
		}
	}
	c.Sessions.SetIdentity(identity)

	if intent, err := c.Persistence.LoadIntent(ctx); err != nil {
		c.logger.Warnw("Failed to load reconnect intent", "error", err)
	} else if intent.LastPeer != "" {
		c.Sessions.RememberPeer(intent.LastPeer)
	}

	if returning {
		systemLine(c.deps.Renderer, "Welcome back, %s!", identity.DisplayName)
	} else {
		systemLine(c.deps.Renderer, "Welcome, %s!", identity.DisplayName)
	}

	if err := c.deps.Transport.Initialize(ctx, identity.PeerID); err != nil {
		msg := "Error: " + err.Error()
		systemLine(c.deps.Renderer, "%s", msg)
		return apperrors.NewSetupError(err, msg)
	}
	c.logger.Infow("Client started", "peer_id", identity.PeerID, "returning", returning)
	return nil
}

func (c *Client) onboard(ctx context.Context) (*domain.Identity, error) {
	if c.deps.Onboarder == nil {
		return nil, apperrors.NewSetupError(domain.ErrIdentityMissing, "Peer ID is required")
	}
	peerID, name, err := c.deps.Onboarder.PromptIdentity(ctx)
	if err != nil {
		return nil, apperrors.NewSetupError(err, "Onboarding failed")
	}

	peerID, name = strings.TrimSpace(peerID), strings.TrimSpace(name)
	if peerID == "" {
		return nil, c.setupFailure(domain.ErrIdentityMissing, "Peer ID is required")
	}
	if err := validation.ValidatePeerID(peerID); err != nil {
		return nil, c.setupFailure(err, "Invalid Peer ID: "+err.Error())
	}
	if name == "" {
		return nil, c.setupFailure(domain.ErrIdentityMissing, "Display name is required")
	}
	if err := validation.ValidateDisplayName(name); err != nil {
		return nil, c.setupFailure(err, "Invalid display name: "+err.Error())
	}

	identity := &domain.Identity{PeerID: domain.PeerID(peerID), DisplayName: name}
	if err := c.Persistence.SaveIdentity(ctx, *identity); err != nil {
		c.logger.Warnw("Failed to persist identity", "error", err)
	}
	return identity, nil
}

func (c *Client) setupFailure(cause error, msg string) error {
	systemLine(c.deps.Renderer, "%s", msg)
	return apperrors.NewSetupError(cause, msg)
}

// Run consumes transport events and posted commands until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.shutdown(ctx)

	events := c.deps.Transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.HandleEvent(ctx, ev)
		case cmd := <-c.commands:
			cmd(ctx)
		}
	}
}

// Post queues fn on the event loop. It is dropped once the loop has exited.
func (c *Client) Post(fn func()) {
	c.post(func(context.Context) { fn() })
}

func (c *Client) post(fn func(context.Context)) {
	select {
	case c.commands <- fn:
	case <-c.done:
	}
}

// Do runs fn on the event loop and waits for its result.
func (c *Client) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-c.done:
		return ErrClientStopped
	default:
	}

	result := make(chan error, 1)
	select {
	case c.commands <- func(loopCtx context.Context) { result <- fn(loopCtx) }:
	case <-c.done:
		return ErrClientStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-c.done:
		return ErrClientStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleEvent dispatches one transport event. Only the event loop calls it.
func (c *Client) HandleEvent(ctx context.Context, ev ports.Event) {
	switch ev.Type {
	case ports.EventLocalIDReady:
		c.onLocalIDReady(ctx, ev.LocalID)
	case ports.EventInitError:
		c.logger.Errorw("Transport error", "error", ev.Err)
		systemLine(c.deps.Renderer, "Error: %v", ev.Err)
	case ports.EventInboundConnection:
		if ev.Channel == nil || ev.Channel.Probe() {
			return
		}
		if err := c.Sessions.AcceptInbound(ctx, ev.Channel); err != nil {
			c.logger.Debugw("Inbound connection not accepted", "error", err)
		}
	case ports.EventChannelOpen, ports.EventChannelData, ports.EventChannelClose, ports.EventChannelError:
		if ev.Channel != nil && ev.Channel.Probe() {
			c.Prober.HandleEvent(ev)
			return
		}
		c.Sessions.HandleChannelEvent(ctx, ev)
	case ports.EventInboundCall:
		if ev.Call == nil {
			return
		}
		if err := c.Calls.AcceptIncoming(ev.Call); err != nil {
			c.logger.Debugw("Inbound call not accepted", "code", apperrors.CodeOf(err), "error", err)
		}
	case ports.EventRemoteStream, ports.EventCallClose:
		c.Calls.HandleCallEvent(ev)
	default:
		c.logger.Warnw("Unknown transport event", "type", ev.Type)
	}
}

func (c *Client) onLocalIDReady(ctx context.Context, id domain.PeerID) {
	systemLine(c.deps.Renderer, "Your peer ID is: %s", id)

	intent, err := c.Persistence.LoadIntent(ctx)
	if err != nil {
		c.logger.Warnw("Failed to load reconnect intent", "error", err)
		return
	}
	if intent.Connecting && intent.LastPeer != "" {
		c.Sessions.ScheduleResume(ctx, intent.LastPeer, c.opts.ResumeDelay)
	}
}

// UserActive marks the user as present. Coming back from idle re-runs the
// presence check.
func (c *Client) UserActive() {
	wasFocused := c.deps.Focus.HasFocus()
	c.deps.Focus.Focus()
	if !wasFocused {
		c.Prober.OnFocus()
	}
}

// RequestLocation resolves the position off the loop and shares it back on it.
func (c *Client) RequestLocation(ctx context.Context) {
	systemLine(c.deps.Renderer, "Requesting location...")
	go func() {
		pos, err := c.Share.Locate(ctx)
		c.post(func(context.Context) {
			if shareErr := c.Share.ShareLocation(pos, err); shareErr != nil {
				c.logger.Debugw("Location not shared", "error", shareErr)
			}
		})
	}()
}

// ClearLog empties the visible chat log.
func (c *Client) ClearLog() {
	c.deps.Renderer.ClearLog()
}

// ClearData disconnects and removes the persisted identity and intent.
func (c *Client) ClearData(ctx context.Context) error {
	c.Sessions.Reset(ctx)
	if err := c.Persistence.ClearAll(ctx); err != nil {
		msg := fmt.Sprintf("Failed to clear data: %v", err)
		systemLine(c.deps.Renderer, "%s", msg)
		return apperrors.NewInternalError(msg)
	}
	systemLine(c.deps.Renderer, "All data cleared. Please restart the client.")
	return nil
}

func (c *Client) shutdown(ctx context.Context) {
	c.Prober.Stop()
	c.Calls.Close()
	if err := c.deps.Transport.Close(); err != nil {
		c.logger.Debugw("Transport close failed", "error", err)
	}
	c.logger.Infow("Client stopped")
}
