package services

import (
	"context"
	"errors"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	apperrors "peerlink/pkg/errors"
	"peerlink/pkg/tracing"

	"go.uber.org/zap"
)

// callSessions is what the call manager needs to know about the chat session.
type callSessions interface {
	IsOpen() bool
	RemotePeer() domain.PeerID
}

// CallManager owns the single media call and the local camera/mic stream.
type CallManager struct {
	transport ports.Transport
	devices   ports.MediaDevices
	sessions  callSessions
	gate      *NotificationGate
	renderer  ports.Renderer
	clock     ports.Clock
	metrics   ports.Metrics
	logger    *zap.SugaredLogger

	local   ports.MediaStream
	call    ports.MediaCall
	current *domain.CallSession

	audioEnabled bool
	videoEnabled bool
}

func NewCallManager(
	transport ports.Transport,
	devices ports.MediaDevices,
	sessions callSessions,
	gate *NotificationGate,
	renderer ports.Renderer,
	clock ports.Clock,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) *CallManager {
	return &CallManager{
		transport:    transport,
		devices:      devices,
		sessions:     sessions,
		gate:         gate,
		renderer:     renderer,
		clock:        clock,
		metrics:      metrics,
		logger:       logger,
		audioEnabled: true,
		videoEnabled: true,
	}
}

// Current returns a copy of the active call, or nil.
func (c *CallManager) Current() *domain.CallSession {
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

func (c *CallManager) HasLocalMedia() bool {
	return c.local != nil
}

// StartOutgoing calls the peer of the open session with the local stream,
// requesting device access first if needed.
func (c *CallManager) StartOutgoing(ctx context.Context) error {
	if !c.sessions.IsOpen() {
		return reject(c.renderer, domain.ErrNotConnected, "Not connected to any peer")
	}
	if c.call != nil {
		return reject(c.renderer, domain.ErrCallActive, "Call already in progress")
	}

	remote := c.sessions.RemotePeer()
	ctx, span := tracing.TraceCall(ctx, "start", string(remote))
	defer span.End()

	stream, err := c.ensureLocalMedia(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		c.metrics.CallOutcome("media_denied")
		return err
	}

	call, err := c.transport.CallWith(ctx, remote, stream)
	if err != nil {
		tracing.RecordError(ctx, err)
		c.metrics.CallOutcome("failed")
		msg := "Call failed: " + err.Error()
		systemLine(c.renderer, "%s", msg)
		return apperrors.NewTransportError(err, msg)
	}

	c.audioEnabled, c.videoEnabled = true, true
	c.applyTracks()
	c.begin(call, domain.DirectionOutbound)
	c.metrics.CallOutcome("outgoing")
	systemLine(c.renderer, "Calling %s", remote)
	return nil
}

func (c *CallManager) ensureLocalMedia(ctx context.Context) (ports.MediaStream, error) {
	if c.local != nil {
		return c.local, nil
	}
	stream, err := c.devices.RequestAudioVideo(ctx)
	if err != nil {
		c.logger.Warnw("Media access denied", "error", err)
		const msg = "Camera/microphone access denied"
		systemLine(c.renderer, msg)
		if !errors.Is(err, domain.ErrMediaDenied) {
			err = errors.Join(domain.ErrMediaDenied, err)
		}
		return nil, apperrors.NewSetupError(err, msg)
	}
	c.local = stream
	return stream, nil
}

// AcceptIncoming answers an inbound call with the local stream. Without local
// media, or while another call is active, the call is closed as missed.
func (c *CallManager) AcceptIncoming(call ports.MediaCall) error {
	remote := call.RemotePeer()

	if c.call != nil {
		return c.miss(call, domain.ErrCallActive, "Missed video call from "+string(remote)+" (busy)")
	}
	if c.local == nil {
		return c.miss(call, domain.ErrNoLocalMedia, "Missed video call from "+string(remote)+" (no media permissions)")
	}

	if err := call.Answer(c.local); err != nil {
		_ = call.Close()
		c.metrics.CallOutcome("failed")
		msg := "Call failed: " + err.Error()
		systemLine(c.renderer, "%s", msg)
		return apperrors.NewTransportError(err, msg)
	}

	c.begin(call, domain.DirectionInbound)
	c.metrics.CallOutcome("answered")
	systemLine(c.renderer, "Incoming video call from %s", remote)
	c.gate.Notify("Incoming video call", "From "+string(remote), ports.NotifyOptions{})
	return nil
}

func (c *CallManager) miss(call ports.MediaCall, cause error, msg string) error {
	if err := call.Close(); err != nil {
		c.logger.Debugw("Closing missed call failed", "call_id", call.ID(), "error", err)
	}
	c.metrics.CallOutcome("missed")
	c.logger.Infow("Missed call", "peer_id", call.RemotePeer(), "reason", cause)
	systemLine(c.renderer, "%s", msg)
	return apperrors.NewMissedCallError(cause, msg)
}

func (c *CallManager) begin(call ports.MediaCall, dir domain.ConnectionDirection) {
	c.call = call
	c.current = &domain.CallSession{
		CallID:       call.ID(),
		RemotePeer:   call.RemotePeer(),
		Direction:    dir,
		AudioEnabled: c.audioEnabled,
		VideoEnabled: c.videoEnabled,
		StartedAt:    c.clock.Now(),
	}
	c.logger.Infow("Call started", "call_id", call.ID(), "peer_id", call.RemotePeer(), "direction", dir)
}

// HandleCallEvent applies remote_stream and call_close events of the active call.
func (c *CallManager) HandleCallEvent(ev ports.Event) {
	if c.call == nil || ev.Call == nil || ev.Call.ID() != c.call.ID() {
		return
	}

	switch ev.Type {
	case ports.EventRemoteStream:
		if ev.Stream != nil {
			c.renderer.ShowRemoteStream(ev.Stream)
		}
	case ports.EventCallClose:
		c.end()
	}
}

// HangUp ends the active call.
func (c *CallManager) HangUp() error {
	if c.call == nil {
		return reject(c.renderer, domain.ErrNoActiveCall, "No active call")
	}
	if err := c.call.Close(); err != nil {
		c.logger.Debugw("Closing call failed", "call_id", c.call.ID(), "error", err)
	}
	c.end()
	return nil
}

func (c *CallManager) end() {
	c.logger.Infow("Call ended", "call_id", c.call.ID(), "duration", c.clock.Now().Sub(c.current.StartedAt))
	c.call = nil
	c.current = nil
	c.renderer.ClearRemoteStream()
	systemLine(c.renderer, "Call ended")
}

// ToggleMute flips the microphone and applies it to the local audio tracks.
func (c *CallManager) ToggleMute() error {
	if c.local == nil {
		return reject(c.renderer, domain.ErrNoLocalMedia, "Camera/microphone not started")
	}
	c.audioEnabled = !c.audioEnabled
	c.applyTracks()
	if c.audioEnabled {
		systemLine(c.renderer, "Microphone unmuted")
	} else {
		systemLine(c.renderer, "Microphone muted")
	}
	return nil
}

// TogglePauseVideo flips the camera and applies it to the local video tracks.
func (c *CallManager) TogglePauseVideo() error {
	if c.local == nil {
		return reject(c.renderer, domain.ErrNoLocalMedia, "Camera/microphone not started")
	}
	c.videoEnabled = !c.videoEnabled
	c.applyTracks()
	if c.videoEnabled {
		systemLine(c.renderer, "Video resumed")
	} else {
		systemLine(c.renderer, "Video paused")
	}
	return nil
}

func (c *CallManager) applyTracks() {
	for _, t := range c.local.AudioTracks() {
		t.SetEnabled(c.audioEnabled)
	}
	for _, t := range c.local.VideoTracks() {
		t.SetEnabled(c.videoEnabled)
	}
	if c.current != nil {
		c.current.AudioEnabled = c.audioEnabled
		c.current.VideoEnabled = c.videoEnabled
	}
}

// Close ends any call and stops the local tracks, releasing the devices.
func (c *CallManager) Close() {
	if c.call != nil {
		_ = c.call.Close()
		c.call = nil
		c.current = nil
		c.renderer.ClearRemoteStream()
	}
	if c.local != nil {
		c.local.Stop()
		c.local = nil
	}
}
