package services

import (
	"errors"
	"testing"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/testutils"
	apperrors "peerlink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startCall(t *testing.T, h *harness) *testutils.MockCall {
	t.Helper()
	h.openSession("bob")
	require.NoError(t, h.client.Calls.StartOutgoing(h.ctx))
	call := h.transport.Calls[len(h.transport.Calls)-1]
	return call
}

func TestCall_OutgoingRequiresSession(t *testing.T) {
	h := newHarness(t)

	err := h.client.Calls.StartOutgoing(h.ctx)

	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Equal(t, 1, h.renderer.Count("Not connected to any peer"))
	assert.Zero(t, h.devices.Requests)
	assert.Zero(t, h.transport.CountOps("call:"))
}

func TestCall_OutgoingStartsWithLocalMedia(t *testing.T) {
	h := newHarness(t)
	startCall(t, h)

	current := h.client.Calls.Current()
	require.NotNil(t, current)
	assert.Equal(t, domain.PeerID("bob"), current.RemotePeer)
	assert.Equal(t, domain.DirectionOutbound, current.Direction)
	assert.True(t, current.AudioEnabled)
	assert.True(t, current.VideoEnabled)
	assert.True(t, h.client.Calls.HasLocalMedia())
	assert.Equal(t, 1, h.renderer.Count("Calling bob"))
	assert.Equal(t, 1, h.devices.Requests)
}

func TestCall_OutgoingMediaDenied(t *testing.T) {
	h := newHarness(t)
	h.openSession("bob")
	h.devices.Err = errors.New("permission dismissed")

	err := h.client.Calls.StartOutgoing(h.ctx)

	assert.ErrorIs(t, err, domain.ErrMediaDenied)
	assert.Equal(t, apperrors.ErrCodeSetup, apperrors.CodeOf(err))
	assert.Equal(t, 1, h.renderer.Count("Camera/microphone access denied"))
	assert.Nil(t, h.client.Calls.Current())
	assert.Zero(t, h.transport.CountOps("call:"))
}

func TestCall_OutgoingTransportFailure(t *testing.T) {
	h := newHarness(t)
	h.openSession("bob")
	h.transport.CallErr = errors.New("negotiation failed")

	err := h.client.Calls.StartOutgoing(h.ctx)

	assert.Equal(t, apperrors.ErrCodeTransport, apperrors.CodeOf(err))
	assert.Equal(t, 1, h.renderer.Count("Call failed: negotiation failed"))
	assert.Nil(t, h.client.Calls.Current())
}

func TestCall_SecondOutgoingRejected(t *testing.T) {
	h := newHarness(t)
	startCall(t, h)

	err := h.client.Calls.StartOutgoing(h.ctx)

	assert.ErrorIs(t, err, domain.ErrCallActive)
	assert.Equal(t, 1, h.renderer.Count("Call already in progress"))
	assert.Equal(t, 1, h.transport.CountOps("call:"))
}

func TestCall_InboundWithoutMediaIsMissed(t *testing.T) {
	h := newHarness(t)
	h.openSession("bob")
	inbound := h.transport.InboundCall("bob")

	h.emit(ports.Event{Type: ports.EventInboundCall, Call: inbound})

	assert.True(t, inbound.Closed())
	assert.Nil(t, inbound.Answered)
	assert.Nil(t, h.client.Calls.Current())
	assert.Equal(t, 1, h.renderer.Count("Missed video call from bob (no media permissions)"))
	assert.Equal(t, 1, h.metrics.Get("call_missed"))
}

func TestCall_InboundWhileBusyIsMissed(t *testing.T) {
	h := newHarness(t)
	active := startCall(t, h)
	inbound := h.transport.InboundCall("carol")

	err := h.client.Calls.AcceptIncoming(inbound)

	assert.Equal(t, apperrors.ErrCodeMissedCall, apperrors.CodeOf(err))
	assert.True(t, inbound.Closed())
	assert.False(t, active.Closed())
	assert.Equal(t, active.ID(), h.client.Calls.Current().CallID)
	assert.Equal(t, 1, h.renderer.Count("Missed video call from carol (busy)"))
}

func TestCall_InboundAnsweredWithLocalMedia(t *testing.T) {
	h := newHarness(t)
	startCall(t, h)
	require.NoError(t, h.client.Calls.HangUp())
	inbound := h.transport.InboundCall("bob")

	h.emit(ports.Event{Type: ports.EventInboundCall, Call: inbound})

	assert.Equal(t, h.devices.Stream, inbound.Answered)
	current := h.client.Calls.Current()
	require.NotNil(t, current)
	assert.Equal(t, domain.DirectionInbound, current.Direction)
	assert.Equal(t, 1, h.renderer.Count("Incoming video call from bob"))
	assert.Equal(t, []string{"Incoming video call"}, h.platform.ShownTitles())
}

func TestCall_RemoteStreamAndRemoteClose(t *testing.T) {
	h := newHarness(t)
	call := startCall(t, h)
	remote := &testutils.MockRemoteStream{Peer: "bob"}

	h.emit(ports.Event{Type: ports.EventRemoteStream, Call: call, Stream: remote})
	require.Len(t, h.renderer.RemoteStreams, 1)

	h.emit(ports.Event{Type: ports.EventCallClose, Call: call})
	assert.Nil(t, h.client.Calls.Current())
	assert.Equal(t, 1, h.renderer.StreamCleared)
	assert.Equal(t, 1, h.renderer.Count("Call ended"))

	// events of a call that is gone are ignored
	h.emit(ports.Event{Type: ports.EventCallClose, Call: call})
	assert.Equal(t, 1, h.renderer.Count("Call ended"))
}

func TestCall_HangUp(t *testing.T) {
	h := newHarness(t)

	err := h.client.Calls.HangUp()
	assert.ErrorIs(t, err, domain.ErrNoActiveCall)
	assert.Equal(t, 1, h.renderer.Count("No active call"))

	call := startCall(t, h)
	require.NoError(t, h.client.Calls.HangUp())

	assert.True(t, call.Closed())
	assert.Nil(t, h.client.Calls.Current())
	assert.Equal(t, 1, h.renderer.Count("Call ended"))
	// local media stays available for the next call
	assert.True(t, h.client.Calls.HasLocalMedia())
}

func TestCall_DoubleMuteRestores(t *testing.T) {
	h := newHarness(t)
	startCall(t, h)
	mic := h.devices.Stream.Audio[0]
	cam := h.devices.Stream.Video[0]

	require.NoError(t, h.client.Calls.ToggleMute())
	assert.False(t, mic.Enabled())
	assert.False(t, h.client.Calls.Current().AudioEnabled)
	assert.True(t, cam.Enabled())

	require.NoError(t, h.client.Calls.ToggleMute())
	assert.True(t, mic.Enabled())
	assert.True(t, h.client.Calls.Current().AudioEnabled)

	assert.Equal(t, 1, h.renderer.Count("Microphone muted"))
	assert.Equal(t, 1, h.renderer.Count("Microphone unmuted"))
}

func TestCall_PauseVideo(t *testing.T) {
	h := newHarness(t)
	startCall(t, h)
	cam := h.devices.Stream.Video[0]

	require.NoError(t, h.client.Calls.TogglePauseVideo())
	assert.False(t, cam.Enabled())
	assert.Equal(t, 1, h.renderer.Count("Video paused"))

	require.NoError(t, h.client.Calls.TogglePauseVideo())
	assert.True(t, cam.Enabled())
	assert.Equal(t, 1, h.renderer.Count("Video resumed"))
}

func TestCall_TogglesRequireLocalMedia(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.client.Calls.ToggleMute(), domain.ErrNoLocalMedia)
	assert.ErrorIs(t, h.client.Calls.TogglePauseVideo(), domain.ErrNoLocalMedia)
	assert.Equal(t, 2, h.renderer.Count("Camera/microphone not started"))
}

func TestCall_CloseReleasesDevices(t *testing.T) {
	h := newHarness(t)
	call := startCall(t, h)

	h.client.Calls.Close()

	assert.True(t, call.Closed())
	assert.True(t, h.devices.Stream.Audio[0].Stopped())
	assert.True(t, h.devices.Stream.Video[0].Stopped())
	assert.False(t, h.client.Calls.HasLocalMedia())
}
