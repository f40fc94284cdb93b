package services

import (
	"errors"
	"testing"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	apperrors "peerlink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_OpenSendsGreetingAndStartsProbe(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.client.Sessions.Connect(h.ctx, "bob"))
	assert.Equal(t, domain.SessionConnecting, h.client.Sessions.State())
	assert.Equal(t, "bob", h.store.Value(KeyLastPeerID))
	assert.Equal(t, "true", h.store.Value(KeyIsConnecting))

	ch := h.transport.LastChannel()
	h.emit(ch.Event(ports.EventChannelOpen))

	session := h.client.Sessions.Session()
	require.NotNil(t, session)
	assert.Equal(t, domain.SessionOpen, session.State)
	assert.True(t, session.Notified)

	sent := ch.SentPayloads()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.KindText, sent[0].Kind)
	assert.Equal(t, domain.SystemSender, sent[0].Sender)
	assert.Equal(t, "Connected to Alice", sent[0].Body)

	assert.Equal(t, domain.PeerID("bob"), h.client.Prober.Target())
	assert.True(t, h.client.Prober.Active())
	assert.Equal(t, 1, h.transport.CountOps("probe:bob"))
	assert.Equal(t, 1, h.renderer.Count("Connected to bob"))
}

func TestConnect_GreetingOnlyOnce(t *testing.T) {
	h := newHarness(t)
	ch := h.openSession("bob")

	h.emit(ch.Event(ports.EventChannelOpen))

	assert.Len(t, ch.SentPayloads(), 1)
	assert.Equal(t, 1, h.renderer.Count("Connected to bob"))
}

func TestConnect_SamePeerWhileOpenIsNoop(t *testing.T) {
	h := newHarness(t)
	ch := h.openSession("bob")
	before := h.client.Sessions.Session()
	opsBefore := h.transport.Ops()

	err := h.client.Sessions.Connect(h.ctx, "bob")

	assert.ErrorIs(t, err, domain.ErrAlreadyConnected)
	assert.True(t, apperrors.IsPolicy(err))
	assert.Equal(t, 1, h.renderer.Count("Already connected to bob"))
	assert.Equal(t, opsBefore, h.transport.Ops())
	assert.Equal(t, before, h.client.Sessions.Session())
	assert.False(t, ch.Closed())
}

func TestConnect_OtherPeerTearsDownFirst(t *testing.T) {
	h := newHarness(t)
	chA := h.openSession("bob")

	require.NoError(t, h.client.Sessions.Connect(h.ctx, "carol"))

	ops := h.transport.Ops()
	closeA := indexOf(ops, "close:"+chA.ID())
	connectB := indexOf(ops, "connect:carol")
	require.NotEqual(t, -1, closeA)
	require.NotEqual(t, -1, connectB)
	assert.Less(t, closeA, connectB)
	assert.Equal(t, 1, chA.CloseCount)

	session := h.client.Sessions.Session()
	assert.Equal(t, domain.PeerID("carol"), session.RemotePeer)
	assert.Equal(t, domain.SessionConnecting, session.State)
}

func TestConnect_EmptyPeerID(t *testing.T) {
	h := newHarness(t)

	err := h.client.Sessions.Connect(h.ctx, "  ")

	assert.ErrorIs(t, err, domain.ErrEmptyPeerID)
	assert.Equal(t, 1, h.renderer.Count("Please enter a Peer ID"))
	assert.Zero(t, h.transport.CountOps("connect:"))
}

func TestConnect_TransportError(t *testing.T) {
	h := newHarness(t)
	h.transport.ConnectErr = errors.New("peer unavailable")

	err := h.client.Sessions.Connect(h.ctx, "bob")

	assert.Equal(t, apperrors.ErrCodeTransport, apperrors.CodeOf(err))
	assert.Equal(t, 1, h.renderer.Count("Connection error: peer unavailable"))
	assert.Equal(t, "false", h.store.Value(KeyIsConnecting))
	assert.Equal(t, domain.SessionIdle, h.client.Sessions.State())
}

func TestAcceptInbound_RejectedWhileOpen(t *testing.T) {
	h := newHarness(t)
	ch := h.openSession("bob")
	before := h.client.Sessions.Session()

	for i := 0; i < 2; i++ {
		inbound := h.transport.InboundChannel("carol")
		h.emit(ports.Event{Type: ports.EventInboundConnection, Channel: inbound})
		assert.True(t, inbound.Closed())
	}

	assert.Equal(t, before, h.client.Sessions.Session())
	assert.False(t, ch.Closed())
	assert.Equal(t, 2, h.metrics.Get("inbound_rejected"))
}

func TestAcceptInbound_ReplacesConnectingSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Sessions.Connect(h.ctx, "bob"))
	outbound := h.transport.LastChannel()

	inbound := h.transport.InboundChannel("carol")
	require.NoError(t, h.client.Sessions.AcceptInbound(h.ctx, inbound))

	assert.True(t, outbound.Closed())
	session := h.client.Sessions.Session()
	assert.Equal(t, domain.PeerID("carol"), session.RemotePeer)
	assert.Equal(t, domain.DirectionInbound, session.Direction)

	h.emit(inbound.Event(ports.EventChannelOpen))
	assert.True(t, h.client.Sessions.IsOpen())
	assert.Len(t, inbound.SentPayloads(), 1)
}

func TestChannelClose_ClosesSessionAndKeepsIntentPeer(t *testing.T) {
	h := newHarness(t)
	ch := h.openSession("bob")

	h.emit(ch.Event(ports.EventChannelClose))

	assert.Equal(t, domain.SessionClosed, h.client.Sessions.State())
	assert.Equal(t, "bob", h.store.Value(KeyLastPeerID))
	assert.Equal(t, "false", h.store.Value(KeyIsConnecting))
	assert.Equal(t, 1, h.renderer.Count("Disconnected from bob"))
	// the prober keeps watching the peer that went away
	assert.True(t, h.client.Prober.Active())
}

func TestChannelError_ReportsError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Sessions.Connect(h.ctx, "bob"))
	ch := h.transport.LastChannel()

	h.emit(ports.Event{Type: ports.EventChannelError, Channel: ch, Err: errors.New("ice failed")})

	assert.Equal(t, domain.SessionClosed, h.client.Sessions.State())
	assert.Equal(t, 1, h.renderer.Count("Connection error: ice failed"))
}

func TestStaleChannelEventsIgnored(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Sessions.Connect(h.ctx, "bob"))
	old := h.transport.LastChannel()
	require.NoError(t, h.client.Sessions.Connect(h.ctx, "carol"))

	h.emit(old.Event(ports.EventChannelClose))
	h.emit(old.Event(ports.EventChannelOpen))

	assert.Equal(t, domain.SessionConnecting, h.client.Sessions.State())
	assert.Equal(t, "carol", h.store.Value(KeyLastPeerID))
	assert.Equal(t, "true", h.store.Value(KeyIsConnecting))
	assert.False(t, h.renderer.Has("Disconnected from bob"))
}

func TestDisconnect_Idempotent(t *testing.T) {
	h := newHarness(t)
	ch := h.openSession("bob")

	h.client.Sessions.Disconnect(h.ctx)
	h.client.Sessions.Disconnect(h.ctx)

	assert.True(t, ch.Closed())
	assert.Equal(t, domain.SessionIdle, h.client.Sessions.State())
	assert.Equal(t, 1, h.renderer.Count("Disconnected"))
	assert.False(t, h.client.Prober.Active())
	assert.Zero(t, h.scheduler.Pending())
	_, ok := h.store.Data[KeyIsConnecting]
	assert.False(t, ok)
	assert.Equal(t, domain.PeerID("bob"), h.client.Sessions.LastPeer())
}

func TestReconnect_WithoutPreviousPeer(t *testing.T) {
	h := newHarness(t)

	h.client.Sessions.Disconnect(h.ctx)
	err := h.client.Sessions.Reconnect(h.ctx)
	h.scheduler.Advance(time.Minute)

	assert.ErrorIs(t, err, domain.ErrNoPreviousPeer)
	assert.Equal(t, 1, h.renderer.Count("No previous connection found"))
	assert.Empty(t, h.transport.Ops())
}

func TestReconnect_NotInitialized(t *testing.T) {
	h := newHarness(t)
	h.client.Sessions.RememberPeer("bob")
	h.transport.SetReady(false)

	err := h.client.Sessions.Reconnect(h.ctx)

	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	assert.Equal(t, 1, h.renderer.Count("Cannot reconnect - peer not initialized"))
	assert.Zero(t, h.transport.CountOps("connect:"))
}

func TestReconnect_TearsDownThenConnectsAfterDelay(t *testing.T) {
	h := newHarness(t)
	ch := h.openSession("bob")

	require.NoError(t, h.client.Sessions.Reconnect(h.ctx))
	assert.True(t, ch.Closed())
	assert.Equal(t, 1, h.renderer.Count("Disconnected from current peer"))
	assert.Equal(t, 1, h.transport.CountOps("connect:bob"))

	h.scheduler.Advance(299 * time.Millisecond)
	assert.Equal(t, 1, h.transport.CountOps("connect:bob"))

	h.scheduler.Advance(time.Millisecond)
	assert.Equal(t, 2, h.transport.CountOps("connect:bob"))
	assert.Equal(t, 1, h.renderer.Count("Reconnecting to bob..."))
}

func TestDisconnect_CancelsPendingReconnect(t *testing.T) {
	h := newHarness(t)
	h.openSession("bob")
	require.NoError(t, h.client.Sessions.Reconnect(h.ctx))

	h.client.Sessions.Disconnect(h.ctx)
	h.scheduler.Advance(time.Second)

	assert.Equal(t, 1, h.transport.CountOps("connect:bob"))
}

func TestSend_RequiresOpenSession(t *testing.T) {
	h := newHarness(t)

	err := h.client.Sessions.Send(domain.NewTextPayload("Alice", "hi"))

	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Equal(t, 1, h.renderer.Count("Not connected to any peer"))
}

func TestChannelData_RoutedToRenderer(t *testing.T) {
	h := newHarness(t)
	ch := h.openSession("bob")

	h.emit(ch.DataEvent(domain.NewTextPayload("Bob", "hello")))

	assert.Equal(t, 1, h.renderer.Count("Bob: hello"))
}
