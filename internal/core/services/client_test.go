package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	apperrors "peerlink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStartHarness is a harness whose transport has not been initialized yet.
func newStartHarness(t *testing.T) *harness {
	h := newHarness(t)
	h.transport.SetReady(false)
	h.client.Sessions.SetIdentity(nil)
	return h
}

func TestClient_StartReturningUser(t *testing.T) {
	h := newStartHarness(t)
	h.store.Data[KeyPeerID] = "alice"
	h.store.Data[KeyDisplayName] = "Alice"
	h.store.Data[KeyLastPeerID] = "bob"

	require.NoError(t, h.client.Start(h.ctx))

	assert.Zero(t, h.onboarder.Prompts)
	assert.Equal(t, 1, h.renderer.Count("Welcome back, Alice!"))
	assert.Equal(t, []string{"initialize:alice"}, h.transport.Ops())
	assert.Equal(t, domain.PeerID("bob"), h.client.Sessions.LastPeer())
}

func TestClient_StartOnboardsFirstRun(t *testing.T) {
	h := newStartHarness(t)
	h.onboarder.PeerID = " alice "
	h.onboarder.DisplayName = "Alice"

	require.NoError(t, h.client.Start(h.ctx))

	assert.Equal(t, 1, h.onboarder.Prompts)
	assert.Equal(t, "alice", h.store.Value(KeyPeerID))
	assert.Equal(t, "Alice", h.store.Value(KeyDisplayName))
	assert.Equal(t, 1, h.renderer.Count("Welcome, Alice!"))
	assert.Equal(t, []string{"initialize:alice"}, h.transport.Ops())
}

func TestClient_StartOnboardingValidation(t *testing.T) {
	tests := []struct {
		name   string
		peerID string
		dname  string
		notice string
	}{
		{name: "missing peer id", peerID: "", dname: "Alice", notice: "Peer ID is required"},
		{name: "missing display name", peerID: "alice", dname: "  ", notice: "Display name is required"},
		{name: "bad peer id", peerID: "alice smith", dname: "Alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newStartHarness(t)
			h.onboarder.PeerID = tt.peerID
			h.onboarder.DisplayName = tt.dname

			err := h.client.Start(h.ctx)

			assert.Equal(t, apperrors.ErrCodeSetup, apperrors.CodeOf(err))
			assert.Empty(t, h.transport.Ops())
			assert.Empty(t, h.store.Data)
			if tt.notice != "" {
				assert.Equal(t, 1, h.renderer.Count(tt.notice))
			}
		})
	}
}

func TestClient_StartTransportFailure(t *testing.T) {
	h := newStartHarness(t)
	h.store.Data[KeyPeerID] = "alice"
	h.store.Data[KeyDisplayName] = "Alice"
	h.transport.InitErr = errors.New("signal server unreachable")

	err := h.client.Start(h.ctx)

	assert.Equal(t, apperrors.ErrCodeSetup, apperrors.CodeOf(err))
	assert.Equal(t, 1, h.renderer.Count("Error: signal server unreachable"))
}

func TestClient_ResumesInterruptedConnection(t *testing.T) {
	h := newHarness(t)
	h.store.Data[KeyLastPeerID] = "bob"
	h.store.Data[KeyIsConnecting] = "true"

	h.emit(ports.Event{Type: ports.EventLocalIDReady, LocalID: "alice"})

	assert.Equal(t, 1, h.renderer.Count("Your peer ID is: alice"))
	assert.Zero(t, h.transport.CountOps("connect:"))

	h.scheduler.Advance(time.Second)

	assert.Equal(t, 1, h.transport.CountOps("connect:bob"))
	assert.Equal(t, 1, h.renderer.Count("Attempting to reconnect to bob..."))
}

func TestClient_NoResumeWithoutIntent(t *testing.T) {
	h := newHarness(t)
	h.store.Data[KeyLastPeerID] = "bob"
	h.store.Data[KeyIsConnecting] = "false"

	h.emit(ports.Event{Type: ports.EventLocalIDReady, LocalID: "alice"})
	h.scheduler.Advance(time.Minute)

	assert.Empty(t, h.transport.Ops())
}

func TestClient_ProbeEventsGoToProber(t *testing.T) {
	h := newHarness(t)
	ch := h.openSession("bob")
	probe := h.transport.LastProbe()

	h.emit(probe.Event(ports.EventChannelClose))

	assert.True(t, h.client.Sessions.IsOpen())
	assert.False(t, ch.Closed())
	assert.Equal(t, 1, h.metrics.Get("probe_offline"))
}

func TestClient_InitErrorEvent(t *testing.T) {
	h := newHarness(t)

	h.emit(ports.Event{Type: ports.EventInitError, Err: errors.New("unavailable-id")})

	assert.Equal(t, 1, h.renderer.Count("Error: unavailable-id"))
}

func TestClient_ClearData(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Persistence.SaveIdentity(h.ctx, domain.Identity{PeerID: "alice", DisplayName: "Alice"}))
	ch := h.openSession("bob")

	require.NoError(t, h.client.ClearData(h.ctx))

	assert.True(t, ch.Closed())
	assert.Empty(t, h.store.Data)
	assert.Empty(t, h.client.Sessions.LastPeer())
	assert.Equal(t, 1, h.renderer.Count("All data cleared. Please restart the client."))
	assert.ErrorIs(t, h.client.Sessions.Reconnect(h.ctx), domain.ErrNoPreviousPeer)
}

func TestClient_ClearLog(t *testing.T) {
	h := newHarness(t)
	h.openSession("bob")

	h.client.ClearLog()

	assert.Equal(t, 1, h.renderer.LogCleared)
	assert.Empty(t, h.renderer.Lines)
}

func TestClient_RunProcessesEventsAndCommands(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	// a real loop needs a real scheduler
	h.client = NewClient(DefaultClientOptions(), ClientDeps{
		Transport: h.transport,
		Store:     h.store,
		Devices:   h.devices,
		Platform:  h.platform,
		Focus:     h.focus,
		Renderer:  h.renderer,
		Onboarder: h.onboarder,
		Clock:     h.clock,
	})
	h.client.Sessions.SetIdentity(&domain.Identity{PeerID: "alice", DisplayName: "Alice"})

	done := make(chan error, 1)
	go func() { done <- h.client.Run(ctx) }()

	require.NoError(t, h.client.Do(ctx, func(ctx context.Context) error {
		return h.client.Sessions.Connect(ctx, "bob")
	}))
	h.transport.Emit(h.transport.LastChannel().Event(ports.EventChannelOpen))

	var open bool
	require.Eventually(t, func() bool {
		_ = h.client.Do(ctx, func(context.Context) error {
			open = h.client.Sessions.IsOpen()
			return nil
		})
		return open
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, h.transport.CountOps("transport-close"))
	assert.ErrorIs(t, h.client.Do(context.Background(), func(context.Context) error { return nil }), ErrClientStopped)
}

func TestClient_RequestLocationPostsBackToLoop(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	ch := h.openSession("bob")
	h.geo.Results = nil

	done := make(chan error, 1)
	go func() { done <- h.client.Run(ctx) }()

	require.NoError(t, h.client.Do(ctx, func(ctx context.Context) error {
		h.client.RequestLocation(ctx)
		return nil
	}))

	require.Eventually(t, func() bool {
		return h.renderer.Has("Location error: no fix")
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.renderer.Count("Requesting location..."))
	assert.Len(t, ch.SentPayloads(), 1)

	cancel()
	<-done
}
