package services

import (
	"context"
	"testing"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/testutils"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type harness struct {
	t         *testing.T
	ctx       context.Context
	client    *Client
	transport *testutils.MockTransport
	store     *testutils.MemoryStore
	devices   *testutils.MockDevices
	geo       *testutils.MockGeolocator
	platform  *testutils.MockPlatform
	focus     *testutils.MockFocus
	renderer  *testutils.MockRenderer
	onboarder *testutils.MockOnboarder
	clock     *testutils.StubClock
	scheduler *testutils.ManualScheduler
	metrics   *testutils.RecordingMetrics
}

// newHarness builds a client for alice whose transport is already live and
// whose notification permission is granted.
func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := testutils.NewStubClock()
	h := &harness{
		t:         t,
		ctx:       context.Background(),
		transport: testutils.NewReadyTransport("alice"),
		store:     testutils.NewMemoryStore(),
		devices:   &testutils.MockDevices{},
		geo:       &testutils.MockGeolocator{},
		platform:  &testutils.MockPlatform{Permission: true},
		focus:     &testutils.MockFocus{},
		renderer:  &testutils.MockRenderer{},
		onboarder: &testutils.MockOnboarder{},
		clock:     clock,
		scheduler: testutils.NewManualScheduler(clock),
		metrics:   testutils.NewRecordingMetrics(),
	}
	h.client = NewClient(DefaultClientOptions(), ClientDeps{
		Transport:  h.transport,
		Store:      h.store,
		Devices:    h.devices,
		Geolocator: h.geo,
		Platform:   h.platform,
		Focus:      h.focus,
		Renderer:   h.renderer,
		Onboarder:  h.onboarder,
		Scheduler:  h.scheduler,
		Clock:      h.clock,
		Metrics:    h.metrics,
		Logger:     zaptest.NewLogger(t).Sugar(),
	})
	h.client.Gate.Init(h.ctx)
	h.client.Sessions.SetIdentity(&domain.Identity{PeerID: "alice", DisplayName: "Alice"})
	return h
}

func (h *harness) emit(ev ports.Event) {
	h.client.HandleEvent(h.ctx, ev)
}

// openSession connects to remote and delivers the open event.
func (h *harness) openSession(remote domain.PeerID) *testutils.MockChannel {
	h.t.Helper()
	require.NoError(h.t, h.client.Sessions.Connect(h.ctx, remote))
	ch := h.transport.LastChannel()
	require.NotNil(h.t, ch)
	h.emit(ch.Event(ports.EventChannelOpen))
	require.True(h.t, h.client.Sessions.IsOpen())
	return ch
}

func indexOf(ops []string, op string) int {
	for i, o := range ops {
		if o == op {
			return i
		}
	}
	return -1
}
