package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"peerlink/internal/core/ports"
	"peerlink/internal/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGate(permission bool) (*NotificationGate, *testutils.MockPlatform, *testutils.MockFocus, *testutils.StubClock, *testutils.RecordingMetrics) {
	platform := &testutils.MockPlatform{Permission: permission}
	focus := &testutils.MockFocus{}
	clock := testutils.NewStubClock()
	metrics := testutils.NewRecordingMetrics()
	gate := NewNotificationGate(platform, focus, clock, metrics, 5*time.Second, "icon.png", zap.NewNop().Sugar())
	return gate, platform, focus, clock, metrics
}

func TestNotificationGate_Cooldown(t *testing.T) {
	gate, platform, _, clock, metrics := newTestGate(true)
	gate.Init(context.Background())

	assert.True(t, gate.Notify("first", "a", ports.NotifyOptions{}))
	clock.Advance(4 * time.Second)
	assert.False(t, gate.Notify("second", "b", ports.NotifyOptions{}))
	assert.Len(t, platform.Shown, 1)
	assert.Equal(t, 1, metrics.Get("notification_suppressed_cooldown"))

	gate2, platform2, _, clock2, _ := newTestGate(true)
	gate2.Init(context.Background())
	assert.True(t, gate2.Notify("first", "a", ports.NotifyOptions{}))
	clock2.Advance(6 * time.Second)
	assert.True(t, gate2.Notify("second", "b", ports.NotifyOptions{}))
	assert.Equal(t, []string{"first", "second"}, platform2.ShownTitles())
}

func TestNotificationGate_SuppressedCooldownDoesNotExtendWindow(t *testing.T) {
	gate, platform, _, clock, _ := newTestGate(true)
	gate.Init(context.Background())

	gate.Notify("a", "", ports.NotifyOptions{})
	clock.Advance(3 * time.Second)
	gate.Notify("b", "", ports.NotifyOptions{})
	clock.Advance(2 * time.Second)

	assert.True(t, gate.Notify("c", "", ports.NotifyOptions{}))
	assert.Equal(t, []string{"a", "c"}, platform.ShownTitles())
}

func TestNotificationGate_RequiresPermission(t *testing.T) {
	gate, platform, _, _, metrics := newTestGate(false)
	gate.Init(context.Background())

	assert.False(t, gate.Granted())
	assert.False(t, gate.Notify("title", "body", ports.NotifyOptions{}))
	assert.Empty(t, platform.Shown)
	assert.Equal(t, 1, metrics.Get("notification_suppressed_permission"))
}

func TestNotificationGate_PermissionErrorDenies(t *testing.T) {
	gate, platform, _, _, _ := newTestGate(true)
	platform.PermErr = errors.New("no notification daemon")
	gate.Init(context.Background())

	assert.False(t, gate.Notify("title", "body", ports.NotifyOptions{}))
}

func TestNotificationGate_SuppressedWhileFocused(t *testing.T) {
	gate, platform, focus, _, metrics := newTestGate(true)
	gate.Init(context.Background())
	focus.Focused = true

	assert.False(t, gate.Notify("title", "body", ports.NotifyOptions{}))
	assert.Empty(t, platform.Shown)
	assert.Equal(t, 1, metrics.Get("notification_suppressed_focus"))

	// suppression by focus does not start the cooldown
	focus.Focused = false
	assert.True(t, gate.Notify("title", "body", ports.NotifyOptions{}))
}

func TestNotificationGate_ShowsWithAlertAndClickFocus(t *testing.T) {
	gate, platform, focus, _, metrics := newTestGate(true)
	gate.Init(context.Background())

	require.True(t, gate.Notify("New message from Bob", "hi", ports.NotifyOptions{}))

	require.Len(t, platform.Shown, 1)
	n := platform.Shown[0]
	assert.Equal(t, "hi", n.Body)
	assert.Equal(t, "icon.png", n.Icon)
	assert.Equal(t, notificationTag, n.Tag)
	assert.True(t, n.Renotify)
	assert.Equal(t, []int{200, 100, 200}, n.Vibrate)
	assert.Equal(t, 1, platform.Alerts)
	assert.Equal(t, 1, metrics.Get("notification_shown"))

	require.NotNil(t, n.OnClick)
	n.OnClick()
	assert.Equal(t, 1, focus.FocusCalls)
	assert.True(t, focus.Focused)
}

func TestNotificationGate_IconOverride(t *testing.T) {
	gate, platform, _, clock, _ := newTestGate(true)
	gate.Init(context.Background())

	require.True(t, gate.Notify("New file from Bob", "notes.txt", ports.NotifyOptions{Icon: "mail-attachment"}))
	clock.Advance(6 * time.Second)
	require.True(t, gate.Notify("New message from Bob", "hi", ports.NotifyOptions{}))

	require.Len(t, platform.Shown, 2)
	assert.Equal(t, "mail-attachment", platform.Shown[0].Icon)
	assert.Equal(t, "icon.png", platform.Shown[1].Icon)
}
