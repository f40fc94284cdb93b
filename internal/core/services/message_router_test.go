package services

import (
	"testing"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_TextNotifiesWithPreview(t *testing.T) {
	h := newHarness(t)

	h.client.Router.Route(domain.NewTextPayload("Bob", "this message is definitely longer than thirty runes"))

	last := h.renderer.Last()
	assert.Equal(t, ports.LineRemote, last.Kind)
	assert.Equal(t, "Bob: this message is definitely longer than thirty runes", last.Text)
	require.Len(t, h.platform.Shown, 1)
	assert.Equal(t, "New message from Bob", h.platform.Shown[0].Title)
	assert.Equal(t, "this message is definitely lon...", h.platform.Shown[0].Body)
	assert.Equal(t, 1, h.metrics.Get("payload_inbound_text"))
}

func TestRouter_SystemSenderNeverNotifies(t *testing.T) {
	h := newHarness(t)

	h.client.Router.Route(domain.NewTextPayload(domain.SystemSender, "Connected to Bob"))

	assert.Equal(t, ports.LineRemoteSystem, h.renderer.Last().Kind)
	assert.Empty(t, h.platform.Shown)
}

func TestRouter_FocusedDoesNotNotify(t *testing.T) {
	h := newHarness(t)
	h.focus.Focused = true

	h.client.Router.Route(domain.NewTextPayload("Bob", "hi"))

	assert.Equal(t, 1, h.renderer.Count("Bob: hi"))
	assert.Empty(t, h.platform.Shown)
}

func TestRouter_Attachments(t *testing.T) {
	tests := []struct {
		name    string
		payload *domain.Payload
		line    string
		title   string
		body    string
	}{
		{
			name:    "file",
			payload: domain.NewFilePayload("Bob", "notes.txt", []byte("hello")),
			line:    "Bob shared a file: notes.txt",
			title:   "New file from Bob",
			body:    "notes.txt",
		},
		{
			name:    "image",
			payload: domain.NewImagePayload("Bob", "cat.png", []byte{0x89, 'P', 'N', 'G'}),
			line:    "Bob shared a photo",
			title:   "New photo from Bob",
			body:    "Tap to view",
		},
		{
			name:    "location",
			payload: domain.NewLocationPayload("Bob", domain.Location{Lat: 52.37, Lng: 4.89, Accuracy: 12}),
			line:    "Bob shared their location",
			title:   "New location from Bob",
			body:    "Tap to view",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			h.client.Router.Route(tt.payload)

			assert.Equal(t, 1, h.renderer.Count(tt.line))
			require.Len(t, h.platform.Shown, 1)
			assert.Equal(t, tt.title, h.platform.Shown[0].Title)
			assert.Equal(t, tt.body, h.platform.Shown[0].Body)
		})
	}
}

func TestRouter_AttachmentsReachRenderer(t *testing.T) {
	h := newHarness(t)

	h.client.Router.Route(domain.NewFilePayload("Bob", "a.txt", []byte("x")))
	h.client.Router.Route(domain.NewImagePayload("Bob", "b.png", []byte("y")))
	h.client.Router.Route(domain.NewLocationPayload("Bob", domain.Location{Lat: 1, Lng: 2}))

	assert.Equal(t, []string{"a.txt"}, h.renderer.Files)
	assert.Equal(t, []string{"b.png"}, h.renderer.Images)
	assert.Equal(t, []domain.Location{{Lat: 1, Lng: 2}}, h.renderer.Locations)
}

func TestRouter_UnknownKindDropped(t *testing.T) {
	h := newHarness(t)

	h.client.Router.Route(&domain.Payload{Kind: "sticker", Sender: "Bob"})

	assert.Empty(t, h.renderer.Lines)
	assert.Empty(t, h.platform.Shown)
}

func TestRouter_AttachmentsUseAttachmentIcon(t *testing.T) {
	tests := []struct {
		name    string
		payload *domain.Payload
		icon    string
	}{
		{name: "file", payload: domain.NewFilePayload("Bob", "notes.txt", []byte("x")), icon: "mail-attachment"},
		{name: "photo", payload: domain.NewImagePayload("Bob", "cat.png", []byte("x")), icon: "mail-attachment"},
		{name: "text", payload: domain.NewTextPayload("Bob", "hi"), icon: "peerlink"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			h.client.Router.Route(tt.payload)

			require.Len(t, h.platform.Shown, 1)
			assert.Equal(t, tt.icon, h.platform.Shown[0].Icon)
		})
	}
}
