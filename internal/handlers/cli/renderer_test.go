package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRenderer(t *testing.T) (*TerminalRenderer, *bytes.Buffer, string) {
	t.Helper()
	var out bytes.Buffer
	dir := filepath.Join(t.TempDir(), "downloads")
	return NewTerminalRenderer(&out, dir, zaptest.NewLogger(t).Sugar()), &out, dir
}

func TestTerminalRenderer_Lines(t *testing.T) {
	r, out, _ := newRenderer(t)

	r.AppendLine("Connected to bob", ports.LineSystem)
	r.AppendLine("Alice: hi", ports.LineLocal)
	r.AppendLine("Bob: hello", ports.LineRemote)

	assert.Equal(t, "* Connected to bob\n> Alice: hi\n< Bob: hello\n", out.String())
}

func TestTerminalRenderer_StripsControlCharactersFromRemoteText(t *testing.T) {
	r, out, _ := newRenderer(t)

	r.AppendLine("Bob: \x1b[2Jgotcha\x07", ports.LineRemote)

	assert.Equal(t, "< Bob: [2Jgotcha\n", out.String())
}

func TestTerminalRenderer_SanitizesPeerSystemLines(t *testing.T) {
	r, out, _ := newRenderer(t)

	r.AppendLine("System: \x1b]0;owned\x07\x1b[2JConnected to Bob\r", ports.LineRemoteSystem)

	assert.Equal(t, "* System: ]0;owned[2JConnected to Bob\n", out.String())
	assert.NotContains(t, out.String(), "\x1b")
}

func TestTerminalRenderer_SanitizesRemoteFilenames(t *testing.T) {
	r, out, dir := newRenderer(t)

	r.ShowFile("evil\x1b[2J\nname.txt", []byte("x"), ports.LineRemote)

	assert.NotContains(t, out.String(), "\x1b")
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), "Download evil[2J name.txt: ")
	assert.FileExists(t, filepath.Join(dir, "evil[2J name.txt"))
}

func TestTerminalRenderer_SavesRemoteFiles(t *testing.T) {
	r, out, dir := newRenderer(t)

	r.ShowFile("report.pdf", []byte("one"), ports.LineRemote)
	r.ShowFile("report.pdf", []byte("two"), ports.LineRemote)

	first, err := os.ReadFile(filepath.Join(dir, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(first))
	second, err := os.ReadFile(filepath.Join(dir, "report (1).pdf"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(second))
	assert.Contains(t, out.String(), "Download report.pdf: "+filepath.Join(dir, "report.pdf"))
}

func TestTerminalRenderer_KeepsRemoteNamesInsideDownloadDir(t *testing.T) {
	r, _, dir := newRenderer(t)

	r.ShowImage("../../etc/passwd", []byte("x"), ports.LineRemote)
	r.ShowImage(`..\..\evil.png`, []byte("y"), ports.LineRemote)
	r.ShowImage("..", []byte("z"), ports.LineRemote)

	assert.FileExists(t, filepath.Join(dir, "passwd"))
	assert.FileExists(t, filepath.Join(dir, "evil.png"))
	assert.FileExists(t, filepath.Join(dir, "download"))
}

func TestTerminalRenderer_LocalAttachmentsAreNotSaved(t *testing.T) {
	r, out, dir := newRenderer(t)

	r.ShowFile("mine.txt", []byte("12345"), ports.LineLocal)

	assert.NoDirExists(t, dir)
	assert.Contains(t, out.String(), "Download mine.txt (5 bytes)")
}

func TestLocationLine(t *testing.T) {
	line := LocationLine(domain.Location{Lat: 52.52, Lng: 13.405, Accuracy: 12.6})
	assert.Equal(t, "View Location (Accuracy: 13m): https://www.google.com/maps?q=52.52,13.405", line)
}

func TestTerminalRenderer_Streams(t *testing.T) {
	r, out, _ := newRenderer(t)

	r.ShowRemoteStream(&testutils.MockRemoteStream{Peer: "bob"})
	r.ClearRemoteStream()
	r.ClearLog()

	assert.Equal(t, "* Receiving audio+video from bob\n* Remote stream closed\n"+clearScreen, out.String())
}

func TestPromptOnboarder(t *testing.T) {
	var out bytes.Buffer
	o := NewPromptOnboarder(strings.NewReader(" alice \nAlice\n"), &out)

	id, name, err := o.PromptIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", id)
	assert.Equal(t, "Alice", name)
	assert.Equal(t, "Enter your peer ID: Enter your display name: ", out.String())
}

func TestPromptOnboarder_Presets(t *testing.T) {
	var out bytes.Buffer
	o := NewPromptOnboarder(strings.NewReader("Alice\n"), &out)
	o.PeerID = "alice"

	id, name, err := o.PromptIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", id)
	assert.Equal(t, "Alice", name)
	assert.Equal(t, "Enter your display name: ", out.String())
}

func TestPromptOnboarder_EOF(t *testing.T) {
	o := NewPromptOnboarder(strings.NewReader(""), &bytes.Buffer{})

	id, name, err := o.PromptIdentity(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, name)
}

func TestPromptOnboarder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := NewPromptOnboarder(strings.NewReader("alice\n"), &bytes.Buffer{})

	_, _, err := o.PromptIdentity(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
