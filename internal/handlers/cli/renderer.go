package cli

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/utils"

	"go.uber.org/zap"
)

const clearScreen = "\033[H\033[2J"

// TerminalRenderer prints the chat log to a terminal. Received files and
// photos are saved under the download directory. It is safe for concurrent use.
type TerminalRenderer struct {
	mu          sync.Mutex
	out         io.Writer
	downloadDir string
	logger      *zap.SugaredLogger
}

func NewTerminalRenderer(out io.Writer, downloadDir string, logger *zap.SugaredLogger) *TerminalRenderer {
	return &TerminalRenderer{out: out, downloadDir: downloadDir, logger: logger}
}

func (r *TerminalRenderer) printf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *TerminalRenderer) AppendLine(text string, kind ports.LineKind) {
	switch kind {
	case ports.LineSystem:
		r.printf("* %s\n", text)
	case ports.LineLocal:
		r.printf("> %s\n", text)
	case ports.LineRemoteSystem:
		r.printf("* %s\n", remoteText(text))
	default:
		r.printf("< %s\n", remoteText(text))
	}
}

// remoteText strips control characters from peer-supplied text so it cannot
// drive the terminal. Newlines and tabs are kept.
func remoteText(s string) string {
	return strings.ReplaceAll(utils.SanitizeString(s), "\r", "")
}

// remoteName reduces a peer-supplied name to a single printable line.
func remoteName(s string) string {
	return strings.Join(strings.Fields(utils.SanitizeString(s)), " ")
}

func (r *TerminalRenderer) ShowFile(filename string, data []byte, origin ports.LineKind) {
	r.showAttachment("Download", filename, data, origin)
}

func (r *TerminalRenderer) ShowImage(filename string, data []byte, origin ports.LineKind) {
	r.showAttachment("Photo", filename, data, origin)
}

func (r *TerminalRenderer) showAttachment(label, filename string, data []byte, origin ports.LineKind) {
	if origin == ports.LineLocal {
		r.printf("  %s %s (%d bytes)\n", label, filename, len(data))
		return
	}

	shown := remoteName(filename)
	path, err := r.save(filename, data)
	if err != nil {
		r.logger.Warnw("Failed to save attachment", "filename", filename, "error", err)
		r.printf("  %s %s failed: %v\n", label, shown, err)
		return
	}
	r.printf("  %s %s: %s\n", label, shown, path)
}

// save writes data under the download directory without overwriting anything.
func (r *TerminalRenderer) save(filename string, data []byte) (string, error) {
	name := safeName(filename)
	if err := os.MkdirAll(r.downloadDir, 0o755); err != nil {
		return "", err
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(r.downloadDir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		_, err = f.Write(data)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return path, err
	}
}

// safeName keeps only the last path element of a name chosen by the remote peer.
func safeName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(remoteName(filename), "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "download"
	}
	return name
}

func (r *TerminalRenderer) ShowLocation(loc domain.Location, origin ports.LineKind) {
	r.printf("  %s\n", LocationLine(loc))
}

// LocationLine renders a location as a maps link with accuracy in whole metres.
func LocationLine(loc domain.Location) string {
	return fmt.Sprintf("View Location (Accuracy: %dm): https://www.google.com/maps?q=%v,%v",
		int(math.Round(loc.Accuracy)), loc.Lat, loc.Lng)
}

func (r *TerminalRenderer) ShowRemoteStream(stream ports.RemoteStream) {
	kinds := make([]string, 0, 2)
	for _, k := range stream.Kinds() {
		kinds = append(kinds, string(k))
	}
	r.printf("* Receiving %s from %s\n", strings.Join(kinds, "+"), stream.RemotePeer())
}

func (r *TerminalRenderer) ClearRemoteStream() {
	r.printf("* Remote stream closed\n")
}

func (r *TerminalRenderer) ClearLog() {
	r.printf(clearScreen)
}
