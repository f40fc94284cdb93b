package media

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"peerlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// writeIVF writes a minimal VP8 IVF file with n frames.
func writeIVF(t *testing.T, path string, n int) {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:14], 64)
	binary.LittleEndian.PutUint16(header[14:16], 48)
	binary.LittleEndian.PutUint32(header[16:20], 30)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(n))

	data := header
	for i := 0; i < n; i++ {
		frame := make([]byte, 12+4)
		binary.LittleEndian.PutUint32(frame[0:4], 4)
		binary.LittleEndian.PutUint64(frame[4:12], uint64(i))
		data = append(data, frame...)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestFileDevices_NoSourceIsDenied(t *testing.T) {
	d := NewFileDevices("", "", zap.NewNop().Sugar())

	_, err := d.RequestAudioVideo(context.Background())

	assert.ErrorIs(t, err, domain.ErrMediaDenied)
}

func TestFileDevices_MissingFileIsDenied(t *testing.T) {
	d := NewFileDevices(filepath.Join(t.TempDir(), "missing.ivf"), "", zap.NewNop().Sugar())

	_, err := d.RequestAudioVideo(context.Background())

	assert.ErrorIs(t, err, domain.ErrMediaDenied)
}

func TestFileDevices_RejectsNonVP8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ivf")
	writeIVF(t, path, 1)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	copy(data[8:12], "AV01")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = NewFileDevices(path, "", zap.NewNop().Sugar()).RequestAudioVideo(context.Background())

	assert.ErrorIs(t, err, domain.ErrMediaDenied)
}

func TestFileDevices_VideoStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ivf")
	writeIVF(t, path, 3)

	stream, err := NewFileDevices(path, "", zap.NewNop().Sugar()).RequestAudioVideo(context.Background())
	require.NoError(t, err)

	require.Len(t, stream.VideoTracks(), 1)
	assert.Empty(t, stream.AudioTracks())
	video := stream.VideoTracks()[0]
	assert.Equal(t, domain.MediaVideo, video.Kind())
	assert.True(t, video.Enabled())

	video.SetEnabled(false)
	assert.False(t, video.Enabled())

	src, ok := stream.(TrackSource)
	require.True(t, ok)
	assert.Len(t, src.WebRTCTracks(), 1)

	stream.Stop()
	assert.True(t, video.(*localTrack).Stopped())
}

func TestRecorder_OpenTrack(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }

	w, err := r.OpenTrack("bob", "mc_1", webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.FileExists(t, filepath.Join(dir, "bob_mc_1_20240101-120000.ogg"))

	w, err = r.OpenTrack("bob", "mc_1", webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.FileExists(t, filepath.Join(dir, "bob_mc_1_20240101-120000.ivf"))

	_, err = r.OpenTrack("bob", "mc_1", webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
	})
	assert.Error(t, err)
}
