package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"peerlink/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"go.uber.org/zap"
)

type RTPWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// TrackSink receives the RTP of each remote track of a call.
type TrackSink interface {
	OpenTrack(remote domain.PeerID, callID string, codec webrtc.RTPCodecParameters) (RTPWriter, error)
}

// Recorder renders remote streams to disk: VP8 video as IVF, Opus audio as Ogg.
type Recorder struct {
	dir    string
	now    func() time.Time
	logger *zap.SugaredLogger
}

var _ TrackSink = (*Recorder)(nil)

func NewRecorder(dir string, logger *zap.SugaredLogger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	return &Recorder{dir: dir, now: time.Now, logger: logger}, nil
}

func (r *Recorder) OpenTrack(remote domain.PeerID, callID string, codec webrtc.RTPCodecParameters) (RTPWriter, error) {
	base := fmt.Sprintf("%s_%s_%s", remote, callID, r.now().Format("20060102-150405"))

	var (
		w    RTPWriter
		path string
		err  error
	)
	switch strings.ToLower(codec.MimeType) {
	case strings.ToLower(webrtc.MimeTypeVP8):
		path = filepath.Join(r.dir, base+".ivf")
		w, err = ivfwriter.New(path)
	case strings.ToLower(webrtc.MimeTypeOpus):
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		path = filepath.Join(r.dir, base+".ogg")
		w, err = oggwriter.New(path, codec.ClockRate, channels)
	default:
		return nil, fmt.Errorf("cannot record codec %s", codec.MimeType)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	r.logger.Infow("Recording remote track", "peer_id", remote, "call_id", callID, "path", path)
	return w, nil
}
