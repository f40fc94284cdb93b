package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

const oggPageDuration = 20 * time.Millisecond

// FileDevices stands in for camera and microphone by looping an IVF (VP8)
// video file and an Ogg (Opus) audio file. With neither configured access
// is denied.
type FileDevices struct {
	VideoFile string
	AudioFile string
	logger    *zap.SugaredLogger
}

var _ ports.MediaDevices = (*FileDevices)(nil)

func NewFileDevices(videoFile, audioFile string, logger *zap.SugaredLogger) *FileDevices {
	return &FileDevices{VideoFile: videoFile, AudioFile: audioFile, logger: logger}
}

func (d *FileDevices) RequestAudioVideo(ctx context.Context) (ports.MediaStream, error) {
	if d.VideoFile == "" && d.AudioFile == "" {
		return nil, fmt.Errorf("%w: no capture source configured", domain.ErrMediaDenied)
	}

	if d.VideoFile != "" {
		if err := checkIVF(d.VideoFile); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMediaDenied, err)
		}
	}
	if d.AudioFile != "" {
		if err := checkOgg(d.AudioFile); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMediaDenied, err)
		}
	}

	streamID := "peerlink-" + uuid.NewString()
	stream := &LocalStream{id: streamID}

	if d.VideoFile != "" {
		track, err := d.startTrack(domain.MediaVideo, webrtc.MimeTypeVP8, streamID, d.VideoFile, d.readVideo)
		if err != nil {
			return nil, err
		}
		stream.video = append(stream.video, track)
	}
	if d.AudioFile != "" {
		track, err := d.startTrack(domain.MediaAudio, webrtc.MimeTypeOpus, streamID, d.AudioFile, d.readAudio)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		stream.audio = append(stream.audio, track)
	}

	d.logger.Infow("Local media started", "stream_id", streamID, "video", d.VideoFile, "audio", d.AudioFile)
	return stream, nil
}

func (d *FileDevices) startTrack(kind domain.MediaKind, mimeType, streamID, path string, read reader) (*localTrack, error) {
	sample, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, string(kind), streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	track := newLocalTrack(kind, sample)
	track.stop = cancel
	go d.pump(ctx, track, path, read)
	return track, nil
}

type reader func(ctx context.Context, track *localTrack, f *os.File) error

// pump plays path into track, starting over at the end, until ctx is done.
func (d *FileDevices) pump(ctx context.Context, track *localTrack, path string, read reader) {
	for ctx.Err() == nil {
		f, err := os.Open(path)
		if err != nil {
			d.logger.Warnw("Capture source unavailable", "path", path, "error", err)
			return
		}
		err = read(ctx, track, f)
		f.Close()
		if err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
			d.logger.Warnw("Capture source failed", "path", path, "error", err)
			return
		}
	}
}

func (d *FileDevices) readVideo(ctx context.Context, track *localTrack, f *os.File) error {
	ivf, header, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}
	frameDuration := time.Millisecond * time.Duration(float64(header.TimebaseNumerator)/float64(header.TimebaseDenominator)*1000)
	if frameDuration <= 0 {
		frameDuration = 33 * time.Millisecond
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		frame, _, err := ivf.ParseNextFrame()
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !track.Enabled() {
			continue
		}
		if err := track.sample.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}
	}
}

func (d *FileDevices) readAudio(ctx context.Context, track *localTrack, f *os.File) error {
	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	var lastGranule uint64
	for {
		page, header, err := ogg.ParseNextPage()
		if err != nil {
			return err
		}
		samples := float64(header.GranulePosition - lastGranule)
		lastGranule = header.GranulePosition
		duration := time.Duration((samples/48000)*1000) * time.Millisecond

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !track.Enabled() {
			continue
		}
		if err := track.sample.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}

func checkIVF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if header.FourCC != "VP80" {
		return fmt.Errorf("%s: unsupported codec %q", path, header.FourCC)
	}
	return nil
}

func checkOgg(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, _, err := oggreader.NewWith(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
