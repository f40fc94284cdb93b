package webrtc

import (
	"errors"
	"io"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/infrastructure/media"
	"peerlink/pkg/optimize"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

var readBuffers = optimize.NewBytePool(optimize.MTU)

func (t *Transport) onTrack(call *mediaCall) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind := domain.MediaAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.MediaVideo
		}
		call.stream.add(kind)

		call.conn.logger.Infow("Remote track started",
			"kind", kind,
			"codec", track.Codec().MimeType,
		)
		t.emit(ports.Event{Type: ports.EventRemoteStream, Call: call, Stream: call.stream})

		go t.processRTCP(call, receiver)
		go t.pumpRemoteTrack(call, track)
	}
}

// pumpRemoteTrack reads the remote track until it ends, feeding the sink and
// requesting keyframes for video.
func (t *Transport) pumpRemoteTrack(call *mediaCall, track *webrtc.TrackRemote) {
	logger := call.conn.logger.With("track_id", track.ID())

	var w media.RTPWriter
	if t.opts.Sink != nil {
		var err error
		w, err = t.opts.Sink.OpenTrack(call.RemotePeer(), call.ID(), track.Codec())
		if err != nil {
			logger.Warnw("Remote track not recorded", "error", err)
		}
	}
	defer func() {
		if w != nil {
			if err := w.Close(); err != nil {
				logger.Debugw("Closing track writer failed", "error", err)
			}
		}
	}()

	var kf *keyframeTracker
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kf = newKeyframeTracker(track.Codec().MimeType, t.opts.KeyframeInterval)
	}

	buf := readBuffers.Get()
	defer readBuffers.Put(buf)

	// pkt aliases buf and is only valid until the next read
	pkt := &rtp.Packet{}
	var packets uint64
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debugw("Remote track ended", "error", err)
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			logger.Debugw("Dropping malformed RTP packet", "error", err)
			continue
		}
		packets++

		if kf != nil {
			now := time.Now()
			kf.Observe(pkt, now)
			if kf.NeedsRequest(now) {
				kf.Requested(now)
				pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
				if err := call.conn.pc.WriteRTCP(pli); err != nil {
					logger.Debugw("Keyframe request failed", "error", err)
				}
			}
		}

		if w != nil {
			if err := w.WriteRTP(pkt); err != nil {
				logger.Warnw("Writing remote track failed", "error", err)
				_ = w.Close()
				w = nil
			}
		}

		if packets%1000 == 0 {
			logger.Debugw("Remote track progress", "packets", packets, "sequence", pkt.SequenceNumber)
		}
	}
}

func (t *Transport) processRTCP(call *mediaCall, receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range packets {
			if sr, ok := p.(*rtcp.SenderReport); ok {
				call.conn.logger.Debugw("Received sender report",
					"packet_count", sr.PacketCount,
					"octet_count", sr.OctetCount,
				)
			}
		}
	}
}
