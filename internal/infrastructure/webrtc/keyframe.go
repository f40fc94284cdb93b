package webrtc

import (
	"strings"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// keyframeTracker decides when a remote video track needs a picture loss
// indication: at start and whenever no keyframe arrived for interval.
type keyframeTracker struct {
	mimeType     string
	interval     time.Duration
	lastKeyframe time.Time
	lastRequest  time.Time
}

func newKeyframeTracker(mimeType string, interval time.Duration) *keyframeTracker {
	return &keyframeTracker{mimeType: strings.ToLower(mimeType), interval: interval}
}

func (k *keyframeTracker) Observe(pkt *rtp.Packet, now time.Time) {
	if isKeyframe(k.mimeType, pkt.Payload) {
		k.lastKeyframe = now
	}
}

func (k *keyframeTracker) NeedsRequest(now time.Time) bool {
	if k.interval <= 0 {
		return false
	}
	if now.Sub(k.lastKeyframe) < k.interval {
		return false
	}
	return now.Sub(k.lastRequest) >= k.interval
}

func (k *keyframeTracker) Requested(now time.Time) {
	k.lastRequest = now
}

func isKeyframe(mimeType string, payload []byte) bool {
	switch mimeType {
	case strings.ToLower(webrtc.MimeTypeVP8):
		return isVP8Keyframe(payload)
	case strings.ToLower(webrtc.MimeTypeH264):
		return isH264Keyframe(payload)
	}
	return false
}

// isVP8Keyframe parses the RTP payload descriptor (RFC 7741) and checks the
// inverse key frame flag of the first partition.
func isVP8Keyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	b := payload[0]
	start := b&0x10 != 0
	partition := b & 0x0f
	if !start || partition != 0 {
		return false
	}

	i := 1
	if b&0x80 != 0 {
		if len(payload) < 2 {
			return false
		}
		x := payload[1]
		i++
		if x&0x80 != 0 { // PictureID
			if len(payload) <= i {
				return false
			}
			if payload[i]&0x80 != 0 {
				i += 2
			} else {
				i++
			}
		}
		if x&0x40 != 0 { // TL0PICIDX
			i++
		}
		if x&0x30 != 0 { // TID/KEYIDX
			i++
		}
	}
	if len(payload) <= i {
		return false
	}
	return payload[i]&0x01 == 0
}

func isH264Keyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	switch nal := payload[0] & 0x1f; nal {
	case 5, 7:
		return true
	case 24: // STAP-A
		for i := 1; i+2 < len(payload); {
			size := int(payload[i])<<8 | int(payload[i+1])
			if size == 0 || i+2 >= len(payload) {
				return false
			}
			if t := payload[i+2] & 0x1f; t == 5 || t == 7 {
				return true
			}
			i += 2 + size
		}
	case 28: // FU-A
		if len(payload) < 2 {
			return false
		}
		return payload[1]&0x80 != 0 && payload[1]&0x1f == 5
	}
	return false
}
