package webrtc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"peerlink/internal/core/domain"
)

// Data channel messages above this size are split into chunks.
const chunkSize = 16 * 1024

const (
	// maxChunks covers the largest payload a peer may send: a file of
	// domain.MaxFileSize bytes, base64 encoded, plus the JSON envelope.
	maxChunks = (domain.MaxFileSize/3*4+chunkSize-1)/chunkSize + 8
	// maxPending bounds the partial messages held per data channel.
	maxPending = 4
	// partialTTL drops partial messages whose remaining chunks never arrive.
	partialTTL = time.Minute
)

var chunkMarker = []byte(`"__peerData"`)

type chunk struct {
	ID    uint32 `json:"__peerData"`
	N     int    `json:"n"`
	Total int    `json:"total"`
	Data  []byte `json:"data"`
}

func splitChunks(id uint32, data []byte) ([][]byte, error) {
	total := (len(data) + chunkSize - 1) / chunkSize
	out := make([][]byte, 0, total)
	for n := 0; n < total; n++ {
		end := min((n+1)*chunkSize, len(data))
		frame, err := json.Marshal(chunk{ID: id, N: n, Total: total, Data: data[n*chunkSize : end]})
		if err != nil {
			return nil, err
		}
		out = append(out, frame)
	}
	return out, nil
}

// reassembler joins chunked messages of one data channel.
type reassembler struct {
	mu      sync.Mutex
	pending map[uint32]*partial
	now     func() time.Time
}

type partial struct {
	parts    [][]byte
	received int
	updated  time.Time
}

func newReassembler() *reassembler {
	return &reassembler{pending: make(map[uint32]*partial), now: time.Now}
}

// Add returns the complete message once every chunk has arrived. Messages
// that are not chunks are returned as they are.
func (r *reassembler) Add(msg []byte) ([]byte, bool, error) {
	if !bytes.Contains(msg, chunkMarker) {
		return msg, true, nil
	}
	var c chunk
	if err := json.Unmarshal(msg, &c); err != nil {
		return nil, false, fmt.Errorf("invalid chunk: %w", err)
	}
	if c.Total <= 0 || c.Total > maxChunks || c.N < 0 || c.N >= c.Total {
		return nil, false, fmt.Errorf("invalid chunk %d/%d", c.N, c.Total)
	}
	if len(c.Data) > chunkSize {
		return nil, false, fmt.Errorf("chunk %d/%d exceeds %d bytes", c.N, c.Total, chunkSize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.expire(now)
	p, ok := r.pending[c.ID]
	if !ok {
		if len(r.pending) >= maxPending {
			return nil, false, fmt.Errorf("too many partial messages (max %d)", maxPending)
		}
		p = &partial{parts: make([][]byte, c.Total)}
		r.pending[c.ID] = p
	}
	p.updated = now
	if len(p.parts) != c.Total {
		delete(r.pending, c.ID)
		return nil, false, fmt.Errorf("chunk %d total changed", c.ID)
	}
	if p.parts[c.N] == nil {
		p.parts[c.N] = c.Data
		p.received++
	}
	if p.received < c.Total {
		return nil, false, nil
	}
	delete(r.pending, c.ID)
	return bytes.Join(p.parts, nil), true, nil
}

func (r *reassembler) expire(now time.Time) {
	for id, p := range r.pending {
		if now.Sub(p.updated) > partialTTL {
			delete(r.pending, id)
		}
	}
}
