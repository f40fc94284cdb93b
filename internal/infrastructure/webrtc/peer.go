package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/infrastructure/signal"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var errChannelNotOpen = errors.New("data channel not open")

// peerConn is one negotiated peer connection carrying either a data channel
// or a media call.
type peerConn struct {
	t      *Transport
	id     string
	remote domain.PeerID
	kind   signal.ConnectionType
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	channel *dataChannel
	call    *mediaCall

	mu         sync.Mutex
	remoteSet  bool
	remotePend []webrtc.ICECandidateInit
	signalled  bool
	localPend  []webrtc.ICECandidateInit
	closed     bool
}

func (t *Transport) newConn(id string, remote domain.PeerID, kind signal.ConnectionType, pc *webrtc.PeerConnection) *peerConn {
	c := &peerConn{
		t:      t,
		id:     id,
		remote: remote,
		kind:   kind,
		pc:     pc,
		logger: t.logger.With("peer_id", remote, "connection_id", id),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			c.queueLocal(cand.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debugw("Peer connection state changed", "state", state)
		switch state {
		case webrtc.PeerConnectionStateFailed:
			c.fail(fmt.Errorf("connection to %s failed", remote))
		case webrtc.PeerConnectionStateClosed:
			c.close(true)
		}
	})

	t.register(c)
	return c
}

// queueLocal holds local candidates until the offer or answer has been sent,
// so the remote never sees a candidate for a connection it does not know.
func (c *peerConn) queueLocal(cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	if !c.signalled {
		c.localPend = append(c.localPend, cand)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.sendCandidate(cand)
}

func (c *peerConn) markSignalled() {
	c.mu.Lock()
	c.signalled = true
	pending := c.localPend
	c.localPend = nil
	c.mu.Unlock()

	for _, cand := range pending {
		c.sendCandidate(cand)
	}
}

func (c *peerConn) sendCandidate(cand webrtc.ICECandidateInit) {
	err := c.t.send(signal.MsgCandidate, c.remote, signal.CandidatePayload{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
		ConnectionID:  c.id,
		Type:          c.kind,
	})
	if err != nil {
		c.logger.Debugw("Sending candidate failed", "error", err)
	}
}

func (c *peerConn) setRemote(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	c.mu.Lock()
	c.remoteSet = true
	pending := c.remotePend
	c.remotePend = nil
	c.mu.Unlock()

	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.logger.Debugw("Adding candidate failed", "error", err)
		}
	}
	return nil
}

// addCandidate applies a remote candidate, holding it until the remote
// description is known.
func (c *peerConn) addCandidate(cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	if !c.remoteSet {
		c.remotePend = append(c.remotePend, cand)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if err := c.pc.AddICECandidate(cand); err != nil {
		c.logger.Debugw("Adding candidate failed", "error", err)
	}
}

func (c *peerConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fail reports err on the channel and closes the connection.
func (c *peerConn) fail(err error) {
	if c.isClosed() {
		return
	}
	c.logger.Infow("Peer connection failed", "error", err)
	if c.channel != nil && !c.channel.silent {
		c.t.emit(ports.Event{Type: ports.EventChannelError, Channel: c.channel, Err: err})
	}
	c.close(true)
}

// close releases the connection once. With notify the core is told via a
// channel_close or call_close event.
func (c *peerConn) close(notify bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.t.unregister(c)
	if err := c.pc.Close(); err != nil {
		c.logger.Debugw("Closing peer connection failed", "error", err)
	}
	if !notify {
		return
	}
	switch {
	case c.channel != nil && !c.channel.silent:
		c.t.emit(ports.Event{Type: ports.EventChannelClose, Channel: c.channel})
	case c.call != nil:
		c.t.emit(ports.Event{Type: ports.EventCallClose, Call: c.call})
	}
}

type dataChannel struct {
	conn          *peerConn
	probe         bool
	silent        bool
	serialization ports.Serialization
	reasm         *reassembler

	mu sync.Mutex
	dc *webrtc.DataChannel
}

var _ ports.DataChannel = (*dataChannel)(nil)

func newDataChannel(conn *peerConn, probe bool, serialization ports.Serialization, silent bool) *dataChannel {
	if serialization == "" {
		serialization = ports.SerializationJSON
	}
	return &dataChannel{
		conn:          conn,
		probe:         probe,
		silent:        silent,
		serialization: serialization,
		reasm:         newReassembler(),
	}
}

func (d *dataChannel) ID() string                { return d.conn.id }
func (d *dataChannel) RemotePeer() domain.PeerID { return d.conn.remote }
func (d *dataChannel) Probe() bool               { return d.probe }

func (d *dataChannel) attach(dc *webrtc.DataChannel) {
	d.mu.Lock()
	d.dc = dc
	d.mu.Unlock()

	t := d.conn.t
	dc.OnOpen(func() {
		d.conn.logger.Debugw("Data channel open")
		if !d.silent {
			t.emit(ports.Event{Type: ports.EventChannelOpen, Channel: d})
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if d.silent {
			return
		}
		data, complete, err := d.reasm.Add(msg.Data)
		if err != nil {
			d.conn.logger.Warnw("Dropping malformed chunk", "error", err)
			return
		}
		if !complete {
			return
		}
		payload, err := domain.DecodePayload(data)
		if err != nil {
			d.conn.logger.Warnw("Dropping undecodable payload", "error", err)
			return
		}
		t.emit(ports.Event{Type: ports.EventChannelData, Channel: d, Payload: payload})
	})
	dc.OnError(func(err error) {
		if !d.silent {
			t.emit(ports.Event{Type: ports.EventChannelError, Channel: d, Err: err})
		}
	})
	dc.OnClose(func() {
		d.conn.close(true)
	})
}

// Send encodes the payload and writes it, split into chunks when large.
func (d *dataChannel) Send(p *domain.Payload) error {
	d.mu.Lock()
	dc := d.dc
	d.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errChannelNotOpen
	}

	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if len(data) <= chunkSize {
		return d.write(dc, data)
	}

	frames, err := splitChunks(d.conn.t.chunkSeq.Add(1), data)
	if err != nil {
		return fmt.Errorf("chunk payload: %w", err)
	}
	for _, frame := range frames {
		if err := d.write(dc, frame); err != nil {
			return err
		}
	}
	return nil
}

func (d *dataChannel) write(dc *webrtc.DataChannel, frame []byte) error {
	if d.serialization == ports.SerializationJSON {
		return dc.SendText(string(frame))
	}
	return dc.Send(frame)
}

func (d *dataChannel) Close() error {
	d.conn.close(true)
	return nil
}

type mediaCall struct {
	conn   *peerConn
	stream *remoteStream

	mu       sync.Mutex
	offer    *webrtc.SessionDescription
	answered bool
}

var _ ports.MediaCall = (*mediaCall)(nil)

func newMediaCall(conn *peerConn, offer *webrtc.SessionDescription) *mediaCall {
	return &mediaCall{
		conn:   conn,
		offer:  offer,
		stream: &remoteStream{id: conn.id, remote: conn.remote},
	}
}

func (m *mediaCall) ID() string                { return m.conn.id }
func (m *mediaCall) RemotePeer() domain.PeerID { return m.conn.remote }

// Answer accepts an inbound call, sending the tracks of stream.
func (m *mediaCall) Answer(stream ports.MediaStream) error {
	m.mu.Lock()
	if m.offer == nil {
		m.mu.Unlock()
		return errors.New("outgoing calls cannot be answered")
	}
	if m.answered {
		m.mu.Unlock()
		return errors.New("call already answered")
	}
	m.answered = true
	offer := *m.offer
	m.mu.Unlock()

	if m.conn.isClosed() {
		return fmt.Errorf("call from %s already closed", m.conn.remote)
	}
	if err := addTracks(m.conn.pc, stream); err != nil {
		return err
	}
	return m.conn.t.answer(m.conn, offer.SDP, signal.ConnectionMedia)
}

func (m *mediaCall) Close() error {
	m.conn.close(true)
	return nil
}

type remoteStream struct {
	id     string
	remote domain.PeerID

	mu    sync.Mutex
	kinds []domain.MediaKind
}

var _ ports.RemoteStream = (*remoteStream)(nil)

func (s *remoteStream) ID() string                { return s.id }
func (s *remoteStream) RemotePeer() domain.PeerID { return s.remote }

func (s *remoteStream) Kinds() []domain.MediaKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MediaKind(nil), s.kinds...)
}

func (s *remoteStream) add(kind domain.MediaKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.kinds {
		if k == kind {
			return
		}
	}
	s.kinds = append(s.kinds, kind)
}
