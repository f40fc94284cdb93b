package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/infrastructure/media"
	"peerlink/internal/infrastructure/signal"
	"peerlink/pkg/retry"
	"peerlink/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type Options struct {
	SignalURL string
	Signal    signal.ClientOptions
	// Reconnect controls how a dropped signal socket is redialed with the
	// reclaim token.
	Reconnect        retry.Config
	KeyframeInterval time.Duration
	// Sink receives the RTP of remote tracks, e.g. a media.Recorder. Optional.
	Sink        media.TrackSink
	EventBuffer int
}

func DefaultOptions(signalURL string) Options {
	reconnect := retry.DefaultConfig()
	reconnect.MaxAttempts = 5
	reconnect.InitialDelay = time.Second
	reconnect.MaxDelay = 30 * time.Second
	reconnect.NonRetryable = []error{signal.ErrIDTaken}

	return Options{
		SignalURL:        signalURL,
		Signal:           signal.DefaultClientOptions(),
		Reconnect:        reconnect,
		KeyframeInterval: 3 * time.Second,
		EventBuffer:      256,
	}
}

// Transport is the pion implementation of ports.Transport: one peer
// connection per data channel or media call, negotiated over the signal
// server.
type Transport struct {
	cfg    Config
	opts   Options
	api    *webrtc.API
	logger *zap.SugaredLogger

	events    chan ports.Event
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sig     *signal.Client
	localID domain.PeerID
	token   string
	ready   bool
	conns   map[string]*peerConn

	chunkSeq atomic.Uint32
}

var _ ports.Transport = (*Transport)(nil)

func NewTransport(cfg Config, opts Options, logger *zap.SugaredLogger) (*Transport, error) {
	api, err := newAPI(cfg)
	if err != nil {
		return nil, fmt.Errorf("webrtc api: %w", err)
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	return &Transport{
		cfg:    cfg,
		opts:   opts,
		api:    api,
		logger: logger,
		events: make(chan ports.Event, opts.EventBuffer),
		done:   make(chan struct{}),
		conns:  make(map[string]*peerConn),
	}, nil
}

// Initialize registers localID with the signal server.
func (t *Transport) Initialize(ctx context.Context, localID domain.PeerID) error {
	sig, err := signal.Dial(ctx, t.opts.SignalURL, localID, "", t.opts.Signal, t.logger.Named("signal"))
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.sig != nil {
		_ = t.sig.Close()
	}
	t.sig = sig
	t.localID = localID
	t.token = sig.Token()
	t.ready = true
	t.mu.Unlock()

	go t.signalLoop(sig)
	t.emit(ports.Event{Type: ports.EventLocalIDReady, LocalID: localID})
	return nil
}

func (t *Transport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *Transport) Events() <-chan ports.Event {
	return t.events
}

func (t *Transport) emit(ev ports.Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *Transport) signalLoop(sig *signal.Client) {
	for msg := range sig.Messages() {
		t.handleSignal(msg)
	}

	select {
	case <-t.done:
		return
	default:
	}

	t.mu.Lock()
	current := t.sig == sig
	if current {
		t.ready = false
	}
	t.mu.Unlock()
	if !current {
		return
	}

	t.logger.Warnw("Signal connection lost", "error", sig.Err())
	t.reconnect()
}

func (t *Transport) reconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	t.mu.Lock()
	id, token := t.localID, t.token
	t.mu.Unlock()

	sig, err := retry.Do(ctx, t.opts.Reconnect, func() (*signal.Client, error) {
		return signal.Dial(ctx, t.opts.SignalURL, id, token, t.opts.Signal, t.logger.Named("signal"))
	})
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Errorw("Signal reconnect failed", "peer_id", id, "error", err)
			t.emit(ports.Event{Type: ports.EventInitError, Err: fmt.Errorf("signal server unreachable: %w", err)})
		}
		return
	}

	t.mu.Lock()
	t.sig = sig
	t.token = sig.Token()
	t.ready = true
	t.mu.Unlock()
	t.logger.Infow("Signal connection restored", "peer_id", id)
	go t.signalLoop(sig)
}

func (t *Transport) send(typ signal.MessageType, dst domain.PeerID, payload interface{}) error {
	t.mu.Lock()
	sig := t.sig
	t.mu.Unlock()
	if sig == nil {
		return domain.ErrTransportNotReady
	}
	return sig.SendPayload(typ, dst, payload)
}

func (t *Transport) handleSignal(msg signal.Message) {
	switch msg.Type {
	case signal.MsgOffer:
		var p signal.OfferPayload
		if err := msg.Decode(&p); err != nil {
			t.logger.Warnw("Dropping offer", "src", msg.Src, "error", err)
			return
		}
		var err error
		if p.Type == signal.ConnectionMedia {
			err = t.handleCallOffer(msg.Src, p)
		} else {
			err = t.handleDataOffer(msg.Src, p)
		}
		if err != nil {
			t.logger.Warnw("Offer failed", "src", msg.Src, "connection_id", p.ConnectionID, "error", err)
		}

	case signal.MsgAnswer:
		var p signal.AnswerPayload
		if err := msg.Decode(&p); err != nil {
			t.logger.Warnw("Dropping answer", "src", msg.Src, "error", err)
			return
		}
		conn := t.conn(p.ConnectionID, msg.Src)
		if conn == nil {
			return
		}
		if err := conn.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
			conn.fail(fmt.Errorf("apply answer: %w", err))
		}

	case signal.MsgCandidate:
		var p signal.CandidatePayload
		if err := msg.Decode(&p); err != nil {
			t.logger.Warnw("Dropping candidate", "src", msg.Src, "error", err)
			return
		}
		if conn := t.conn(p.ConnectionID, msg.Src); conn != nil {
			conn.addCandidate(webrtc.ICECandidateInit{
				Candidate:     p.Candidate,
				SDPMid:        p.SDPMid,
				SDPMLineIndex: p.SDPMLineIndex,
			})
		}

	case signal.MsgLeave:
		var p signal.LeavePayload
		_ = msg.Decode(&p)
		t.closePeer(msg.Src, p.ConnectionID)

	case signal.MsgExpire:
		// The echoed payload names the connection whose message could not be delivered.
		var p struct {
			ConnectionID string `json:"connectionId"`
		}
		_ = msg.Decode(&p)
		if conn := t.conn(p.ConnectionID, msg.Src); conn != nil {
			conn.fail(fmt.Errorf("could not connect to peer %s", msg.Src))
		}

	case signal.MsgError:
		var p signal.ErrorPayload
		_ = msg.Decode(&p)
		t.logger.Warnw("Signal server error", "msg", p.Msg)

	default:
		t.logger.Debugw("Ignoring signal message", "type", msg.Type)
	}
}

func (t *Transport) conn(id string, remote domain.PeerID) *peerConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[id]
	if !ok || c.remote != remote {
		return nil
	}
	return c
}

func (t *Transport) closePeer(remote domain.PeerID, connectionID string) {
	t.mu.Lock()
	var victims []*peerConn
	for id, c := range t.conns {
		if c.remote == remote && (connectionID == "" || connectionID == id) {
			victims = append(victims, c)
		}
	}
	t.mu.Unlock()

	for _, c := range victims {
		c.close(true)
	}
}

// ConnectTo opens a data channel to remote. The returned channel is usable
// once its channel_open event arrives.
func (t *Transport) ConnectTo(ctx context.Context, remote domain.PeerID, opts ports.ConnectOptions) (ports.DataChannel, error) {
	if !t.Ready() {
		return nil, domain.ErrTransportNotReady
	}
	pc, err := t.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	id := utils.NewConnectionID()
	conn := t.newConn(id, remote, signal.ConnectionData, pc)
	ch := newDataChannel(conn, opts.Probe, opts.Serialization, false)
	conn.channel = ch

	ordered := opts.Reliable
	init := &webrtc.DataChannelInit{Ordered: &ordered}
	if !opts.Reliable {
		var none uint16
		init.MaxRetransmits = &none
	}
	dc, err := pc.CreateDataChannel(id, init)
	if err != nil {
		conn.close(false)
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	ch.attach(dc)

	offer, err := pc.CreateOffer(nil)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err == nil {
		err = t.send(signal.MsgOffer, remote, signal.OfferPayload{
			SDP:           offer.SDP,
			ConnectionID:  id,
			Type:          signal.ConnectionData,
			Label:         id,
			Reliable:      opts.Reliable,
			Serialization: string(opts.Serialization),
			Probe:         opts.Probe,
		})
	}
	if err != nil {
		conn.close(false)
		return nil, fmt.Errorf("offer to %s: %w", remote, err)
	}
	conn.markSignalled()

	t.logger.Debugw("Data channel offered", "peer_id", remote, "channel_id", id, "probe", opts.Probe)
	return ch, nil
}

func (t *Transport) handleDataOffer(src domain.PeerID, p signal.OfferPayload) error {
	if t.conn(p.ConnectionID, src) != nil {
		return nil
	}
	pc, err := t.newPeerConnection()
	if err != nil {
		return err
	}

	conn := t.newConn(p.ConnectionID, src, signal.ConnectionData, pc)
	// Probes are answered so the prober sees the peer online, but never surface.
	ch := newDataChannel(conn, p.Probe, ports.Serialization(p.Serialization), p.Probe)
	conn.channel = ch
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if !ch.silent {
			t.emit(ports.Event{Type: ports.EventInboundConnection, Channel: ch})
		}
		ch.attach(dc)
	})

	if err := t.answer(conn, p.SDP, signal.ConnectionData); err != nil {
		conn.close(false)
		return err
	}
	return nil
}

func (t *Transport) answer(conn *peerConn, offerSDP string, typ signal.ConnectionType) error {
	if err := conn.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	answer, err := conn.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := conn.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	if err := t.send(signal.MsgAnswer, conn.remote, signal.AnswerPayload{
		SDP:          answer.SDP,
		ConnectionID: conn.id,
		Type:         typ,
	}); err != nil {
		return err
	}
	conn.markSignalled()
	return nil
}

// CallWith starts a media call to remote sending the tracks of stream.
func (t *Transport) CallWith(ctx context.Context, remote domain.PeerID, stream ports.MediaStream) (ports.MediaCall, error) {
	if !t.Ready() {
		return nil, domain.ErrTransportNotReady
	}
	pc, err := t.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	id := utils.NewCallID()
	conn := t.newConn(id, remote, signal.ConnectionMedia, pc)
	call := newMediaCall(conn, nil)
	conn.call = call
	pc.OnTrack(t.onTrack(call))

	err = addTracks(pc, stream)
	var offer webrtc.SessionDescription
	if err == nil {
		offer, err = pc.CreateOffer(nil)
	}
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err == nil {
		err = t.send(signal.MsgOffer, remote, signal.OfferPayload{
			SDP:          offer.SDP,
			ConnectionID: id,
			Type:         signal.ConnectionMedia,
		})
	}
	if err != nil {
		conn.close(false)
		return nil, fmt.Errorf("call %s: %w", remote, err)
	}
	conn.markSignalled()

	t.logger.Infow("Media call offered", "peer_id", remote, "call_id", id)
	return call, nil
}

func (t *Transport) handleCallOffer(src domain.PeerID, p signal.OfferPayload) error {
	if t.conn(p.ConnectionID, src) != nil {
		return nil
	}
	pc, err := t.newPeerConnection()
	if err != nil {
		return err
	}

	conn := t.newConn(p.ConnectionID, src, signal.ConnectionMedia, pc)
	call := newMediaCall(conn, &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP})
	conn.call = call
	pc.OnTrack(t.onTrack(call))

	t.emit(ports.Event{Type: ports.EventInboundCall, Call: call})
	return nil
}

// addTracks sends the tracks of stream, or only receives when stream carries
// no webrtc tracks.
func addTracks(pc *webrtc.PeerConnection, stream ports.MediaStream) error {
	src, ok := stream.(media.TrackSource)
	if !ok {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	for _, track := range src.WebRTCTracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

func (t *Transport) register(c *peerConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c.id] = c
}

func (t *Transport) unregister(c *peerConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[c.id] == c {
		delete(t.conns, c.id)
	}
}

// ConnectionCount reports the live peer connections.
func (t *Transport) ConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Close tears down every peer connection and the signal socket.
func (t *Transport) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		sig := t.sig
		conns := make([]*peerConn, 0, len(t.conns))
		for _, c := range t.conns {
			conns = append(conns, c)
		}
		t.ready = false
		t.mu.Unlock()

		for _, c := range conns {
			c.close(false)
		}
		if sig != nil {
			if err := sig.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
