package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
)

// MockTransport records every call made into the transport in Ops, e.g.
// "connect:bob", "probe:bob", "call:bob", "close:dc-1".
type MockTransport struct {
	mu sync.Mutex

	ready   bool
	localID domain.PeerID
	events  chan ports.Event
	ops     []string
	nextID  int

	ConnectErr error
	CallErr    error
	InitErr    error

	Channels []*MockChannel
	Calls    []*MockCall
}

func NewMockTransport() *MockTransport {
	return &MockTransport{events: make(chan ports.Event, 64)}
}

// NewReadyTransport returns a transport whose local id is already live.
func NewReadyTransport(localID domain.PeerID) *MockTransport {
	t := NewMockTransport()
	t.ready = true
	t.localID = localID
	return t
}

func (t *MockTransport) record(op string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = append(t.ops, op)
}

func (t *MockTransport) Initialize(ctx context.Context, localID domain.PeerID) error {
	t.record("initialize:" + string(localID))
	if t.InitErr != nil {
		return t.InitErr
	}
	t.mu.Lock()
	t.localID = localID
	t.ready = true
	t.mu.Unlock()
	return nil
}

func (t *MockTransport) ConnectTo(ctx context.Context, remote domain.PeerID, opts ports.ConnectOptions) (ports.DataChannel, error) {
	op := "connect:"
	if opts.Probe {
		op = "probe:"
	}
	t.record(op + string(remote))
	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}
	ch := t.newChannel(remote, opts.Probe)
	return ch, nil
}

func (t *MockTransport) newChannel(remote domain.PeerID, probe bool) *MockChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	ch := &MockChannel{id: fmt.Sprintf("dc-%d", t.nextID), remote: remote, probe: probe, transport: t}
	t.Channels = append(t.Channels, ch)
	return ch
}

// InboundChannel builds a channel as if remote had connected to us.
func (t *MockTransport) InboundChannel(remote domain.PeerID) *MockChannel {
	return t.newChannel(remote, false)
}

func (t *MockTransport) CallWith(ctx context.Context, remote domain.PeerID, stream ports.MediaStream) (ports.MediaCall, error) {
	t.record("call:" + string(remote))
	if t.CallErr != nil {
		return nil, t.CallErr
	}
	return t.InboundCall(remote), nil
}

// InboundCall builds a media call from remote.
func (t *MockTransport) InboundCall(remote domain.PeerID) *MockCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	call := &MockCall{id: fmt.Sprintf("mc-%d", t.nextID), remote: remote}
	t.Calls = append(t.Calls, call)
	return call
}

func (t *MockTransport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *MockTransport) SetReady(ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready = ready
}

func (t *MockTransport) Events() <-chan ports.Event {
	return t.events
}

// Emit queues an event as the transport would.
func (t *MockTransport) Emit(ev ports.Event) {
	t.events <- ev
}

func (t *MockTransport) Close() error {
	t.record("transport-close")
	return nil
}

// Ops returns a copy of the recorded operations.
func (t *MockTransport) Ops() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ops...)
}

// CountOps counts operations with the given prefix, e.g. "connect:".
func (t *MockTransport) CountOps(prefix string) int {
	n := 0
	for _, op := range t.Ops() {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

// LastChannel returns the most recent non-probe channel, or nil.
func (t *MockTransport) LastChannel() *MockChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.Channels) - 1; i >= 0; i-- {
		if !t.Channels[i].probe {
			return t.Channels[i]
		}
	}
	return nil
}

// LastProbe returns the most recent probe channel, or nil.
func (t *MockTransport) LastProbe() *MockChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.Channels) - 1; i >= 0; i-- {
		if t.Channels[i].probe {
			return t.Channels[i]
		}
	}
	return nil
}

type MockChannel struct {
	mu        sync.Mutex
	id        string
	remote    domain.PeerID
	probe     bool
	transport *MockTransport

	SendErr    error
	Sent       []*domain.Payload
	CloseCount int
}

func (c *MockChannel) ID() string                { return c.id }
func (c *MockChannel) RemotePeer() domain.PeerID { return c.remote }
func (c *MockChannel) Probe() bool               { return c.probe }

func (c *MockChannel) Send(p *domain.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Sent = append(c.Sent, p)
	return nil
}

func (c *MockChannel) Close() error {
	c.mu.Lock()
	c.CloseCount++
	c.mu.Unlock()
	c.transport.record("close:" + c.id)
	return nil
}

func (c *MockChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCount > 0
}

func (c *MockChannel) SentPayloads() []*domain.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*domain.Payload(nil), c.Sent...)
}

// Event builds a transport event for this channel.
func (c *MockChannel) Event(typ ports.EventType) ports.Event {
	return ports.Event{Type: typ, Channel: c}
}

func (c *MockChannel) DataEvent(p *domain.Payload) ports.Event {
	return ports.Event{Type: ports.EventChannelData, Channel: c, Payload: p}
}

type MockCall struct {
	mu     sync.Mutex
	id     string
	remote domain.PeerID

	AnswerErr  error
	Answered   ports.MediaStream
	CloseCount int
}

func (c *MockCall) ID() string                { return c.id }
func (c *MockCall) RemotePeer() domain.PeerID { return c.remote }

func (c *MockCall) Answer(stream ports.MediaStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AnswerErr != nil {
		return c.AnswerErr
	}
	c.Answered = stream
	return nil
}

func (c *MockCall) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	return nil
}

func (c *MockCall) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCount > 0
}
