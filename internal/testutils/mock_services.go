package testutils

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
)

type Line struct {
	Text string
	Kind ports.LineKind
}

// MockRenderer keeps everything the core asked to display.
type MockRenderer struct {
	mu sync.Mutex

	Lines         []Line
	Files         []string
	Images        []string
	Locations     []domain.Location
	RemoteStreams []ports.RemoteStream
	StreamCleared int
	LogCleared    int
}

func (r *MockRenderer) AppendLine(text string, kind ports.LineKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lines = append(r.Lines, Line{Text: text, Kind: kind})
}

func (r *MockRenderer) ShowFile(filename string, data []byte, origin ports.LineKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Files = append(r.Files, filename)
}

func (r *MockRenderer) ShowImage(filename string, data []byte, origin ports.LineKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Images = append(r.Images, filename)
}

func (r *MockRenderer) ShowLocation(loc domain.Location, origin ports.LineKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Locations = append(r.Locations, loc)
}

func (r *MockRenderer) ShowRemoteStream(stream ports.RemoteStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RemoteStreams = append(r.RemoteStreams, stream)
}

func (r *MockRenderer) ClearRemoteStream() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StreamCleared++
}

func (r *MockRenderer) ClearLog() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LogCleared++
	r.Lines = nil
}

// Count returns how many lines equal text exactly.
func (r *MockRenderer) Count(text string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.Lines {
		if l.Text == text {
			n++
		}
	}
	return n
}

// Has reports whether any line contains substr.
func (r *MockRenderer) Has(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.Lines {
		if strings.Contains(l.Text, substr) {
			return true
		}
	}
	return false
}

func (r *MockRenderer) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Lines))
	for i, l := range r.Lines {
		out[i] = l.Text
	}
	return out
}

func (r *MockRenderer) Last() Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Lines) == 0 {
		return Line{}
	}
	return r.Lines[len(r.Lines)-1]
}

type MockPlatform struct {
	mu         sync.Mutex
	Permission bool
	PermErr    error
	Shown      []ports.Notification
	Alerts     int
}

func (p *MockPlatform) RequestPermission(ctx context.Context) (bool, error) {
	return p.Permission, p.PermErr
}

func (p *MockPlatform) Show(n ports.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Shown = append(p.Shown, n)
	return nil
}

func (p *MockPlatform) PlayAlert() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Alerts++
	return nil
}

func (p *MockPlatform) ShownTitles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Shown))
	for i, n := range p.Shown {
		out[i] = n.Title
	}
	return out
}

type MockFocus struct {
	Focused    bool
	FocusCalls int
}

func (f *MockFocus) HasFocus() bool { return f.Focused }
func (f *MockFocus) Focus() {
	f.FocusCalls++
	f.Focused = true
}

// MemoryStore is a map-backed KeyValueStore.
type MemoryStore struct {
	mu   sync.Mutex
	Data map[string]string
	Err  error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Data: make(map[string]string)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", false, s.Err
	}
	v, ok := s.Data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Data[key] = value
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.Data, key)
	return nil
}

func (s *MemoryStore) Value(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Data[key]
}

type MockOnboarder struct {
	PeerID      string
	DisplayName string
	Err         error
	Prompts     int
}

func (o *MockOnboarder) PromptIdentity(ctx context.Context) (string, string, error) {
	o.Prompts++
	return o.PeerID, o.DisplayName, o.Err
}

// StubClock is a manually advanced clock.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock() *StubClock {
	return &StubClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ManualScheduler fires timers only when Advance moves its clock past them.
type ManualScheduler struct {
	Clock  *StubClock
	timers []*manualTimer
	seq    int
}

type manualTimer struct {
	due     time.Time
	every   time.Duration
	fn      func()
	stopped bool
	seq     int
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func NewManualScheduler(clock *StubClock) *ManualScheduler {
	return &ManualScheduler{Clock: clock}
}

func (s *ManualScheduler) add(d, every time.Duration, fn func()) ports.Timer {
	s.seq++
	t := &manualTimer{due: s.Clock.Now().Add(d), every: every, fn: fn, seq: s.seq}
	s.timers = append(s.timers, t)
	return t
}

func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) ports.Timer {
	return s.add(d, 0, fn)
}

func (s *ManualScheduler) Every(d time.Duration, fn func()) ports.Timer {
	return s.add(d, d, fn)
}

// Pending counts timers that have not fired or been stopped.
func (s *ManualScheduler) Pending() int {
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing due timers in due order.
func (s *ManualScheduler) Advance(d time.Duration) {
	target := s.Clock.Now().Add(d)
	for {
		next := s.nextDue(target)
		if next == nil {
			break
		}
		if wait := next.due.Sub(s.Clock.Now()); wait > 0 {
			s.Clock.Advance(wait)
		}
		if next.every > 0 {
			next.due = next.due.Add(next.every)
		} else {
			next.stopped = true
		}
		next.fn()
	}
	if rest := target.Sub(s.Clock.Now()); rest > 0 {
		s.Clock.Advance(rest)
	}
}

func (s *ManualScheduler) nextDue(limit time.Time) *manualTimer {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	s.timers = live
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].due.Equal(live[j].due) {
			return live[i].seq < live[j].seq
		}
		return live[i].due.Before(live[j].due)
	})
	if len(live) == 0 || live[0].due.After(limit) {
		return nil
	}
	return live[0]
}

// RecordingMetrics counts observations by name.
type RecordingMetrics struct {
	mu     sync.Mutex
	Counts map[string]int
}

func NewRecordingMetrics() *RecordingMetrics {
	return &RecordingMetrics{Counts: make(map[string]int)}
}

func (m *RecordingMetrics) inc(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counts[name]++
}

func (m *RecordingMetrics) Get(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counts[name]
}

func (m *RecordingMetrics) SessionOpened(dir domain.ConnectionDirection) {
	m.inc("session_opened_" + string(dir))
}
func (m *RecordingMetrics) SessionClosed(reason string) { m.inc("session_closed_" + reason) }
func (m *RecordingMetrics) InboundRejected()            { m.inc("inbound_rejected") }
func (m *RecordingMetrics) ProbeResult(online bool) {
	if online {
		m.inc("probe_online")
	} else {
		m.inc("probe_offline")
	}
}
func (m *RecordingMetrics) NotificationShown() { m.inc("notification_shown") }
func (m *RecordingMetrics) NotificationSuppressed(why string) {
	m.inc("notification_suppressed_" + why)
}
func (m *RecordingMetrics) CallOutcome(outcome string) { m.inc("call_" + outcome) }
func (m *RecordingMetrics) PayloadRouted(kind domain.PayloadKind, dir string, size int) {
	m.inc("payload_" + dir + "_" + string(kind))
}
