package monitoring

import (
	"net/http"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClientCollector exports the chat client counters.
type ClientCollector struct {
	sessionsOpened         *prometheus.CounterVec
	sessionsClosed         *prometheus.CounterVec
	sessionsActive         prometheus.Gauge
	inboundRejected        prometheus.Counter
	probeResults           *prometheus.CounterVec
	notificationsShown     prometheus.Counter
	notificationSuppressed *prometheus.CounterVec
	callOutcomes           *prometheus.CounterVec
	payloads               *prometheus.CounterVec
	payloadBytes           *prometheus.CounterVec
}

var _ ports.Metrics = (*ClientCollector)(nil)

func NewClientCollector(reg prometheus.Registerer) *ClientCollector {
	f := promauto.With(reg)
	return &ClientCollector{
		sessionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_sessions_opened_total",
			Help: "Chat sessions that reached open, by direction",
		}, []string{"direction"}),

		sessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_sessions_closed_total",
			Help: "Chat sessions closed, by reason",
		}, []string{"reason"}),

		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "peerlink_sessions_active",
			Help: "Currently open chat sessions",
		}),

		inboundRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_inbound_rejected_total",
			Help: "Inbound connections rejected because a session was already open",
		}),

		probeResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_probe_results_total",
			Help: "Presence probe results",
		}, []string{"result"}),

		notificationsShown: f.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_notifications_shown_total",
			Help: "Notifications shown",
		}),

		notificationSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_notifications_suppressed_total",
			Help: "Notifications suppressed, by reason",
		}, []string{"reason"}),

		callOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_calls_total",
			Help: "Media calls, by outcome",
		}, []string{"outcome"}),

		payloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_payloads_total",
			Help: "Payloads routed, by kind and direction",
		}, []string{"kind", "direction"}),

		payloadBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_payload_bytes_total",
			Help: "Attachment bytes routed, by direction",
		}, []string{"direction"}),
	}
}

func (c *ClientCollector) SessionOpened(dir domain.ConnectionDirection) {
	c.sessionsOpened.WithLabelValues(string(dir)).Inc()
	c.sessionsActive.Inc()
}

func (c *ClientCollector) SessionClosed(reason string) {
	c.sessionsClosed.WithLabelValues(reason).Inc()
	c.sessionsActive.Dec()
}

func (c *ClientCollector) InboundRejected() { c.inboundRejected.Inc() }

func (c *ClientCollector) ProbeResult(online bool) {
	result := "offline"
	if online {
		result = "online"
	}
	c.probeResults.WithLabelValues(result).Inc()
}

func (c *ClientCollector) NotificationShown() { c.notificationsShown.Inc() }

func (c *ClientCollector) NotificationSuppressed(reason string) {
	c.notificationSuppressed.WithLabelValues(reason).Inc()
}

func (c *ClientCollector) CallOutcome(outcome string) {
	c.callOutcomes.WithLabelValues(outcome).Inc()
}

func (c *ClientCollector) PayloadRouted(kind domain.PayloadKind, direction string, size int) {
	c.payloads.WithLabelValues(string(kind), direction).Inc()
	if size > 0 {
		c.payloadBytes.WithLabelValues(direction).Add(float64(size))
	}
}

// SignalCollector exports the signaling server counters.
type SignalCollector struct {
	peersConnected  prometheus.Gauge
	connectionsSeen prometheus.Counter
	messagesRouted  *prometheus.CounterVec
	messagesDropped *prometheus.CounterVec
}

func NewSignalCollector(reg prometheus.Registerer) *SignalCollector {
	f := promauto.With(reg)
	return &SignalCollector{
		peersConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "peerlink_signal_peers_connected",
			Help: "Peers currently registered on the signal server",
		}),

		connectionsSeen: f.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_signal_connections_total",
			Help: "Sockets registered since start",
		}),

		messagesRouted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_signal_messages_routed_total",
			Help: "Signaling messages relayed, by type",
		}, []string{"type"}),

		messagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_signal_messages_dropped_total",
			Help: "Signaling messages not relayed, by reason",
		}, []string{"reason"}),
	}
}

func (s *SignalCollector) PeerConnected() {
	s.peersConnected.Inc()
	s.connectionsSeen.Inc()
}

func (s *SignalCollector) PeerDisconnected()        { s.peersConnected.Dec() }
func (s *SignalCollector) MessageRouted(typ string) { s.messagesRouted.WithLabelValues(typ).Inc() }
func (s *SignalCollector) MessageDropped(reason string) {
	s.messagesDropped.WithLabelValues(reason).Inc()
}

// Handler serves the metrics of g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
