package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/pkg/logger"
	"peerlink/pkg/tracing"
	"peerlink/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // peers are terminal clients, not browsers
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Metrics is what the signaling server reports. monitoring.PrometheusCollector
// implements it.
type Metrics interface {
	PeerConnected()
	PeerDisconnected()
	MessageRouted(msgType string)
	MessageDropped(reason string)
}

type nopMetrics struct{}

func (nopMetrics) PeerConnected()        {}
func (nopMetrics) PeerDisconnected()     {}
func (nopMetrics) MessageRouted(string)  {}
func (nopMetrics) MessageDropped(string) {}

// ServerOptions configures timeouts and per-socket limits.
type ServerOptions struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
}

func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MessagesPerSecond: 50,
		Burst:             100,
		MaxMessageSize:    64 * 1024,
	}
}

// WebSocketServer is the broker peers use to find each other: it registers
// peer ids and relays OFFER/ANSWER/CANDIDATE/LEAVE frames between them. It
// never sees chat data.
type WebSocketServer struct {
	clients map[domain.PeerID]*client
	mu      sync.RWMutex

	tokens  *TokenIssuer
	opts    ServerOptions
	metrics Metrics
	logger  *zap.SugaredLogger
	traced  *logger.ContextLogger
}

type client struct {
	id      domain.PeerID
	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter

	contactsMu sync.Mutex
	contacts   map[domain.PeerID]struct{}
}

func (c *client) send(msg Message, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(msg)
}

func (c *client) addContact(peer domain.PeerID) {
	c.contactsMu.Lock()
	defer c.contactsMu.Unlock()
	c.contacts[peer] = struct{}{}
}

func (c *client) takeContacts() []domain.PeerID {
	c.contactsMu.Lock()
	defer c.contactsMu.Unlock()
	peers := make([]domain.PeerID, 0, len(c.contacts))
	for p := range c.contacts {
		peers = append(peers, p)
	}
	c.contacts = make(map[domain.PeerID]struct{})
	return peers
}

func NewWebSocketServer(tokens *TokenIssuer, opts ServerOptions, metrics Metrics, log *zap.SugaredLogger) *WebSocketServer {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &WebSocketServer{
		clients: make(map[domain.PeerID]*client),
		tokens:  tokens,
		opts:    opts,
		metrics: metrics,
		logger:  log,
		traced:  logger.NewContextLogger(log.Desugar()),
	}
}

// HandleWebSocket serves one peer socket. The peer id comes from the "id"
// query parameter; "token" reclaims an id still held by a stale socket.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	peerID := domain.PeerID(r.URL.Query().Get("id"))
	if err := validation.ValidatePeerID(string(peerID)); err != nil {
		s.reject(conn, MsgError, "invalid id: "+err.Error())
		return
	}

	c := &client{
		id:       peerID,
		conn:     conn,
		limiter:  rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst),
		contacts: make(map[domain.PeerID]struct{}),
	}
	if !s.register(c, r.URL.Query().Get("token")) {
		s.reject(conn, MsgIDTaken, fmt.Sprintf("ID %q is taken", peerID))
		return
	}
	s.metrics.PeerConnected()
	defer s.unregister(c)

	token, err := s.tokens.Issue(peerID)
	if err != nil {
		s.logger.Errorw("failed to issue token", "peer_id", peerID, "error", err)
	}
	open, _ := NewMessage(MsgOpen, "", OpenPayload{Token: token})
	if err := c.send(open, s.opts.WriteTimeout); err != nil {
		return
	}

	conn.SetReadLimit(s.opts.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Message, 16)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go s.readMessages(conn, messageChan, errorChan, done)

	for {
		select {
		case msg := <-messageChan:
			if err := s.handleMessage(r.Context(), c, msg); err != nil {
				s.logger.Infow("error handling message from peer", "peer_id", peerID, "type", msg.Type, "error", err)
				s.sendError(c, err.Error())
			}

		case <-pingTicker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "peer_id", peerID, "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message from peer", "peer_id", peerID, "error", err)
			}
			return
		}
	}
}

// readMessages feeds frames from conn to the serving loop until the read
// fails or done is closed.
func (s *WebSocketServer) readMessages(conn *websocket.Conn, messages chan<- Message, errs chan<- error, done <-chan struct{}) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			errs <- err
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		select {
		case messages <- msg:
		case <-done:
			return
		}
	}
}

// register claims c.id. A live id is only taken over with a valid token.
func (s *WebSocketServer) register(c *client, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, taken := s.clients[c.id]
	if taken {
		if token == "" || s.tokens.Validate(token, c.id) != nil {
			s.logger.Infow("rejected taken id", "peer_id", c.id)
			return false
		}
		existing.conn.Close()
		s.logger.Infow("replacing stale connection for reconnecting peer", "peer_id", c.id)
	}
	s.clients[c.id] = c
	s.logger.Infow("peer connected", "peer_id", c.id, "reconnect", taken)
	return true
}

// unregister removes c unless it was already replaced, and tells every peer c
// exchanged signals with that it left.
func (s *WebSocketServer) unregister(c *client) {
	s.mu.Lock()
	current, ok := s.clients[c.id]
	replaced := ok && current != c
	if ok && !replaced {
		delete(s.clients, c.id)
	}
	s.mu.Unlock()
	s.metrics.PeerDisconnected()

	if replaced {
		return
	}
	for _, peer := range c.takeContacts() {
		leave := Message{Type: MsgLeave, Src: c.id, Dst: peer}
		if err := s.sendToPeer(peer, leave); err == nil {
			s.metrics.MessageRouted(string(MsgLeave))
		}
	}
	s.logger.Infow("peer disconnected", "peer_id", c.id)
}

func (s *WebSocketServer) handleMessage(ctx context.Context, from *client, msg Message) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if msg.Type == MsgHeartbeat {
		return nil
	}
	if !isRelayed(msg.Type) {
		s.metrics.MessageDropped("unknown_type")
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
	if !from.limiter.Allow() {
		s.metrics.MessageDropped("rate_limited")
		return fmt.Errorf("rate limit exceeded")
	}
	if msg.Dst == "" {
		s.metrics.MessageDropped("no_destination")
		return fmt.Errorf("dst is required for %s", msg.Type)
	}
	if msg.Dst == from.id {
		s.metrics.MessageDropped("self")
		return fmt.Errorf("cannot signal yourself")
	}

	ctx, span := tracing.TraceSignal(ctx, string(msg.Type), string(from.id), string(msg.Dst))
	defer span.End()
	ctx = logger.WithPeerID(ctx, string(from.id))

	msg.Src = from.id
	from.addContact(msg.Dst)

	if err := s.sendToPeer(msg.Dst, msg); err != nil {
		s.metrics.MessageDropped("unknown_destination")
		s.logger.Debugw("destination not connected", "from_peer", from.id, "to_peer", msg.Dst, "type", msg.Type)
		// the sender learns right away that the peer is unavailable
		if msg.Type != MsgLeave {
			expire := Message{Type: MsgExpire, Src: msg.Dst, Dst: from.id, Payload: msg.Payload}
			return from.send(expire, s.opts.WriteTimeout)
		}
		return nil
	}

	s.metrics.MessageRouted(string(msg.Type))
	s.traced.LogDebug(ctx, "routed message",
		zap.String("type", string(msg.Type)),
		zap.String("to_peer", string(msg.Dst)),
		zap.Int("size", len(msg.Payload)),
	)
	return nil
}

func (s *WebSocketServer) sendToPeer(peerID domain.PeerID, msg Message) error {
	s.mu.RLock()
	c, exists := s.clients[peerID]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("peer %s not connected", peerID)
	}
	if err := c.send(msg, s.opts.WriteTimeout); err != nil {
		return err
	}
	c.addContact(msg.Src)
	return nil
}

func (s *WebSocketServer) sendError(c *client, message string) {
	msg, _ := NewMessage(MsgError, c.id, ErrorPayload{Msg: message})
	if err := c.send(msg, s.opts.WriteTimeout); err != nil {
		s.logger.Debugw("failed to send error", "peer_id", c.id, "error", err)
	}
}

func (s *WebSocketServer) reject(conn *websocket.Conn, typ MessageType, message string) {
	msg, _ := NewMessage(typ, "", ErrorPayload{Msg: message})
	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debugw("failed to send rejection", "error", err)
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.ConnectionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *WebSocketServer) IsPeerConnected(peerID domain.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.clients[peerID]
	return exists
}

// Close disconnects every peer.
func (s *WebSocketServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.conn.Close()
	}
}
