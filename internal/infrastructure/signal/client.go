package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrIDTaken is returned by Dial when another live socket holds the id.
var ErrIDTaken = errors.New("id is taken")

type ClientOptions struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		HeartbeatInterval: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// Client is one registered socket to the signaling server.
type Client struct {
	id    domain.PeerID
	token string
	conn  *websocket.Conn
	opts  ClientOptions

	writeMu sync.Mutex

	messages  chan Message
	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	logger *zap.SugaredLogger
}

// rejection extracts the message of a JSON error the server answered
// instead of upgrading.
func rejection(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.Message
}

// Dial registers id with the server at baseURL and waits for OPEN. token is
// the reclaim token of a previous socket, or empty.
func Dial(ctx context.Context, baseURL string, id domain.PeerID, token string, opts ClientOptions, logger *zap.SugaredLogger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signal url: %w", err)
	}
	q := u.Query()
	q.Set("id", string(id))
	if token != "" {
		q.Set("token", token)
		logger.Debugw("Reclaiming peer id", "id", id, "token", utils.MaskSensitive(token, 8))
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if msg := rejection(resp); msg != "" {
			return nil, fmt.Errorf("signal server: %s", msg)
		}
		return nil, fmt.Errorf("dial signal server: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(opts.HandshakeTimeout))
	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	switch first.Type {
	case MsgOpen:
	case MsgIDTaken:
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrIDTaken, id)
	case MsgError:
		conn.Close()
		var p ErrorPayload
		_ = first.Decode(&p)
		return nil, fmt.Errorf("signal server: %s", p.Msg)
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected handshake message %s", first.Type)
	}

	var open OpenPayload
	if err := first.Decode(&open); err != nil {
		logger.Debugw("OPEN carried no token", "error", err)
	}

	c := &Client{
		id:       id,
		token:    open.Token,
		conn:     conn,
		opts:     opts,
		messages: make(chan Message, 64),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go c.readLoop()
	if opts.HeartbeatInterval > 0 {
		go c.heartbeatLoop()
	}
	logger.Infow("registered with signal server", "peer_id", id, "url", baseURL)
	return c, nil
}

func (c *Client) ID() domain.PeerID { return c.id }

// Token is the reclaim token issued on OPEN.
func (c *Client) Token() string { return c.token }

// Messages delivers server frames. It is closed when the socket ends.
func (c *Client) Messages() <-chan Message { return c.messages }

// Done is closed when the socket ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the socket ended, nil after a local Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.messages)
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.errMu.Lock()
				c.err = err
				c.errMu.Unlock()
				c.shutdown()
			}
			return
		}
		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Send(Message{Type: MsgHeartbeat}); err != nil {
				c.logger.Debugw("heartbeat failed", "error", err)
				return
			}
		}
	}
}

// Send writes one frame. Safe for concurrent use.
func (c *Client) Send(msg Message) error {
	select {
	case <-c.done:
		return fmt.Errorf("signal socket closed")
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.conn.WriteJSON(msg)
}

// SendPayload encodes payload and sends it to dst.
func (c *Client) SendPayload(typ MessageType, dst domain.PeerID, payload interface{}) error {
	msg, err := NewMessage(typ, dst, payload)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}
