package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"peerlink/internal/core/ports"
	"peerlink/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "peerlink:notifications"

// Message is a notification as carried on the bus.
type Message struct {
	InstanceID string    `json:"instance_id"`
	Timestamp  time.Time `json:"timestamp"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Icon       string    `json:"icon,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	Renotify   bool      `json:"renotify,omitempty"`
	Silent     bool      `json:"silent,omitempty"`
	Vibrate    []int     `json:"vibrate,omitempty"`
}

func (m *Message) Notification() ports.Notification {
	return ports.Notification{
		Title:    m.Title,
		Body:     m.Body,
		Icon:     m.Icon,
		Tag:      m.Tag,
		Renotify: m.Renotify,
		Silent:   m.Silent,
		Vibrate:  m.Vibrate,
	}
}

// Bus hands notifications from chat clients to background notifier
// processes over redis pub/sub.
type Bus struct {
	client     *redis.Client
	channel    string
	instanceID string
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.SugaredLogger
}

func NewBus(client *redis.Client, channel, instanceID string, logger *zap.SugaredLogger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("notification bus breaker changed state", "from", from, "to", to)
	})
	return &Bus{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		breaker:    breaker,
		logger:     logger,
	}
}

// Publish sends n to every subscribed notifier. While redis keeps failing
// the breaker rejects calls without attempting them.
func (b *Bus) Publish(ctx context.Context, n ports.Notification) error {
	msg := Message{
		InstanceID: b.instanceID,
		Timestamp:  time.Now(),
		Title:      n.Title,
		Body:       n.Body,
		Icon:       n.Icon,
		Tag:        n.Tag,
		Renotify:   n.Renotify,
		Silent:     n.Silent,
		Vibrate:    n.Vibrate,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = b.breaker.Execute(ctx, func() error {
		return b.client.Publish(ctx, b.channel, data).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	b.logger.Debugw("published notification", "title", n.Title, "tag", n.Tag)
	return nil
}

// Subscribe calls handler for each notification from other instances until
// ctx is done.
func (b *Bus) Subscribe(ctx context.Context, handler func(*Message) error) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warnw("failed to unmarshal notification", "error", err, "payload", m.Payload)
				continue
			}
			if msg.InstanceID == b.instanceID {
				continue
			}
			if err := handler(&msg); err != nil {
				b.logger.Warnw("error handling notification", "title", msg.Title, "error", err)
			}
		}
	}
}

// BreakerState reports the publish circuit state.
func (b *Bus) BreakerState() circuitbreaker.State {
	return b.breaker.State()
}
