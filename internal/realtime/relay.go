package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "taskflow.events"

var errRelayOffline = errors.New("relay is not connected")

// envelope is the body published on the fanout exchange.
type envelope struct {
	UserID string          `json:"userId"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Relay publishes pushes to a fanout exchange and delivers everything it
// consumes to the local Hub, so a user connected to any instance gets the
// event. While the broker is unreachable pushes go to the local Hub only.
type Relay struct {
	url      string
	exchange string
	hub      *Hub
	logger   *slog.Logger

	mu  sync.Mutex
	pub *amqp.Channel
}

func NewRelay(url string, hub *Hub, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{url: url, exchange: DefaultExchange, hub: hub, logger: logger}
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// exponential backoff capped at 30s.
func (r *Relay) Run(ctx context.Context) {
	backoff := time.Second
	for {
		err := r.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("relay disconnected", "error", err, "retry_in", backoff.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (r *Relay) consume(ctx context.Context) error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	sub, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := sub.ExchangeDeclare(r.exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	// Server named, exclusive and auto-deleted: one queue per instance.
	queue, err := sub.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := sub.QueueBind(queue.Name, "", r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := sub.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	r.setPublisher(pub)
	defer r.setPublisher(nil)

	r.logger.Info("relay connected", "exchange", r.exchange, "queue", queue.Name)
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			r.deliver(ctx, d.Body)
		}
	}
}

func (r *Relay) setPublisher(ch *amqp.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pub = ch
}

func (r *Relay) deliver(ctx context.Context, body []byte) {
	var msg envelope
	if err := json.Unmarshal(body, &msg); err != nil || msg.UserID == "" || msg.Event == "" {
		r.logger.Warn("relay dropped malformed message", "error", err)
		return
	}
	if err := r.hub.Push(ctx, msg.UserID, msg.Event, msg.Data); err != nil {
		r.logger.Warn("relay delivery failed", "user_id", msg.UserID, "event", msg.Event, "error", err)
	}
}

// Push publishes the event for every instance, this one included.
func (r *Relay) Push(ctx context.Context, userID, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	body, err := json.Marshal(envelope{UserID: userID, Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", event, err)
	}

	if err := r.publish(ctx, body); err != nil {
		r.logger.Debug("relay publish skipped, delivering locally", "event", event, "error", err)
		return r.hub.Push(ctx, userID, event, json.RawMessage(data))
	}
	return nil
}

func (r *Relay) publish(ctx context.Context, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pub == nil {
		return errRelayOffline
	}
	return r.pub.PublishWithContext(ctx, r.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
}
