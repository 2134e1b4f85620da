package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// RabbitConfig holds broker connection settings. Zero values take the
// defaults below.
type RabbitConfig struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
	// Prefetch bounds unacknowledged deliveries per consumer. The worker
	// renders one job at a time, so this stays at 1.
	Prefetch       int
	PublishRetries int
	Logger         zerolog.Logger
}

// RabbitQueue is the production Queue backed by RabbitMQ: durable
// direct exchange, durable queue, persistent messages, manual ack.
type RabbitQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     RabbitConfig
	log     zerolog.Logger
}

// NewRabbitQueue dials the broker and declares the exchange, queue and
// binding.
func NewRabbitQueue(cfg RabbitConfig) (*RabbitQueue, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = "renderd.jobs"
	}
	if cfg.Queue == "" {
		cfg.Queue = "renderd.render"
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = "render"
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.PublishRetries <= 0 {
		cfg.PublishRetries = 3
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := channel.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := channel.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	log := cfg.Logger.With().Str("component", "queue").Logger()
	log.Info().Str("exchange", cfg.Exchange).Str("queue", cfg.Queue).Msg("rabbitmq ready")
	return &RabbitQueue{conn: conn, channel: channel, cfg: cfg, log: log}, nil
}

// Publish sends a persistent message, retrying transient broker faults
// with doubling backoff.
func (q *RabbitQueue) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	var last error
	delay := 100 * time.Millisecond
	for attempt := 0; attempt <= q.cfg.PublishRetries; attempt++ {
		if attempt > 0 {
			q.log.Warn().Int("attempt", attempt+1).Err(last).Msg("publish retry")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		last = q.channel.PublishWithContext(ctx, q.cfg.Exchange, q.cfg.RoutingKey, false, false,
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			})
		if last == nil {
			return nil
		}
	}
	return fmt.Errorf("publish after %d attempts: %w", q.cfg.PublishRetries+1, last)
}

// Consume sets QoS to the configured prefetch and adapts broker
// deliveries onto the Queue boundary. Messages that fail to decode are
// nacked without requeue.
func (q *RabbitQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	if err := q.channel.Qos(q.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := q.channel.Consume(q.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("start consuming: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					q.log.Warn().Msg("delivery channel closed")
					return
				}
				var msg Message
				if err := json.Unmarshal(d.Body, &msg); err != nil {
					q.log.Error().Err(err).Msg("malformed message dropped")
					d.Nack(false, false)
					continue
				}
				delivery := Delivery{
					Message: msg,
					ack:     func() error { return d.Ack(false) },
					nack:    func() error { return d.Nack(false, false) },
				}
				select {
				case out <- delivery:
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Close shuts down the channel and connection.
func (q *RabbitQueue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
