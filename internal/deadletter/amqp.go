package deadletter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/record"
	"github.com/jittakal/dumpshard/pkg/source"
)

// Ensure implementation satisfies interface at compile time.
var _ source.DeadLetterPublisher = (*AMQPSink)(nil)

// AMQPConfig contains RabbitMQ configuration.
type AMQPConfig struct {
	URL   string
	Queue string
}

// amqpChannel is the subset of *amqp.Channel used by AMQPSink.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes envelopes to a durable RabbitMQ queue through the
// default exchange.
type AMQPSink struct {
	conn    *amqp.Connection
	channel amqpChannel
	queue   string
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewAMQPSink connects to RabbitMQ and declares the queue.
func NewAMQPSink(cfg AMQPConfig, logger *slog.Logger) (*AMQPSink, error) {
	if cfg.URL == "" {
		return nil, &apperrors.ConfigError{Key: "dead_letter.amqp.url", Reason: "must not be empty"}
	}
	if cfg.Queue == "" {
		return nil, &apperrors.ConfigError{Key: "dead_letter.amqp.queue", Reason: "must not be empty"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	logger.Info("dead letter AMQP sink created", "queue", cfg.Queue)
	return &AMQPSink{conn: conn, channel: ch, queue: cfg.Queue, logger: logger}, nil
}

// Publish sends the envelope of rej as a persistent message.
func (s *AMQPSink) Publish(ctx context.Context, rej record.Rejection) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return apperrors.ErrPublisherClosed
	}

	msg, err := newPublishing(rej)
	if err != nil {
		return err
	}

	if err := s.channel.PublishWithContext(ctx, "", s.queue, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.queue, err)
	}
	return nil
}

func newPublishing(rej record.Rejection) (amqp.Publishing, error) {
	event, data, err := Encode(rej)
	if err != nil {
		return amqp.Publishing{}, err
	}

	return amqp.Publishing{
		ContentType:  MediaType,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID(),
		Timestamp:    event.Time(),
		Type:         event.Type(),
		Headers: amqp.Table{
			"reason": rej.Reason,
			"path":   rej.Path,
		},
		Body: data,
	}, nil
}

// Close closes the channel and the connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info("closing dead letter AMQP sink")
	if err := s.channel.Close(); err != nil {
		s.logger.Error("error closing channel", "error", err)
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
