// Package kafka publishes dead letters to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/dumpshard/internal/deadletter"
	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/record"
	"github.com/jittakal/dumpshard/pkg/source"
)

// Ensure implementation satisfies interface at compile time.
var _ source.DeadLetterPublisher = (*DLQPublisher)(nil)

// Config contains Kafka producer configuration.
type Config struct {
	BootstrapServers      []string
	Topic                 string
	SecurityProtocol      string
	SASLMechanism         string
	SASLUsername          string
	SASLPassword          string
	AWSRegion             string
	TLSInsecureSkipVerify bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.BootstrapServers) == 0 {
		return &apperrors.ConfigError{Key: "dead_letter.kafka.bootstrap_servers", Reason: "at least one broker is required"}
	}
	if c.Topic == "" {
		return &apperrors.ConfigError{Key: "dead_letter.kafka.topic", Reason: "must not be empty"}
	}
	return nil
}

// newSaramaConfig returns an idempotent producer configuration.
func newSaramaConfig(cfg Config) (*sarama.Config, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = "dumpshard-dlq"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	if err := configureSecurity(config, cfg); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid producer config: %w", err)
	}
	return config, nil
}

// DLQPublisher publishes rejection envelopes to a Kafka topic.
type DLQPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewDLQPublisher connects a sync producer to the brokers of cfg.
func NewDLQPublisher(cfg Config, logger *slog.Logger) (*DLQPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	config, err := newSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(cfg.BootstrapServers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("DLQ publisher created",
		"bootstrap_servers", cfg.BootstrapServers,
		"topic", cfg.Topic,
		"security_protocol", cfg.SecurityProtocol,
	)

	return NewDLQPublisherWithProducer(producer, cfg.Topic, logger), nil
}

// NewDLQPublisherWithProducer wraps an existing producer.
func NewDLQPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *DLQPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &DLQPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Publish sends the CloudEvent envelope of rej. The message key is the
// source path so rejections of one file stay ordered.
func (p *DLQPublisher) Publish(ctx context.Context, rej record.Rejection) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return apperrors.ErrPublisherClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := p.newMessage(rej)
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}

	p.logger.Debug("published dead letter",
		"topic", p.topic,
		"partition", partition,
		"offset", offset,
		"file", rej.Path,
		"reason", rej.Reason,
	)
	return nil
}

func (p *DLQPublisher) newMessage(rej record.Rejection) (*sarama.ProducerMessage, error) {
	event, data, err := deadletter.Encode(rej)
	if err != nil {
		return nil, err
	}

	return &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(rej.Path),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("ce_specversion"), Value: []byte(event.SpecVersion())},
			{Key: []byte("ce_type"), Value: []byte(event.Type())},
			{Key: []byte("ce_source"), Value: []byte(event.Source())},
			{Key: []byte("ce_id"), Value: []byte(event.ID())},
			{Key: []byte("content-type"), Value: []byte(deadletter.MediaType)},
			{Key: []byte("failure_reason"), Value: []byte(rej.Reason)},
			{Key: []byte("source_offset"), Value: []byte(strconv.FormatInt(rej.Offset, 10))},
		},
		Timestamp: time.Now(),
	}, nil
}

// Close closes the producer.
func (p *DLQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	p.logger.Info("closing DLQ publisher")
	if p.producer != nil {
		if err := p.producer.Close(); err != nil && !errors.Is(err, sarama.ErrClosedClient) {
			p.logger.Error("error closing producer", "error", err)
			return err
		}
	}
	return nil
}
