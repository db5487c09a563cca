package main

import (
	"fmt"
	"path/filepath"

	"github.com/jittakal/dumpshard/internal/deadletter"
	"github.com/jittakal/dumpshard/internal/kafka"
	"github.com/jittakal/dumpshard/pkg/source"
)

// newDeadLetterHandler builds the configured dead-letter sink.
func (a *app) newDeadLetterHandler() (*deadletter.Handler, error) {
	cfg := a.cfg.DeadLetter

	var (
		publisher source.DeadLetterPublisher
		err       error
	)
	switch cfg.Sink {
	case deadletter.SinkNone, "":
		return deadletter.NewHandler(deadletter.NopSink{}, deadletter.SinkNone, a.logger, a.metrics), nil
	case deadletter.SinkFile:
		publisher, err = deadletter.NewFileSink(a.deadLetterPath(), a.logger)
	case deadletter.SinkKafka:
		publisher, err = kafka.NewDLQPublisher(kafka.Config{
			BootstrapServers:      cfg.Kafka.BootstrapServers,
			Topic:                 cfg.Kafka.Topic,
			SecurityProtocol:      cfg.Kafka.SecurityProtocol,
			SASLMechanism:         cfg.Kafka.SASLMechanism,
			SASLUsername:          cfg.Kafka.SASLUsername,
			SASLPassword:          cfg.Kafka.SASLPassword,
			AWSRegion:             cfg.Kafka.AWSRegion,
			TLSInsecureSkipVerify: cfg.Kafka.TLSInsecureSkipVerify,
		}, a.logger)
	case deadletter.SinkAMQP:
		publisher, err = deadletter.NewAMQPSink(deadletter.AMQPConfig{
			URL:   cfg.AMQP.URL,
			Queue: cfg.AMQP.Queue,
		}, a.logger)
	default:
		return nil, fmt.Errorf("unsupported dead-letter sink: %s", cfg.Sink)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s dead-letter sink: %w", cfg.Sink, err)
	}

	a.logger.Info("dead letters enabled", "sink", cfg.Sink)
	return deadletter.NewHandler(publisher, cfg.Sink, a.logger, a.metrics), nil
}

func (a *app) deadLetterPath() string {
	if a.cfg.DeadLetter.Path != "" {
		return a.cfg.DeadLetter.Path
	}
	return filepath.Join(a.cfg.Output.Dir, deadletter.DefaultFileName)
}
