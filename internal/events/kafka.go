package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes envelopes keyed by order id so events of one order stay ordered.
type KafkaSink struct {
	Writer  MessageWriter
	Timeout time.Duration
}

// NewKafkaWriter builds a synchronous writer; the topic is set per message.
func NewKafkaWriter(brokers []string, logger zerolog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug().Msgf(msg, args...)
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error().Msgf(msg, args...)
		}),
	}
}

func (s KafkaSink) Deliver(ctx context.Context, env Envelope, payload []byte) error {
	if s.Writer == nil {
		return fmt.Errorf("kafka writer not configured")
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msg := kafka.Message{
		Topic: env.Topic,
		Key:   []byte(env.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(env.ID)},
			{Key: "provider", Value: []byte(env.Provider)},
		},
	}
	if err := s.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s KafkaSink) Close() error {
	if s.Writer == nil {
		return nil
	}
	return s.Writer.Close()
}
