package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the trade event stream
type KafkaConfig struct {
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	Topic        string        `json:"topic" yaml:"topic"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
}

// MessageWriter is the part of *kafka.Writer the forwarder uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder copies trade events from the bus onto a Kafka topic
type KafkaForwarder struct {
	writer  MessageWriter
	topic   string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewKafkaWriter builds a writer keyed by trade id so events for one trade
// stay ordered within a partition
func NewKafkaWriter(cfg KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 100 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: batch,
	}, nil
}

// NewKafkaForwarder wraps a writer. The topic is carried by the writer.
func NewKafkaForwarder(writer MessageWriter, cfg KafkaConfig, logger zerolog.Logger) *KafkaForwarder {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaForwarder{
		writer:  writer,
		topic:   cfg.Topic,
		timeout: timeout,
		logger:  logger.With().Str("component", "kafka").Str("topic", cfg.Topic).Logger(),
	}
}

// Attach subscribes the forwarder to the trade events on bus
func (f *KafkaForwarder) Attach(bus *EventBus) {
	for _, t := range []EventType{EventTradeCreated, EventExecutionLinked, EventOutcomeReported} {
		bus.Subscribe(t, f.Handle)
	}
}

// Handle writes one event. Failures are logged, never returned to the bus.
func (f *KafkaForwarder) Handle(event Event) {
	if err := f.Forward(context.Background(), event); err != nil {
		f.logger.Error().Err(err).Str("event", string(event.Type)).Str("trade_id", event.TradeID).Msg("Failed to forward event")
	}
}

// Forward serializes and writes an event
func (f *KafkaForwarder) Forward(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	return f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TradeID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
}

// Close flushes and closes the writer
func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}
