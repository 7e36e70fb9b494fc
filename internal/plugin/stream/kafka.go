// Package stream implements broker-backed event sources: Kafka topics and
// NATS subjects.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/yairfalse/vigil/internal/plugin"
	"github.com/yairfalse/vigil/telemetry"
)

// MessageReader is the subset of *kafka.Reader the source needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOptions configures the Kafka source.
type KafkaOptions struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaSource consumes JSON events from a Kafka topic with a consumer group.
type KafkaSource struct {
	reader  MessageReader
	topic   string
	backoff time.Duration
	logger  *telemetry.Logger
}

// NewKafkaSource creates a Kafka source with a segmentio reader.
func NewKafkaSource(opts KafkaOptions) (*KafkaSource, error) {
	if len(opts.Brokers) == 0 || opts.Topic == "" {
		return nil, errors.New("kafka: brokers and topic are required")
	}
	if opts.GroupID == "" {
		opts.GroupID = "vigil"
	}

	logger := telemetry.NewLogger("kafka-source")
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        opts.Brokers,
		GroupID:        opts.GroupID,
		Topic:          opts.Topic,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        time.Second,
		CommitInterval: 0,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.WithContext(context.Background()).Error().Str("component", "kafka-reader").Msgf(msg, args...)
		}),
	})

	return newKafkaSource(reader, opts.Topic), nil
}

func newKafkaSource(reader MessageReader, topic string) *KafkaSource {
	return &KafkaSource{
		reader:  reader,
		topic:   topic,
		backoff: time.Second,
		logger:  telemetry.NewLogger("kafka-source"),
	}
}

// Name implements plugin.Source.
func (s *KafkaSource) Name() string { return "kafka" }

// Run implements plugin.Source. A message is committed once handled or
// once it fails the event schema; a handler error stops the source so the
// uncommitted offset is redelivered to the group.
func (s *KafkaSource) Run(ctx context.Context, handle plugin.Handler) error {
	defer func() { _ = s.reader.Close() }()

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WithContext(ctx).Error().Err(err).Str("topic", s.topic).Msg("failed to fetch message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.backoff):
				continue
			}
		}

		in, err := plugin.Decode(msg.Value)
		if err != nil {
			s.logger.WithContext(ctx).Warn().
				Err(err).
				Str("topic", msg.Topic).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("skipping invalid event message")
		} else if err := handle(ctx, in); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to handle kafka message at offset %d: %w", msg.Offset, err)
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			s.logger.WithContext(ctx).Warn().Err(err).Int64("offset", msg.Offset).Msg("failed to commit offset")
		}
	}
}
