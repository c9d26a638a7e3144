package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/flood-telemetry/internal/config"
	"github.com/couchcryptid/flood-telemetry/internal/domain"
)

// SinkName labels this sink in logs and metrics.
const SinkName = "kafka"

// Writer publishes accepted readings to a Kafka topic.
// It implements pipeline.Sink.
type Writer struct {
	writer *kafkago.Writer
	clock  clockwork.Clock
	logger *slog.Logger
}

// publishLinger bounds how long a synchronous single-message write waits
// for a batch to fill.
const publishLinger = 10 * time.Millisecond

// NewWriter creates a Kafka producer for the configured readings topic.
// Each Write publishes one message, so batches are flushed immediately.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchSize:              1,
		BatchTimeout:           publishLinger,
		AllowAutoTopicCreation: true,
	}
	logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	return &Writer{writer: w, clock: clockwork.NewRealClock(), logger: logger}
}

// Name implements pipeline.Sink.
func (w *Writer) Name() string {
	return SinkName
}

// Write serializes one reading and publishes it synchronously.
func (w *Writer) Write(ctx context.Context, r domain.Reading) error {
	msg, err := serializeToMessage(r, w.clock.Now())
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish reading: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Reading into a Kafka message keyed by its
// timestamp, so a replayed reading lands on the same partition.
func serializeToMessage(r domain.Reading, ingestedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize reading: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(r.Timestamp.UTC().Format(time.RFC3339)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "water_level", Value: []byte(r.WaterLevel.String())},
			{Key: "ingested_at", Value: []byte(ingestedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
