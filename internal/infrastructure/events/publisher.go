package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/errors"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
)

// Publisher is the produce contract the services depend on. The Kafka
// implementation is below; tests inject fakes.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

// KafkaPublisher produces to Kafka with one shared writer. Messages carry
// their topic so a single writer serves the whole catalog.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher creates the publisher.
func NewKafkaPublisher(cfg *config.Kafka, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}
	return &KafkaPublisher{
		writer: writer,
		logger: logger.Named("kafka"),
	}
}

// Publish writes one message. Keying by tenant keeps per-tenant ordering
// within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return errors.NewExternalError("kafka", "failed to publish message").
			WithDetails(map[string]interface{}{"topic": topic}).WithCause(err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
