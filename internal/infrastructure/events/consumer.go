package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
)

// RecordProcessor is what the consumer hands decoded audit events to; the
// chain writer implements it.
type RecordProcessor interface {
	Process(ctx context.Context, event *audit.Event) (*audit.Record, error)
}

// AuditConsumer drains audit.events and feeds the chain writer. Offsets
// commit only after a successful write, so a writer crash replays rather
// than drops; replays land on the same tenant sequence because the writer
// serializes per tenant.
type AuditConsumer struct {
	reader    *kafka.Reader
	processor RecordProcessor
	dlq       *DeadLetterRouter
	logger    *zap.Logger
}

// NewAuditConsumer creates the consumer group member.
func NewAuditConsumer(cfg *config.Kafka, processor RecordProcessor, dlq *DeadLetterRouter, logger *zap.Logger) *AuditConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   AuditEvents.Name,
	})
	return &AuditConsumer{
		reader:    reader,
		processor: processor,
		dlq:       dlq,
		logger:    logger.Named("audit_consumer"),
	}
}

// Run consumes until the context is cancelled.
func (c *AuditConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return err
		}

		var event audit.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// Malformed payloads are non-retriable: dead-letter and move on.
			c.dlq.Route(ctx, AuditEvents.Name, msg.Key, msg.Value, err)
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				return err
			}
			continue
		}

		if _, err := c.processor.Process(ctx, &event); err != nil {
			// Leave the offset uncommitted; the write is retried on the
			// next fetch. The chain writer guarantees the sequence did not
			// advance.
			c.logger.Error("audit event processing failed",
				zap.String("tenant_id", event.TenantID),
				zap.String("event_type", string(event.EventType)),
				zap.Error(err))
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}
