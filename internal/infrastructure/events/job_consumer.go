package events

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
)

// JobHandler processes one queued LLM job payload. A returned error marks
// the job unprocessable; the consumer dead-letters it and moves on.
// Transient backpressure belongs inside the handler, not in redelivery.
type JobHandler interface {
	Handle(ctx context.Context, payload []byte) error
}

// JobConsumer drains one priority queue topic into a handler.
type JobConsumer struct {
	reader  *kafka.Reader
	topic   string
	handler JobHandler
	dlq     *DeadLetterRouter
	logger  *zap.Logger
}

// NewJobConsumer creates a consumer group member for one priority topic.
func NewJobConsumer(cfg *config.Kafka, priority string, handler JobHandler, dlq *DeadLetterRouter, logger *zap.Logger) *JobConsumer {
	topic := JobsTopicForPriority(priority)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID + "-jobs-" + priority,
		Topic:   topic.Name,
	})
	return &JobConsumer{
		reader:  reader,
		topic:   topic.Name,
		handler: handler,
		dlq:     dlq,
		logger:  logger.Named("job_consumer").With(zap.String("topic", topic.Name)),
	}
}

// Run consumes until the context is cancelled.
func (c *JobConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return err
		}

		if err := c.handler.Handle(ctx, msg.Value); err != nil {
			c.dlq.Route(ctx, c.topic, msg.Key, msg.Value, err)
			c.logger.Warn("job dead-lettered", zap.Error(err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}
