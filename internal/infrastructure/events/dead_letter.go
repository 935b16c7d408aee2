package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// DeadLetterRouter wraps a Publisher and diverts undeliverable or
// unprocessable messages to the topic's .dlq companion with failure
// metadata, instead of dropping them.
type DeadLetterRouter struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewDeadLetterRouter creates the router.
func NewDeadLetterRouter(publisher Publisher, logger *zap.Logger) *DeadLetterRouter {
	return &DeadLetterRouter{
		publisher: publisher,
		logger:    logger.Named("dlq"),
	}
}

// deadLetter is the envelope written to DLQ topics.
type deadLetter struct {
	OriginalTopic string    `json:"original_topic"`
	Key           string    `json:"key,omitempty"`
	Payload       []byte    `json:"payload"`
	FailureReason string    `json:"failure_reason"`
	FailedAt      time.Time `json:"failed_at"`
}

// Route sends the failed message to the original topic's DLQ. A DLQ publish
// failure is logged and swallowed; dead-lettering must never take down the
// caller.
func (r *DeadLetterRouter) Route(ctx context.Context, originalTopic string, key, payload []byte, cause error) {
	envelope := deadLetter{
		OriginalTopic: originalTopic,
		Key:           string(key),
		Payload:       payload,
		FailureReason: cause.Error(),
		FailedAt:      time.Now().UTC(),
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		r.logger.Error("failed to marshal dead letter",
			zap.String("topic", originalTopic), zap.Error(err))
		return
	}

	dlqTopic := DLQ(Topic{Name: originalTopic}).Name
	if err := r.publisher.Publish(ctx, dlqTopic, key, value); err != nil {
		r.logger.Error("failed to publish dead letter",
			zap.String("topic", dlqTopic), zap.Error(err))
		return
	}

	r.logger.Warn("message dead-lettered",
		zap.String("original_topic", originalTopic),
		zap.String("reason", cause.Error()))
}
