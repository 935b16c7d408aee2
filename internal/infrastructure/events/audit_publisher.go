package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
)

// AuditPublisher emits audit events onto the audit.events side channel.
// Emission is fire-and-forget by design: the audit trail rides a side
// channel and must never sit on the critical path of alert processing.
type AuditPublisher struct {
	publisher Publisher
	dlq       *DeadLetterRouter
	source    string
	logger    *zap.Logger
}

// NewAuditPublisher creates a publisher stamping events with the emitting
// service name.
func NewAuditPublisher(publisher Publisher, dlq *DeadLetterRouter, source string, logger *zap.Logger) *AuditPublisher {
	return &AuditPublisher{
		publisher: publisher,
		dlq:       dlq,
		source:    source,
		logger:    logger.Named("audit_publisher"),
	}
}

// Emit publishes one audit event, keyed by tenant so the writer consumes
// each tenant's events in order.
func (p *AuditPublisher) Emit(ctx context.Context, event *audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SourceService == "" {
		event.SourceService = p.source
	}

	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := p.publisher.Publish(ctx, AuditEvents.Name, []byte(event.TenantID), value); err != nil {
		if p.dlq != nil {
			p.dlq.Route(ctx, AuditEvents.Name, []byte(event.TenantID), value, err)
		}
		return err
	}
	return nil
}

// EmitAsync publishes without blocking the caller and logs failures. Used
// by components whose own work must not fail on audit emission.
func (p *AuditPublisher) EmitAsync(event *audit.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Emit(ctx, event); err != nil {
			p.logger.Warn("audit emit failed",
				zap.String("tenant_id", event.TenantID),
				zap.String("event_type", string(event.EventType)),
				zap.Error(err))
		}
	}()
}
