package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
	"github.com/aegisops/aegis-soc-backend/internal/domain/routing"
)

// Job is the queued form of one reasoning task, as published onto the
// jobs.llm.priority.* topics.
type Job struct {
	Task            *routing.TaskContext     `json:"task"`
	Caps            routing.TaskCapabilities `json:"caps"`
	TenantTier      string                   `json:"tenant_tier"`
	System          string                   `json:"system,omitempty"`
	Prompt          string                   `json:"prompt"`
	InvestigationID string                   `json:"investigation_id,omitempty"`
	AlertID         string                   `json:"alert_id,omitempty"`
}

// WorkerEmitter is the fire-and-forget audit side channel.
type WorkerEmitter interface {
	EmitAsync(event *audit.Event)
}

// Worker runs queued jobs through the dispatcher for one priority band. It
// satisfies the job consumer's handler contract; a returned error
// dead-letters the job.
type Worker struct {
	dispatcher *Dispatcher
	emitter    WorkerEmitter
	priority   string
	logger     *zap.Logger
}

// NewWorker creates the handler for one priority band.
func NewWorker(dispatcher *Dispatcher, emitter WorkerEmitter, priority string, logger *zap.Logger) *Worker {
	return &Worker{
		dispatcher: dispatcher,
		emitter:    emitter,
		priority:   priority,
		logger:     logger.Named("llm_worker").With(zap.String("priority", priority)),
	}
}

// Handle decodes and executes one job.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decoding job: %w", err)
	}
	if job.Task == nil {
		return domainerrors.NewValidationError("MISSING_TASK", "job has no task context")
	}

	result, err := w.dispatcher.Complete(ctx, &CompletionRequest{
		Task:       job.Task,
		Caps:       job.Caps,
		Priority:   w.priority,
		TenantTier: job.TenantTier,
		System:     job.System,
		Prompt:     job.Prompt,
	})
	if err != nil {
		w.logger.Warn("job execution failed",
			zap.String("task", job.Task.Task),
			zap.String("tenant_id", job.Task.TenantID),
			zap.Error(err))
		return err
	}

	if w.emitter != nil {
		w.emitter.EmitAsync(&audit.Event{
			TenantID:        job.Task.TenantID,
			EventType:       audit.EventLLMResponse,
			Severity:        audit.SeverityInfo,
			ActorType:       audit.ActorAgent,
			ActorID:         string(result.Decision.Model.Provider) + "/" + result.Decision.Model.ModelID,
			InvestigationID: job.InvestigationID,
			AlertID:         job.AlertID,
			Decision: map[string]interface{}{
				"tier":                  string(result.Decision.Tier),
				"reason":                result.Decision.Reason,
				"use_extended_thinking": result.Decision.UseExtendedThinking,
				"failed_over":           result.Decision.FailedOver,
			},
			Outcome: map[string]interface{}{
				"input_tokens":  result.Response.InputTokens,
				"output_tokens": result.Response.OutputTokens,
				"stop_reason":   result.Response.StopReason,
			},
		})
	}
	return nil
}
