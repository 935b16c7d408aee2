package routing

// TaskContext carries everything the router needs to place one reasoning
// task on a tier.
type TaskContext struct {
	Task     string `json:"task"`
	TenantID string `json:"tenant_id,omitempty"`
	Severity string `json:"severity,omitempty"`

	// TimeBudgetSeconds under 3 forces the fastest tier regardless of
	// severity.
	TimeBudgetSeconds float64 `json:"time_budget_seconds,omitempty"`

	// ContextTokens is the estimated prompt size.
	ContextTokens int `json:"context_tokens,omitempty"`

	// PreviousConfidence is set on escalation retries; nil on first pass.
	PreviousConfidence *float64 `json:"previous_confidence,omitempty"`

	// RequiresReasoning marks tasks where the severity override may raise
	// the tier.
	RequiresReasoning bool `json:"requires_reasoning,omitempty"`
}

// TaskCapabilities is the capability requirement attached to every task.
// The selected model must satisfy it; models that do not are filtered from
// consideration within the chosen tier.
type TaskCapabilities struct {
	RequiresToolUse           bool    `json:"requires_tool_use"`
	RequiresReliableJSON      bool    `json:"requires_reliable_json"`
	MinContextTokens          int     `json:"min_context_tokens"`
	LatencySLOSeconds         float64 `json:"latency_slo_seconds"`
	RequiresExtendedReasoning bool    `json:"requires_extended_reasoning"`
}

// Satisfies reports whether a model meets the capability requirement.
func (c TaskCapabilities) Satisfies(m ModelConfig) bool {
	if c.RequiresToolUse && !m.SupportsToolUse {
		return false
	}
	if c.RequiresReliableJSON && !m.ReliableJSON {
		return false
	}
	if c.MinContextTokens > 0 && m.MaxContextTokens < c.MinContextTokens {
		return false
	}
	if c.RequiresExtendedReasoning && !m.SupportsExtendedReasoning {
		return false
	}
	return true
}

// RoutingDecision is the router's output for one task.
type RoutingDecision struct {
	Tier                Tier        `json:"tier"`
	Model               ModelConfig `json:"model"`
	MaxOutputTokens     int         `json:"max_output_tokens"`
	Temperature         float64     `json:"temperature"`
	UseExtendedThinking bool        `json:"use_extended_thinking"`
	UsePromptCaching    bool        `json:"use_prompt_caching"`

	// FailedOver is set when the primary provider for the selected model was
	// unavailable and the registry supplied a fallback.
	FailedOver       bool     `json:"failed_over,omitempty"`
	FailoverProvider Provider `json:"failover_provider,omitempty"`

	// Reason is the comma-joined trail of routing steps that fired.
	Reason string `json:"reason"`
}
