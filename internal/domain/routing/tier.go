package routing

// Tier is a qualitative model-capability band. tier_0 is the fastest and
// cheapest; tier_1+ is reserved for escalation. tier_2 is a separate offline
// batch tier that sits off the interactive ladder and is never rank-compared
// against it.
type Tier string

const (
	Tier0     Tier = "tier_0"
	Tier1     Tier = "tier_1"
	Tier1Plus Tier = "tier_1+"
	Tier2     Tier = "tier_2"
)

// tierRank orders the interactive ladder. tier_2 is absent on purpose.
var tierRank = map[Tier]int{
	Tier0:     0,
	Tier1:     1,
	Tier1Plus: 2,
}

// OnLadder reports whether t participates in the interactive ordering.
func (t Tier) OnLadder() bool {
	_, ok := tierRank[t]
	return ok
}

// Rank returns the ladder position, or -1 for off-ladder tiers.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// MaxTier returns the higher of two tiers under the ladder order. When one
// side is the off-ladder batch tier, the on-ladder side wins; batch work is
// only ever selected directly by the task table, never raised into.
func MaxTier(a, b Tier) Tier {
	if !a.OnLadder() {
		return b
	}
	if !b.OnLadder() {
		return a
	}
	if tierRank[a] >= tierRank[b] {
		return a
	}
	return b
}

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ModelConfig describes one concrete model a tier maps to.
type ModelConfig struct {
	Provider         Provider `json:"provider"`
	ModelID          string   `json:"model_id"`
	MaxContextTokens int      `json:"max_context_tokens"`
	MaxOutputTokens  int      `json:"max_output_tokens"`

	// Cost per million tokens, used for budget accounting.
	InputCostPerMTok  float64 `json:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `json:"output_cost_per_mtok"`

	// Capability flags consulted by the router's capability guard.
	SupportsToolUse           bool `json:"supports_tool_use"`
	SupportsExtendedReasoning bool `json:"supports_extended_reasoning"`
	SupportsPromptCaching     bool `json:"supports_prompt_caching"`
	BatchEligible             bool `json:"batch_eligible"`
	ReliableJSON              bool `json:"reliable_json"`

	// FallbackModelID names a model on another provider that can stand in
	// when this one's provider is unavailable. Empty when no fallback exists.
	FallbackProvider Provider `json:"fallback_provider,omitempty"`
	FallbackModelID  string   `json:"fallback_model_id,omitempty"`
}
