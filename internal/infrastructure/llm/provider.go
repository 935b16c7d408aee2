package llm

import (
	"context"
	"sync"

	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

// Request is a provider-agnostic completion request.
type Request struct {
	System           string
	Prompt           string
	MaxTokens        int
	Temperature      float64
	ExtendedThinking bool
	ThinkingBudget   int
}

// Response is a provider-agnostic completion result.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	StopReason   string
}

// Provider is one model vendor. Implementations wrap vendor SDKs; routing
// and resilience never touch vendor types.
type Provider interface {
	Name() string
	Complete(ctx context.Context, modelID string, req *Request) (*Response, error)
}

// Registry resolves provider names from routing decisions to clients.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, domainerrors.NewNotFoundError("llm provider " + name)
	}
	return p, nil
}

// Names lists registered providers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
