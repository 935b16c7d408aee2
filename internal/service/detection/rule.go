package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// DB is the query surface a rule evaluates against. *pgxpool.Pool satisfies
// it; tests supply a stub.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Result is one triggered detection. Rules fill in the raw fields; the
// runner applies the safety flag and the confidence floor before the result
// becomes an alert.
type Result struct {
	RuleID          string
	TenantID        string
	Title           string
	Description     string
	Severity        string
	Confidence      float64
	AtlasTechnique  string
	AttackTechnique string
	EntityIDs       []string
	Evidence        map[string]interface{}
	DetectedAt      time.Time
	SafetyRelevant  bool
}

// Rule is one scheduled detection. Evaluate must be side-effect free on the
// database; it reads the lookback window and returns triggered results.
type Rule interface {
	RuleID() string
	Frequency() time.Duration
	Lookback() time.Duration
	Evaluate(ctx context.Context, db DB, now time.Time) ([]*Result, error)
}

// Registry holds the active rule set. Registration happens at startup;
// lookups are read-mostly.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// Register adds a rule. Duplicate rule IDs are a configuration bug.
func (r *Registry) Register(rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := rule.RuleID()
	if _, exists := r.rules[id]; exists {
		return fmt.Errorf("detection rule %q already registered", id)
	}
	r.rules[id] = rule
	r.order = append(r.order, id)
	return nil
}

// Rules returns all rules in registration order.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rules[id])
	}
	return out
}
