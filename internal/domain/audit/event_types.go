package audit

import "fmt"

// EventType is the enumerated audit event taxonomy. Types use a
// "<subsystem>.<action>" form so prefix matching can categorize them.
type EventType string

const (
	// Investigation lifecycle
	EventInvestigationCreated      EventType = "investigation.created"
	EventInvestigationStateChanged EventType = "investigation.state_changed"
	EventInvestigationCompleted    EventType = "investigation.completed"

	// Alert pipeline
	EventAlertReceived   EventType = "alert.received"
	EventAlertClassified EventType = "alert.classified"
	EventAlertAutoClosed EventType = "alert.auto_closed"
	EventAlertEscalated  EventType = "alert.escalated"

	// LLM interactions
	EventLLMRequest  EventType = "llm.request"
	EventLLMResponse EventType = "llm.response"
	EventLLMFailover EventType = "llm.failover"

	// Response actions
	EventActionExecuted EventType = "response.action_executed"
	EventActionPending  EventType = "response.action_pending"
	EventActionFailed   EventType = "response.action_failed"

	// Human approval flow
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalGranted   EventType = "approval.granted"
	EventApprovalDenied    EventType = "approval.denied"

	// Retrieval
	EventRetrievalContext EventType = "retrieval.context_fetched"

	// Autonomy safety
	EventCanaryPromoted   EventType = "canary.promoted"
	EventCanaryRolledBack EventType = "canary.rolled_back"
	EventKillSwitchActive EventType = "killswitch.activated"
	EventDriftDetected    EventType = "drift.detected"
	EventDriftRestored    EventType = "drift.restored"
	EventAutonomyReduced  EventType = "autonomy.reduced"
	EventFNFlagged        EventType = "autonomy.fn_flagged"
	EventDetectionFired   EventType = "atlas.detection_fired"

	// System
	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"
)

// Category buckets every event into the coarse audit taxonomy.
type Category string

const (
	CategorySystem   Category = "system"
	CategoryDecision Category = "decision"
	CategoryHuman    Category = "human"
	CategoryApproval Category = "approval"
)

// Severity levels for audit records.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ActorType identifies who performed the audited action.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorAgent  ActorType = "agent"
	ActorHuman  ActorType = "human"
)

var knownEventTypes = map[EventType]struct{}{
	EventTypeGenesis:               {},
	EventInvestigationCreated:      {},
	EventInvestigationStateChanged: {},
	EventInvestigationCompleted:    {},
	EventAlertReceived:             {},
	EventAlertClassified:           {},
	EventAlertAutoClosed:           {},
	EventAlertEscalated:            {},
	EventLLMRequest:                {},
	EventLLMResponse:               {},
	EventLLMFailover:               {},
	EventActionExecuted:            {},
	EventActionPending:             {},
	EventActionFailed:              {},
	EventApprovalRequested:         {},
	EventApprovalGranted:           {},
	EventApprovalDenied:            {},
	EventRetrievalContext:          {},
	EventCanaryPromoted:            {},
	EventCanaryRolledBack:          {},
	EventKillSwitchActive:          {},
	EventDriftDetected:             {},
	EventDriftRestored:             {},
	EventAutonomyReduced:           {},
	EventFNFlagged:                 {},
	EventDetectionFired:            {},
	EventSystemStartup:             {},
	EventSystemShutdown:            {},
}

func validateEventType(t EventType) error {
	if t == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if _, ok := knownEventTypes[t]; !ok {
		return fmt.Errorf("unknown event type: %s", t)
	}
	return nil
}

func validateCategory(c Category) error {
	switch c {
	case CategorySystem, CategoryDecision, CategoryHuman, CategoryApproval:
		return nil
	default:
		return fmt.Errorf("invalid event category: %s", c)
	}
}

func validateActorType(a ActorType) error {
	switch a {
	case ActorSystem, ActorAgent, ActorHuman:
		return nil
	default:
		return fmt.Errorf("invalid actor type: %s", a)
	}
}

// DeriveCategory maps an event type onto its audit category. Used when the
// emitting component did not set one explicitly.
func DeriveCategory(t EventType) Category {
	switch {
	case hasPrefix(t, "approval."):
		return CategoryApproval
	case hasPrefix(t, "alert.") || hasPrefix(t, "llm.") || hasPrefix(t, "canary.") ||
		hasPrefix(t, "autonomy.") || hasPrefix(t, "drift."):
		return CategoryDecision
	case hasPrefix(t, "investigation.") || hasPrefix(t, "response."):
		return CategoryDecision
	default:
		return CategorySystem
	}
}

func hasPrefix(t EventType, prefix string) bool {
	s := string(t)
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
