package events

import "fmt"

// Topic describes one durable, partitioned stream. Provisioning is external;
// this catalog is the single place the canonical names, partition counts,
// and retention windows live so producers and the lag probe agree on them.
type Topic struct {
	Name          string
	Partitions    int
	RetentionDays int
}

// Canonical topic set.
var (
	AlertsRaw         = Topic{Name: "alerts.raw", Partitions: 4, RetentionDays: 7}
	AlertsNormalized  = Topic{Name: "alerts.normalized", Partitions: 4, RetentionDays: 7}
	IncidentsEnriched = Topic{Name: "incidents.enriched", Partitions: 4, RetentionDays: 7}

	JobsLLMCritical = Topic{Name: "jobs.llm.priority.critical", Partitions: 4, RetentionDays: 3}
	JobsLLMHigh     = Topic{Name: "jobs.llm.priority.high", Partitions: 4, RetentionDays: 3}
	JobsLLMNormal   = Topic{Name: "jobs.llm.priority.normal", Partitions: 4, RetentionDays: 7}
	JobsLLMLow      = Topic{Name: "jobs.llm.priority.low", Partitions: 2, RetentionDays: 14}

	ActionsPending = Topic{Name: "actions.pending", Partitions: 2, RetentionDays: 7}
	AuditEvents    = Topic{Name: "audit.events", Partitions: 4, RetentionDays: 90}

	CTEMNormalized = Topic{Name: "ctem.normalized", Partitions: 4, RetentionDays: 30}
)

// CTEMRaw returns the per-source raw CTEM topic.
func CTEMRaw(source string) Topic {
	return Topic{Name: fmt.Sprintf("ctem.raw.%s", source), Partitions: 4, RetentionDays: 30}
}

// KnowledgeStream returns a knowledge.* update stream topic.
func KnowledgeStream(name string) Topic {
	return Topic{Name: fmt.Sprintf("knowledge.%s", name), Partitions: 2, RetentionDays: 7}
}

// DLQ returns the dead-letter companion of a topic.
func DLQ(t Topic) Topic {
	return Topic{Name: t.Name + ".dlq", Partitions: t.Partitions, RetentionDays: 30}
}

// JobsTopicForPriority maps an LLM job priority onto its queue topic.
func JobsTopicForPriority(priority string) Topic {
	switch priority {
	case "critical":
		return JobsLLMCritical
	case "high":
		return JobsLLMHigh
	case "low":
		return JobsLLMLow
	default:
		return JobsLLMNormal
	}
}
