package runner

import "time"

// EventKind classifies controller events.
type EventKind string

const (
	EventEnvReady          EventKind = "env_ready"
	EventPhase             EventKind = "phase"
	EventProgress          EventKind = "progress"
	EventCriticalViolation EventKind = "critical_violation"
	EventFinished          EventKind = "finished"
)

// Event is delivered to Config.OnEvent.
type Event struct {
	Kind      EventKind          `json:"kind"`
	RunID     string             `json:"run_id"`
	Phase     Phase              `json:"phase"`
	Timestamp time.Time          `json:"timestamp"`
	Variables map[string]float64 `json:"variables,omitempty"`
	Result    *Result            `json:"result,omitempty"`
	Violated  []string           `json:"violated,omitempty"`
	Outcome   Outcome            `json:"outcome,omitempty"`
	Error     string             `json:"error,omitempty"`
	Archive   string             `json:"archive,omitempty"`
}
