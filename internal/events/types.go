// Package events provides the per-workflow ordered event log and live
// fan-out hub observers use to follow pipeline progress.
package events

import (
	"time"

	"seasonplan/backend/internal/types"
)

// EventType identifies a pipeline progress notification. The set is closed;
// no other type is emitted without a versioned contract change.
type EventType string

const (
	EventAgentStarted      EventType = "agent_started"
	EventAgentProgress     EventType = "agent_progress"
	EventAgentCompleted    EventType = "agent_completed"
	EventAgentFailed       EventType = "agent_failed"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsTerminal reports whether the event ends the workflow's event stream.
func (t EventType) IsTerminal() bool {
	return t == EventWorkflowCompleted || t == EventWorkflowFailed
}

// Event is an immutable, ordered progress notification. Sequence numbers are
// assigned by the hub, start at 1 and contain no gaps for a given workflow,
// so a (workflow id, sequence) pair identifies an event and any subscriber
// can resume from an arbitrary point.
type Event struct {
	WorkflowID types.ID  `json:"workflow_id"`
	Sequence   int64     `json:"sequence"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload,omitempty"`
}

// AgentStartedPayload is the payload of agent_started events.
type AgentStartedPayload struct {
	AgentName string `json:"agent_name"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
}

// AgentProgressPayload is the payload of agent_progress events.
type AgentProgressPayload struct {
	AgentName string `json:"agent_name"`
	Message   string `json:"message,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// AgentCompletedPayload is the payload of agent_completed events.
type AgentCompletedPayload struct {
	AgentName  string        `json:"agent_name"`
	Duration   time.Duration `json:"duration"`
	Applicable bool          `json:"applicable"`
}

// AgentFailedPayload is the payload of agent_failed events.
type AgentFailedPayload struct {
	AgentName string        `json:"agent_name"`
	Error     string        `json:"error"`
	Timeout   bool          `json:"timeout"`
	Duration  time.Duration `json:"duration"`
}

// WorkflowCompletedPayload is the payload of workflow_completed events.
type WorkflowCompletedPayload struct {
	AgentsExecuted int           `json:"agents_executed"`
	Duration       time.Duration `json:"duration"`
}

// WorkflowFailedPayload is the payload of workflow_failed events.
type WorkflowFailedPayload struct {
	FailedAgent string `json:"failed_agent"`
	Error       string `json:"error"`
}
