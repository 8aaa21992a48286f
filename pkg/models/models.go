// Package models defines the domain models for the season planning service.
package models

import (
	"fmt"
	"time"

	"seasonplan/backend/internal/types"
)

// Replenishment is the replenishment cadence for a season.
type Replenishment string

const (
	ReplenishmentWeekly Replenishment = "weekly"
	ReplenishmentNone   Replenishment = "none"
)

// WorkflowStatus is the lifecycle state of a planning workflow.
type WorkflowStatus string

const (
	WorkflowStatusCreated   WorkflowStatus = "created"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// String returns the string representation of the status.
func (s WorkflowStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status is completed or failed. Once a
// workflow is terminal no further agent executes and no further state-changing
// event is emitted.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed
}

// SeasonParameters is the validated parameter set a planning workflow runs
// against. A MarkdownCheckpointWeek of zero means the season has no markdown
// checkpoint and the markdown stage is permanently not applicable.
type SeasonParameters struct {
	TotalUnits             int           `json:"total_units"`
	HorizonWeeks           int           `json:"horizon_weeks"`
	Replenishment          Replenishment `json:"replenishment"`
	DCHoldback             float64       `json:"dc_holdback"`
	StoreCount             int           `json:"store_count,omitempty"`
	MarkdownCheckpointWeek int           `json:"markdown_checkpoint_week,omitempty"`
	MarkdownThreshold      float64       `json:"markdown_threshold,omitempty"`
}

// DefaultStoreCount is used when the caller does not supply a store count.
const DefaultStoreCount = 100

// Validate checks internal consistency of the parameter set. It returns a
// ValidationFailed taxonomy error describing the first inconsistency found.
func (p SeasonParameters) Validate() error {
	if p.TotalUnits <= 0 {
		return types.NewErrorf(types.ValidationFailed, "total_units must be positive, got %d", p.TotalUnits)
	}
	if p.HorizonWeeks < 1 || p.HorizonWeeks > 52 {
		return types.NewErrorf(types.ValidationFailed, "horizon_weeks must be between 1 and 52, got %d", p.HorizonWeeks)
	}
	switch p.Replenishment {
	case ReplenishmentWeekly, ReplenishmentNone:
	default:
		return types.NewErrorf(types.ValidationFailed, "replenishment must be %q or %q, got %q",
			ReplenishmentWeekly, ReplenishmentNone, p.Replenishment)
	}
	if p.DCHoldback < 0 || p.DCHoldback >= 1 {
		return types.NewErrorf(types.ValidationFailed, "dc_holdback must be in [0, 1), got %v", p.DCHoldback)
	}
	if p.StoreCount < 0 {
		return types.NewErrorf(types.ValidationFailed, "store_count must not be negative, got %d", p.StoreCount)
	}
	if p.MarkdownCheckpointWeek < 0 {
		return types.NewErrorf(types.ValidationFailed, "markdown_checkpoint_week must not be negative, got %d", p.MarkdownCheckpointWeek)
	}
	if p.MarkdownCheckpointWeek > p.HorizonWeeks {
		return types.NewErrorf(types.ValidationFailed, "markdown_checkpoint_week %d exceeds horizon of %d weeks",
			p.MarkdownCheckpointWeek, p.HorizonWeeks)
	}
	if p.MarkdownCheckpointWeek > 0 && (p.MarkdownThreshold <= 0 || p.MarkdownThreshold > 1) {
		return types.NewErrorf(types.ValidationFailed, "markdown_threshold must be in (0, 1] when a checkpoint week is set, got %v", p.MarkdownThreshold)
	}
	return nil
}

// HasMarkdownCheckpoint reports whether the season carries a markdown
// checkpoint week.
func (p SeasonParameters) HasMarkdownCheckpoint() bool {
	return p.MarkdownCheckpointWeek > 0
}

// Workflow is one end-to-end run of the agent pipeline for one parameter set.
// It is owned exclusively by the orchestrator; the store only persists it.
type Workflow struct {
	ID            types.ID         `json:"id"`
	Params        SeasonParameters `json:"params"`
	Status        WorkflowStatus   `json:"status"`
	CurrentAgent  int              `json:"current_agent"`
	Results       []AgentResult    `json:"results"`
	FailureDetail *string          `json:"failure_detail,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Clone returns a copy sharing no mutable state with the receiver: the
// results slice, failure detail and artifact payloads are all duplicated.
func (w *Workflow) Clone() *Workflow {
	clone := *w
	clone.Results = make([]AgentResult, len(w.Results))
	for i, r := range w.Results {
		r.Artifact = CloneArtifact(r.Artifact)
		clone.Results[i] = r
	}
	if w.FailureDetail != nil {
		detail := *w.FailureDetail
		clone.FailureDetail = &detail
	}
	return &clone
}

// CompletedAgents returns the names of agents that completed successfully,
// in execution order.
func (w *Workflow) CompletedAgents() []string {
	names := make([]string, 0, len(w.Results))
	for _, r := range w.Results {
		if r.Outcome == OutcomeSuccess {
			names = append(names, r.AgentName)
		}
	}
	return names
}

// Result returns the AgentResult for the named agent, or nil when the agent
// has not terminated yet.
func (w *Workflow) Result(agentName string) *AgentResult {
	for i := range w.Results {
		if w.Results[i].AgentName == agentName {
			return &w.Results[i]
		}
	}
	return nil
}

// Outcome is the terminal outcome of a single agent execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AgentResult records one agent's terminal outcome for a workflow. It is
// immutable once created and appended exactly once per agent. A successful
// result with a nil Artifact marks a stage that is not applicable for the
// workflow's parameters.
type AgentResult struct {
	WorkflowID  types.ID  `json:"workflow_id"`
	AgentName   string    `json:"agent_name"`
	Outcome     Outcome   `json:"outcome"`
	Artifact    any       `json:"artifact,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// Applicable reports whether the agent produced an artifact.
func (r *AgentResult) Applicable() bool {
	return r.Artifact != nil
}

// Summary returns a one-line description used in logs.
func (r *AgentResult) Summary() string {
	return fmt.Sprintf("%s/%s (%s)", r.WorkflowID, r.AgentName, r.Outcome)
}
