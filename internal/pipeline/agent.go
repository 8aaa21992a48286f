// Package pipeline defines the agent abstraction and the static planning
// pipeline the orchestrator drives: parameter normalization, demand forecast,
// store clustering, weekly variance, allocation and markdown analysis.
package pipeline

import (
	"context"
	"sync"

	"seasonplan/backend/internal/types"
	"seasonplan/backend/pkg/models"
)

// Agent is one named stage of the planning pipeline. It produces one artifact
// from the season parameters and the artifacts of its dependencies.
//
// Run returns the produced artifact, or an error when the stage cannot
// produce it. A nil artifact with a nil error marks the stage as not
// applicable for the workflow's parameters; the orchestrator records the
// result but no artifact ever exists for the stage.
type Agent interface {
	// Name returns the unique stage name used to key artifacts and events.
	Name() string

	// Dependencies returns the names of agents whose artifacts this agent
	// consumes. Dependencies are validated once at definition build time.
	Dependencies() []string

	// Run executes the stage. Implementations must honor ctx cancellation;
	// a deadline exceeded is surfaced as an agent timeout by the caller.
	Run(ctx context.Context, rc *RunContext) (any, error)
}

// ProgressFunc reports intermediate stage progress. The orchestrator wires it
// to an agent_progress event; agents may call it zero or more times.
type ProgressFunc func(message string, completed, total int)

// RunContext carries exactly one workflow's inputs into an agent invocation:
// the season parameters and the artifacts of completed upstream agents.
// No state is shared between workflows. Access to the progress hook and the
// artifact map is synchronized: a timed-out agent goroutine may outlive its
// invocation and still report progress while the driver moves on.
type RunContext struct {
	WorkflowID types.ID
	Params     models.SeasonParameters

	mu        sync.Mutex
	progress  ProgressFunc
	artifacts map[string]any
}

// NewRunContext builds a RunContext for one workflow.
func NewRunContext(workflowID types.ID, params models.SeasonParameters) *RunContext {
	return &RunContext{
		WorkflowID: workflowID,
		Params:     params,
		progress:   func(string, int, int) {},
		artifacts:  make(map[string]any),
	}
}

// SetProgress installs the progress hook for the next agent invocation.
// A nil hook resets to a no-op.
func (rc *RunContext) SetProgress(fn ProgressFunc) {
	if fn == nil {
		fn = func(string, int, int) {}
	}
	rc.mu.Lock()
	rc.progress = fn
	rc.mu.Unlock()
}

// Progress reports intermediate stage progress through the installed hook.
func (rc *RunContext) Progress(message string, completed, total int) {
	rc.mu.Lock()
	fn := rc.progress
	rc.mu.Unlock()
	fn(message, completed, total)
}

// PutArtifact records a completed upstream artifact under its agent name.
func (rc *RunContext) PutArtifact(agentName string, artifact any) {
	rc.mu.Lock()
	rc.artifacts[agentName] = artifact
	rc.mu.Unlock()
}

// Artifact returns the upstream artifact produced by the named agent.
func (rc *RunContext) Artifact(agentName string) (any, bool) {
	rc.mu.Lock()
	a, ok := rc.artifacts[agentName]
	rc.mu.Unlock()
	return a, ok
}

// ParameterSet returns the normalized parameter artifact. It fails with an
// AgentFailed error when the parameters stage has not run, which indicates a
// definition bug rather than a runtime condition.
func (rc *RunContext) ParameterSet() (models.ParameterSet, error) {
	a, ok := rc.Artifact(AgentParameters)
	if !ok {
		return models.ParameterSet{}, types.NewErrorf(types.AgentFailed, "missing upstream artifact %q", AgentParameters)
	}
	ps, ok := a.(models.ParameterSet)
	if !ok {
		return models.ParameterSet{}, types.NewErrorf(types.AgentFailed, "artifact %q has unexpected type %T", AgentParameters, a)
	}
	return ps, nil
}

// Forecast returns the demand forecast artifact.
func (rc *RunContext) Forecast() (models.ForecastSummary, error) {
	a, ok := rc.Artifact(AgentForecast)
	if !ok {
		return models.ForecastSummary{}, types.NewErrorf(types.AgentFailed, "missing upstream artifact %q", AgentForecast)
	}
	fs, ok := a.(models.ForecastSummary)
	if !ok {
		return models.ForecastSummary{}, types.NewErrorf(types.AgentFailed, "artifact %q has unexpected type %T", AgentForecast, a)
	}
	return fs, nil
}

// Clusters returns the store clustering artifact.
func (rc *RunContext) Clusters() (models.ClusterSet, error) {
	a, ok := rc.Artifact(AgentClustering)
	if !ok {
		return models.ClusterSet{}, types.NewErrorf(types.AgentFailed, "missing upstream artifact %q", AgentClustering)
	}
	cs, ok := a.(models.ClusterSet)
	if !ok {
		return models.ClusterSet{}, types.NewErrorf(types.AgentFailed, "artifact %q has unexpected type %T", AgentClustering, a)
	}
	return cs, nil
}
