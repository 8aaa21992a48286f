// Package orchestrator drives the planning pipeline: it owns workflow state,
// runs agents in dependency order with fail-fast semantics, and emits the
// ordered progress event stream.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"seasonplan/backend/internal/events"
	"seasonplan/backend/internal/pipeline"
	"seasonplan/backend/internal/repository"
	"seasonplan/backend/internal/types"
	"seasonplan/backend/pkg/models"
)

// DefaultAgentTimeout bounds a single agent execution.
const DefaultAgentTimeout = 2 * time.Minute

// Orchestrator coordinates workflow execution. Each workflow runs on its own
// goroutine with a single active agent at a time; distinct workflows share
// nothing but the store and the hub.
type Orchestrator struct {
	store        repository.WorkflowStore
	hub          *events.Hub
	def          *pipeline.Definition
	logger       *slog.Logger
	tracer       trace.Tracer
	agentTimeout time.Duration
}

// Option is a functional option for configuring the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer enables tracing spans around workflow and agent execution.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

// WithAgentTimeout sets the per-agent execution timeout.
func WithAgentTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.agentTimeout = d
		}
	}
}

// New creates an Orchestrator over the given store, hub and pipeline
// definition. The definition has already been validated at construction; a
// malformed pipeline never reaches the orchestrator.
func New(store repository.WorkflowStore, hub *events.Hub, def *pipeline.Definition, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		hub:          hub,
		def:          def,
		logger:       slog.Default(),
		agentTimeout: DefaultAgentTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Definition returns the pipeline definition the orchestrator drives.
func (o *Orchestrator) Definition() *pipeline.Definition {
	return o.def
}

// CreateWorkflow validates the parameters, allocates a workflow in the
// created state and schedules its execution on a dedicated goroutine.
// Creation implicitly schedules execution; callers observe progress through
// GetStatus or the event stream. On validation failure no workflow is
// created.
func (o *Orchestrator) CreateWorkflow(ctx context.Context, params models.SeasonParameters) (*models.Workflow, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	workflow := &models.Workflow{
		ID:        types.NewID(),
		Params:    params,
		Status:    models.WorkflowStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}
	o.hub.Register(workflow.ID)

	o.logger.Info("workflow created",
		"workflow_id", workflow.ID,
		"horizon_weeks", params.HorizonWeeks,
		"total_units", params.TotalUnits,
	)

	// The driver loop outlives the creation request and mutates its own copy;
	// the returned record stays a stable snapshot for the caller.
	go o.run(context.WithoutCancel(ctx), workflow.Clone())

	return workflow, nil
}

// WorkflowStatus is the status view returned by GetStatus.
type WorkflowStatus struct {
	ID              types.ID              `json:"id"`
	Status          models.WorkflowStatus `json:"status"`
	CompletedAgents []string              `json:"completed_agents"`
	FailureDetail   *string               `json:"failure_detail,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

// GetStatus returns the workflow's current status and the names of agents
// that have completed, in execution order.
func (o *Orchestrator) GetStatus(ctx context.Context, id types.ID) (*WorkflowStatus, error) {
	workflow, err := o.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	return &WorkflowStatus{
		ID:              workflow.ID,
		Status:          workflow.Status,
		CompletedAgents: workflow.CompletedAgents(),
		FailureDetail:   workflow.FailureDetail,
		CreatedAt:       workflow.CreatedAt,
	}, nil
}

// GetArtifact returns the artifact the named agent produced for the
// workflow. It fails with NotFound for unknown workflow or agent names,
// NotReady while the agent has not completed, and NotApplicable when the
// parameters permanently rule the artifact out (markdown without a
// checkpoint week). Repeated calls for a completed agent return identical
// artifacts.
func (o *Orchestrator) GetArtifact(ctx context.Context, id types.ID, agentName string) (any, error) {
	workflow, err := o.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.def.HasAgent(agentName) {
		return nil, types.NewErrorf(types.NotFound, "unknown agent %q", agentName)
	}

	// A missing markdown checkpoint is a permanent absence regardless of how
	// far the pipeline has progressed.
	if agentName == pipeline.AgentMarkdown && !workflow.Params.HasMarkdownCheckpoint() {
		return nil, types.NewErrorf(types.NotApplicable, "workflow %s has no markdown checkpoint week", id)
	}

	result := workflow.Result(agentName)
	if result == nil || result.Outcome != models.OutcomeSuccess {
		return nil, types.NewErrorf(types.NotReady, "agent %q has not completed for workflow %s", agentName, id)
	}
	if !result.Applicable() {
		return nil, types.NewErrorf(types.NotApplicable, "agent %q is not applicable for workflow %s", agentName, id)
	}
	return result.Artifact, nil
}

// run is the driver loop for one workflow. It executes agents in the
// definition's topological order, records each terminal result exactly once
// and stops at the first failure. All agent-internal errors are converted to
// agent failures here; nothing escapes to crash other workflows' drivers.
func (o *Orchestrator) run(ctx context.Context, workflow *models.Workflow) {
	if workflow.Status.IsTerminal() {
		return
	}

	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, "workflow.run",
			trace.WithAttributes(
				attribute.String("workflow.id", workflow.ID.String()),
				attribute.Int("workflow.agent_count", o.def.Len()),
			),
		)
		defer span.End()
	}

	started := time.Now()
	workflow.Status = models.WorkflowStatusRunning
	if err := o.store.UpdateWorkflow(ctx, workflow); err != nil {
		o.logger.Error("failed to mark workflow running", "workflow_id", workflow.ID, "error", err)
		return
	}

	rc := pipeline.NewRunContext(workflow.ID, workflow.Params)
	agents := o.def.Agents()

	for i, agent := range agents {
		o.publish(ctx, workflow.ID, events.EventAgentStarted, events.AgentStartedPayload{
			AgentName: agent.Name(),
			Index:     i + 1,
			Total:     len(agents),
		})

		agentStarted := time.Now().UTC()
		artifact, err := o.executeAgent(ctx, agent, rc)
		if err != nil {
			o.failWorkflow(ctx, workflow, agent.Name(), agentStarted, err)
			return
		}

		result := models.AgentResult{
			WorkflowID: workflow.ID,
			AgentName:  agent.Name(),
			Outcome:    models.OutcomeSuccess,
			Artifact:   artifact,
			StartedAt:  agentStarted,
			EndedAt:    time.Now().UTC(),
		}
		if err := o.store.AppendAgentResult(ctx, result); err != nil {
			o.failWorkflow(ctx, workflow, agent.Name(), agentStarted,
				types.WrapError(types.AgentFailed, "failed to record agent result", err))
			return
		}
		workflow.Results = append(workflow.Results, result)
		workflow.CurrentAgent = i + 1
		if err := o.store.UpdateWorkflow(ctx, workflow); err != nil {
			o.logger.Error("failed to update workflow progress", "workflow_id", workflow.ID, "error", err)
		}

		if artifact != nil {
			rc.PutArtifact(agent.Name(), artifact)
		}

		o.publish(ctx, workflow.ID, events.EventAgentCompleted, events.AgentCompletedPayload{
			AgentName:  agent.Name(),
			Duration:   result.EndedAt.Sub(result.StartedAt),
			Applicable: artifact != nil,
		})

		o.logger.Info("agent completed",
			"workflow_id", workflow.ID,
			"agent", agent.Name(),
			"applicable", artifact != nil,
		)
	}

	workflow.Status = models.WorkflowStatusCompleted
	if err := o.store.UpdateWorkflow(ctx, workflow); err != nil {
		o.logger.Error("failed to mark workflow completed", "workflow_id", workflow.ID, "error", err)
	}
	o.publish(ctx, workflow.ID, events.EventWorkflowCompleted, events.WorkflowCompletedPayload{
		AgentsExecuted: len(agents),
		Duration:       time.Since(started),
	})
	o.hub.Close(workflow.ID)

	o.logger.Info("workflow completed", "workflow_id", workflow.ID, "duration", time.Since(started))
}

// executeAgent runs one agent under the per-agent timeout, converting panics
// and deadline expiry into taxonomy errors. A timed-out agent's eventual
// return value is discarded; no partial artifact is ever stored.
func (o *Orchestrator) executeAgent(ctx context.Context, agent pipeline.Agent, rc *pipeline.RunContext) (any, error) {
	agentCtx, cancel := context.WithTimeout(ctx, o.agentTimeout)
	defer cancel()

	var span trace.Span
	if o.tracer != nil {
		agentCtx, span = o.tracer.Start(agentCtx, "agent.run",
			trace.WithAttributes(attribute.String("agent.name", agent.Name())),
		)
		defer span.End()
	}

	// A timed-out agent goroutine may keep reporting after the driver has
	// moved on; its publishes are dropped once the invocation's context ends.
	rc.SetProgress(func(message string, completed, total int) {
		if agentCtx.Err() != nil {
			return
		}
		o.publish(ctx, rc.WorkflowID, events.EventAgentProgress, events.AgentProgressPayload{
			AgentName: agent.Name(),
			Message:   message,
			Completed: completed,
			Total:     total,
		})
	})
	defer rc.SetProgress(nil)

	type outcome struct {
		artifact any
		err      error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: types.NewErrorf(types.AgentFailed, "agent %q panicked: %v", agent.Name(), r)}
			}
		}()
		artifact, err := agent.Run(agentCtx, rc)
		resultCh <- outcome{artifact: artifact, err: err}
	}()

	select {
	case out := <-resultCh:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return nil, types.WrapError(types.AgentTimeout,
					fmt.Sprintf("agent %q timed out after %s", agent.Name(), o.agentTimeout), out.err)
			}
			if types.CodeOf(out.err) != "" {
				return nil, out.err
			}
			return nil, types.WrapError(types.AgentFailed,
				fmt.Sprintf("agent %q failed", agent.Name()), out.err)
		}
		return out.artifact, nil
	case <-agentCtx.Done():
		if errors.Is(agentCtx.Err(), context.DeadlineExceeded) {
			return nil, types.WrapError(types.AgentTimeout,
				fmt.Sprintf("agent %q timed out after %s", agent.Name(), o.agentTimeout), agentCtx.Err())
		}
		return nil, types.WrapError(types.AgentFailed,
			fmt.Sprintf("agent %q cancelled", agent.Name()), agentCtx.Err())
	}
}

// failWorkflow records the failed agent result, transitions the workflow to
// its terminal failed state and emits the failure events. Remaining agents
// are not attempted: downstream stages consume upstream artifacts and cannot
// run without them.
func (o *Orchestrator) failWorkflow(ctx context.Context, workflow *models.Workflow, agentName string, startedAt time.Time, cause error) {
	now := time.Now().UTC()
	timeout := types.CodeOf(cause) == types.AgentTimeout

	result := models.AgentResult{
		WorkflowID:  workflow.ID,
		AgentName:   agentName,
		Outcome:     models.OutcomeFailure,
		ErrorDetail: cause.Error(),
		StartedAt:   startedAt,
		EndedAt:     now,
	}
	if err := o.store.AppendAgentResult(ctx, result); err != nil {
		o.logger.Error("failed to record agent failure", "workflow_id", workflow.ID, "error", err)
	}
	workflow.Results = append(workflow.Results, result)

	detail := cause.Error()
	workflow.Status = models.WorkflowStatusFailed
	workflow.FailureDetail = &detail
	if err := o.store.UpdateWorkflow(ctx, workflow); err != nil {
		o.logger.Error("failed to mark workflow failed", "workflow_id", workflow.ID, "error", err)
	}

	o.publish(ctx, workflow.ID, events.EventAgentFailed, events.AgentFailedPayload{
		AgentName: agentName,
		Error:     detail,
		Timeout:   timeout,
		Duration:  now.Sub(startedAt),
	})
	o.publish(ctx, workflow.ID, events.EventWorkflowFailed, events.WorkflowFailedPayload{
		FailedAgent: agentName,
		Error:       detail,
	})
	o.hub.Close(workflow.ID)

	o.logger.Warn("workflow failed",
		"workflow_id", workflow.ID,
		"agent", agentName,
		"timeout", timeout,
		"error", detail,
	)
}

func (o *Orchestrator) publish(ctx context.Context, id types.ID, eventType events.EventType, payload any) {
	if _, err := o.hub.Publish(ctx, id, eventType, payload); err != nil {
		o.logger.Error("failed to publish event", "workflow_id", id, "type", eventType, "error", err)
	}
}
