package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seasonplan/backend/internal/events"
	"seasonplan/backend/internal/pipeline"
	"seasonplan/backend/internal/repository"
	"seasonplan/backend/internal/types"
	"seasonplan/backend/pkg/models"
)

func testParams() models.SeasonParameters {
	return models.SeasonParameters{
		TotalUnits:             8000,
		HorizonWeeks:           12,
		Replenishment:          models.ReplenishmentWeekly,
		DCHoldback:             0.15,
		MarkdownCheckpointWeek: 6,
		MarkdownThreshold:      0.40,
	}
}

// waitTerminal subscribes from the beginning and drains the workflow's event
// stream; the hub closes it once the workflow is terminal.
func waitTerminal(t *testing.T, hub *events.Hub, id types.ID) []events.Event {
	t.Helper()
	ch, cancel, err := hub.Subscribe(context.Background(), id, 0)
	require.NoError(t, err)
	defer cancel()

	var got []events.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, e)
		case <-timeout:
			t.Fatalf("workflow %s did not reach a terminal state; %d events so far", id, len(got))
		}
	}
}

func newTestOrchestrator(t *testing.T, def *pipeline.Definition, opts ...Option) (*Orchestrator, *events.Hub) {
	t.Helper()
	hub := events.NewHub()
	store := repository.NewMemoryWorkflowStore()
	return New(store, hub, def, opts...), hub
}

func TestCreateWorkflow(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects invalid parameters", func(t *testing.T) {
		orch, _ := newTestOrchestrator(t, pipeline.Default())

		params := testParams()
		params.HorizonWeeks = 0
		_, err := orch.CreateWorkflow(ctx, params)
		assert.Equal(t, types.ValidationFailed, types.CodeOf(err))

		params = testParams()
		params.MarkdownCheckpointWeek = 13
		_, err = orch.CreateWorkflow(ctx, params)
		assert.Equal(t, types.ValidationFailed, types.CodeOf(err))
	})

	t.Run("returns a stable snapshot", func(t *testing.T) {
		orch, hub := newTestOrchestrator(t, pipeline.Default())

		workflow, err := orch.CreateWorkflow(ctx, testParams())
		require.NoError(t, err)
		waitTerminal(t, hub, workflow.ID)

		// The driver mutates its own copy; the caller's record never moves.
		assert.Equal(t, models.WorkflowStatusCreated, workflow.Status)
		assert.Empty(t, workflow.Results)
		assert.Zero(t, workflow.CurrentAgent)

		status, err := orch.GetStatus(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusCompleted, status.Status)
	})

	t.Run("runs the pipeline to completion", func(t *testing.T) {
		orch, hub := newTestOrchestrator(t, pipeline.Default())

		workflow, err := orch.CreateWorkflow(ctx, testParams())
		require.NoError(t, err)
		require.False(t, workflow.ID.IsZero())

		got := waitTerminal(t, hub, workflow.ID)
		require.NotEmpty(t, got)
		assert.Equal(t, events.EventWorkflowCompleted, got[len(got)-1].Type)

		status, err := orch.GetStatus(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusCompleted, status.Status)
		assert.Equal(t, pipeline.Default().AgentNames(), status.CompletedAgents)
		assert.Nil(t, status.FailureDetail)
	})
}

func TestEventStreamOrdering(t *testing.T) {
	ctx := context.Background()
	orch, hub := newTestOrchestrator(t, pipeline.Default())

	workflow, err := orch.CreateWorkflow(ctx, testParams())
	require.NoError(t, err)
	got := waitTerminal(t, hub, workflow.ID)

	t.Run("sequences are gapless from one", func(t *testing.T) {
		for i, e := range got {
			assert.Equal(t, int64(i+1), e.Sequence)
			assert.Equal(t, workflow.ID, e.WorkflowID)
		}
	})

	t.Run("each agent starts before it completes", func(t *testing.T) {
		started := make(map[string]int)
		for i, e := range got {
			switch p := e.Payload.(type) {
			case events.AgentStartedPayload:
				started[p.AgentName] = i
			case events.AgentCompletedPayload:
				at, ok := started[p.AgentName]
				require.True(t, ok, "agent %s completed without starting", p.AgentName)
				assert.Less(t, at, i)
			}
		}
	})

	t.Run("agents start in pipeline order", func(t *testing.T) {
		var order []string
		for _, e := range got {
			if p, ok := e.Payload.(events.AgentStartedPayload); ok {
				order = append(order, p.AgentName)
			}
		}
		assert.Equal(t, pipeline.Default().AgentNames(), order)
	})

	t.Run("variance reports per-week progress", func(t *testing.T) {
		var progress []events.AgentProgressPayload
		for _, e := range got {
			if p, ok := e.Payload.(events.AgentProgressPayload); ok && p.AgentName == pipeline.AgentVariance {
				progress = append(progress, p)
			}
		}
		require.Len(t, progress, 12)
		assert.Equal(t, 1, progress[0].Completed)
		assert.Equal(t, 12, progress[11].Completed)
	})

	t.Run("replay equals the live view", func(t *testing.T) {
		replayed := waitTerminal(t, hub, workflow.ID)
		require.Len(t, replayed, len(got))
		for i := range got {
			assert.Equal(t, got[i].Sequence, replayed[i].Sequence)
			assert.Equal(t, got[i].Type, replayed[i].Type)
		}
	})
}

func TestGetArtifact(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown workflow is not found", func(t *testing.T) {
		orch, _ := newTestOrchestrator(t, pipeline.Default())
		_, err := orch.GetArtifact(ctx, types.NewID(), pipeline.AgentForecast)
		assert.True(t, types.IsNotFound(err))
	})

	t.Run("unknown agent is not found", func(t *testing.T) {
		orch, hub := newTestOrchestrator(t, pipeline.Default())
		workflow, err := orch.CreateWorkflow(ctx, testParams())
		require.NoError(t, err)
		waitTerminal(t, hub, workflow.ID)

		_, err = orch.GetArtifact(ctx, workflow.ID, "bogus")
		assert.True(t, types.IsNotFound(err))
	})

	t.Run("completed artifacts are stable across reads", func(t *testing.T) {
		orch, hub := newTestOrchestrator(t, pipeline.Default())
		workflow, err := orch.CreateWorkflow(ctx, testParams())
		require.NoError(t, err)
		waitTerminal(t, hub, workflow.ID)

		first, err := orch.GetArtifact(ctx, workflow.ID, pipeline.AgentAllocation)
		require.NoError(t, err)
		second, err := orch.GetArtifact(ctx, workflow.ID, pipeline.AgentAllocation)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		as, ok := first.(models.AllocationSet)
		require.True(t, ok)
		assert.InDelta(t, 10120.0, as.ManufacturingOrder, 1e-6)
	})

	t.Run("markdown without a checkpoint is permanently not applicable", func(t *testing.T) {
		orch, hub := newTestOrchestrator(t, pipeline.Default())

		params := testParams()
		params.MarkdownCheckpointWeek = 0
		params.MarkdownThreshold = 0
		workflow, err := orch.CreateWorkflow(ctx, params)
		require.NoError(t, err)

		// Absence is already known before the pipeline finishes.
		_, err = orch.GetArtifact(ctx, workflow.ID, pipeline.AgentMarkdown)
		assert.True(t, types.IsNotApplicable(err))

		waitTerminal(t, hub, workflow.ID)

		_, err = orch.GetArtifact(ctx, workflow.ID, pipeline.AgentMarkdown)
		assert.True(t, types.IsNotApplicable(err))

		status, err := orch.GetStatus(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusCompleted, status.Status)
		assert.Contains(t, status.CompletedAgents, pipeline.AgentMarkdown)
	})

	t.Run("markdown with a checkpoint is produced", func(t *testing.T) {
		orch, hub := newTestOrchestrator(t, pipeline.Default())
		workflow, err := orch.CreateWorkflow(ctx, testParams())
		require.NoError(t, err)
		waitTerminal(t, hub, workflow.ID)

		artifact, err := orch.GetArtifact(ctx, workflow.ID, pipeline.AgentMarkdown)
		require.NoError(t, err)
		ma, ok := artifact.(models.MarkdownAnalysis)
		require.True(t, ok)
		assert.Equal(t, 6, ma.CheckpointWeek)
	})
}

// gateAgent blocks until released, standing in for a long-running stage.
type gateAgent struct {
	name    string
	deps    []string
	release chan struct{}
}

func (a *gateAgent) Name() string           { return a.name }
func (a *gateAgent) Dependencies() []string { return a.deps }
func (a *gateAgent) Run(ctx context.Context, rc *pipeline.RunContext) (any, error) {
	select {
	case <-a.release:
		return map[string]string{"agent": a.name}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// errAgent fails immediately.
type errAgent struct {
	name string
	deps []string
	err  error
}

func (a *errAgent) Name() string           { return a.name }
func (a *errAgent) Dependencies() []string { return a.deps }
func (a *errAgent) Run(ctx context.Context, rc *pipeline.RunContext) (any, error) {
	return nil, a.err
}

// okAgent succeeds immediately.
type okAgent struct {
	name string
	deps []string
}

func (a *okAgent) Name() string           { return a.name }
func (a *okAgent) Dependencies() []string { return a.deps }
func (a *okAgent) Run(ctx context.Context, rc *pipeline.RunContext) (any, error) {
	return map[string]string{"agent": a.name}, nil
}

func TestArtifactNotReadyWhileRunning(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	def := pipeline.MustNewDefinition(
		&okAgent{name: "first"},
		&gateAgent{name: "second", deps: []string{"first"}, release: release},
	)
	orch, hub := newTestOrchestrator(t, def)

	workflow, err := orch.CreateWorkflow(ctx, testParams())
	require.NoError(t, err)

	// The gated agent holds the pipeline open; its artifact is not ready.
	require.Eventually(t, func() bool {
		_, err := orch.GetArtifact(ctx, workflow.ID, "second")
		return types.IsNotReady(err)
	}, 5*time.Second, 10*time.Millisecond)

	close(release)
	waitTerminal(t, hub, workflow.ID)

	artifact, err := orch.GetArtifact(ctx, workflow.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"agent": "second"}, artifact)
}

func TestWorkflowFailure(t *testing.T) {
	ctx := context.Background()
	def := pipeline.MustNewDefinition(
		&okAgent{name: "first"},
		&errAgent{name: "second", deps: []string{"first"}, err: types.NewError(types.AgentFailed, "boom")},
		&okAgent{name: "third", deps: []string{"second"}},
	)
	orch, hub := newTestOrchestrator(t, def)

	workflow, err := orch.CreateWorkflow(ctx, testParams())
	require.NoError(t, err)
	got := waitTerminal(t, hub, workflow.ID)

	t.Run("workflow ends failed with detail", func(t *testing.T) {
		status, err := orch.GetStatus(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusFailed, status.Status)
		require.NotNil(t, status.FailureDetail)
		assert.Contains(t, *status.FailureDetail, "boom")
		assert.Equal(t, []string{"first"}, status.CompletedAgents)
	})

	t.Run("failure events close the stream", func(t *testing.T) {
		require.GreaterOrEqual(t, len(got), 2)
		assert.Equal(t, events.EventWorkflowFailed, got[len(got)-1].Type)
		assert.Equal(t, events.EventAgentFailed, got[len(got)-2].Type)

		p, ok := got[len(got)-2].Payload.(events.AgentFailedPayload)
		require.True(t, ok)
		assert.Equal(t, "second", p.AgentName)
		assert.False(t, p.Timeout)
	})

	t.Run("downstream agents never start", func(t *testing.T) {
		for _, e := range got {
			if p, ok := e.Payload.(events.AgentStartedPayload); ok {
				assert.NotEqual(t, "third", p.AgentName)
			}
		}
		_, err := orch.GetArtifact(ctx, workflow.ID, "third")
		assert.True(t, types.IsNotReady(err))
	})

	t.Run("failed agent has no artifact", func(t *testing.T) {
		_, err := orch.GetArtifact(ctx, workflow.ID, "second")
		assert.True(t, types.IsNotReady(err))
	})
}

func TestAgentTimeout(t *testing.T) {
	ctx := context.Background()
	def := pipeline.MustNewDefinition(
		// Never released; only the timeout ends it.
		&gateAgent{name: "stuck", release: make(chan struct{})},
	)
	orch, hub := newTestOrchestrator(t, def, WithAgentTimeout(50*time.Millisecond))

	workflow, err := orch.CreateWorkflow(ctx, testParams())
	require.NoError(t, err)
	got := waitTerminal(t, hub, workflow.ID)

	status, err := orch.GetStatus(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, status.Status)
	require.NotNil(t, status.FailureDetail)
	assert.Contains(t, *status.FailureDetail, string(types.AgentTimeout))

	var failed *events.AgentFailedPayload
	for _, e := range got {
		if p, ok := e.Payload.(events.AgentFailedPayload); ok {
			failed = &p
		}
	}
	require.NotNil(t, failed)
	assert.True(t, failed.Timeout)
}

// rogueAgent ignores its context: it waits for release regardless of
// cancellation, then reports progress, standing in for a stage that outlives
// its timeout.
type rogueAgent struct {
	release  chan struct{}
	reported chan struct{}
}

func (a *rogueAgent) Name() string           { return "rogue" }
func (a *rogueAgent) Dependencies() []string { return nil }
func (a *rogueAgent) Run(ctx context.Context, rc *pipeline.RunContext) (any, error) {
	<-a.release
	rc.Progress("late report", 1, 1)
	close(a.reported)
	return map[string]string{"agent": "rogue"}, nil
}

func TestTimedOutAgentProgressIsDropped(t *testing.T) {
	ctx := context.Background()
	agent := &rogueAgent{release: make(chan struct{}), reported: make(chan struct{})}
	orch, hub := newTestOrchestrator(t, pipeline.MustNewDefinition(agent),
		WithAgentTimeout(20*time.Millisecond))

	workflow, err := orch.CreateWorkflow(ctx, testParams())
	require.NoError(t, err)
	got := waitTerminal(t, hub, workflow.ID)

	// The abandoned goroutine finishes only now, after the workflow failed
	// and its stream closed.
	close(agent.release)
	select {
	case <-agent.reported:
	case <-time.After(5 * time.Second):
		t.Fatal("abandoned agent never reported")
	}

	replayed := waitTerminal(t, hub, workflow.ID)
	require.Len(t, replayed, len(got))
	for _, e := range replayed {
		assert.NotEqual(t, events.EventAgentProgress, e.Type)
	}
	assert.Equal(t, events.EventAgentFailed, replayed[len(replayed)-2].Type)
	assert.Equal(t, events.EventWorkflowFailed, replayed[len(replayed)-1].Type)

	status, err := orch.GetStatus(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, status.Status)
}

func TestAgentPanicIsContained(t *testing.T) {
	ctx := context.Background()
	orch, hub := newTestOrchestrator(t, pipeline.MustNewDefinition(&panicAgent{}))
	workflow, err := orch.CreateWorkflow(ctx, testParams())
	require.NoError(t, err)
	waitTerminal(t, hub, workflow.ID)

	status, err := orch.GetStatus(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, status.Status)
	require.NotNil(t, status.FailureDetail)
	assert.Contains(t, *status.FailureDetail, "panicked")
}

type panicAgent struct{}

func (a *panicAgent) Name() string           { return "panicky" }
func (a *panicAgent) Dependencies() []string { return nil }
func (a *panicAgent) Run(ctx context.Context, rc *pipeline.RunContext) (any, error) {
	panic("unexpected")
}
