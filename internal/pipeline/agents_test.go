package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seasonplan/backend/internal/types"
	"seasonplan/backend/pkg/models"
)

// runThrough executes the default pipeline up to and including the named
// agent, accumulating artifacts the way the orchestrator does.
func runThrough(t *testing.T, params models.SeasonParameters, last string) *RunContext {
	t.Helper()
	rc := NewRunContext(types.NewID(), params)
	for _, agent := range Default().Agents() {
		artifact, err := agent.Run(context.Background(), rc)
		require.NoError(t, err, "agent %s", agent.Name())
		if artifact != nil {
			rc.PutArtifact(agent.Name(), artifact)
		}
		if agent.Name() == last {
			break
		}
	}
	return rc
}

func baseParams() models.SeasonParameters {
	return models.SeasonParameters{
		TotalUnits:    8000,
		HorizonWeeks:  12,
		Replenishment: models.ReplenishmentWeekly,
		DCHoldback:    0.15,
	}
}

func TestParametersAgent(t *testing.T) {
	rc := runThrough(t, baseParams(), AgentParameters)

	ps, err := rc.ParameterSet()
	require.NoError(t, err)
	assert.Equal(t, 8000, ps.TotalUnits)
	assert.Equal(t, 12, ps.HorizonWeeks)
	assert.Len(t, ps.Weeks, 12)
	assert.Equal(t, 1, ps.Weeks[0])
	assert.Equal(t, 12, ps.Weeks[11])
	assert.Equal(t, models.DefaultStoreCount, ps.StoreCount)
	assert.False(t, ps.MarkdownPlanned)
}

func TestForecastAgent(t *testing.T) {
	t.Run("weekly demand sums to total units", func(t *testing.T) {
		rc := runThrough(t, baseParams(), AgentForecast)

		fs, err := rc.Forecast()
		require.NoError(t, err)
		assert.Equal(t, 8000, fs.TotalDemand)
		assert.Len(t, fs.WeeklyDemand, 12)

		sum := 0
		for _, d := range fs.WeeklyDemand {
			sum += d
		}
		assert.Equal(t, 8000, sum)
	})

	t.Run("curve peaks mid-season", func(t *testing.T) {
		rc := runThrough(t, baseParams(), AgentForecast)

		fs, err := rc.Forecast()
		require.NoError(t, err)
		assert.Equal(t, 6, fs.PeakWeek)
		for _, d := range fs.WeeklyDemand {
			assert.LessOrEqual(t, d, fs.WeeklyDemand[fs.PeakWeek-1])
		}
	})

	t.Run("safety stock follows replenishment cadence", func(t *testing.T) {
		rc := runThrough(t, baseParams(), AgentForecast)
		fs, err := rc.Forecast()
		require.NoError(t, err)
		assert.Equal(t, 0.10, fs.SafetyStock)

		params := baseParams()
		params.Replenishment = models.ReplenishmentNone
		rc = runThrough(t, params, AgentForecast)
		fs, err = rc.Forecast()
		require.NoError(t, err)
		assert.Equal(t, 0.20, fs.SafetyStock)
	})

	t.Run("deterministic in the parameters", func(t *testing.T) {
		first := runThrough(t, baseParams(), AgentForecast)
		second := runThrough(t, baseParams(), AgentForecast)

		fs1, err := first.Forecast()
		require.NoError(t, err)
		fs2, err := second.Forecast()
		require.NoError(t, err)
		assert.Equal(t, fs1, fs2)
	})
}

func TestClusteringAgent(t *testing.T) {
	rc := runThrough(t, baseParams(), AgentClustering)

	cs, err := rc.Clusters()
	require.NoError(t, err)
	require.Len(t, cs.Clusters, 3)

	assert.Equal(t, "A", cs.Clusters[0].Name)
	assert.Equal(t, 50, cs.Clusters[0].StoreCount)
	assert.Equal(t, "B", cs.Clusters[1].Name)
	assert.Equal(t, 30, cs.Clusters[1].StoreCount)
	assert.Equal(t, "C", cs.Clusters[2].Name)
	assert.Equal(t, 20, cs.Clusters[2].StoreCount)

	total := 0
	for _, c := range cs.Clusters {
		total += c.StoreCount
	}
	assert.Equal(t, models.DefaultStoreCount, total)
}

func TestVarianceAgent(t *testing.T) {
	params := baseParams()
	rc := NewRunContext(types.NewID(), params)

	var progressCalls int
	rc.SetProgress(func(message string, completed, total int) {
		progressCalls++
		assert.Equal(t, 12, total)
	})

	for _, agent := range Default().Agents() {
		artifact, err := agent.Run(context.Background(), rc)
		require.NoError(t, err)
		if artifact != nil {
			rc.PutArtifact(agent.Name(), artifact)
		}
		if agent.Name() == AgentVariance {
			break
		}
	}

	a, ok := rc.Artifact(AgentVariance)
	require.True(t, ok)
	report := a.(models.VarianceReport)
	require.Len(t, report.Records, 12)
	assert.Equal(t, 12, progressCalls)

	var sum float64
	for i, r := range report.Records {
		assert.Equal(t, i+1, r.Week)
		assert.InDelta(t, 8000.0/12.0, r.Baseline, 1e-9)
		assert.InDelta(t, float64(r.Forecast)-r.Baseline, r.Variance, 1e-9)
		sum += r.Variance
	}
	// Variances against the flat baseline cancel out over the season.
	assert.InDelta(t, 0, sum, 1e-6)
}

func TestAllocationAgent(t *testing.T) {
	rc := runThrough(t, baseParams(), AgentAllocation)

	a, ok := rc.Artifact(AgentAllocation)
	require.True(t, ok)
	as := a.(models.AllocationSet)

	// 8000 * 1.10 safety * 1.15 holdback
	assert.InDelta(t, 10120.0, as.ManufacturingOrder, 1e-6)
	assert.Equal(t, 10120, as.OrderUnits)
	assert.Equal(t, 1320, as.HoldbackUnits)

	require.Len(t, as.Allocations, 3)
	allocated := 0
	for _, ca := range as.Allocations {
		allocated += ca.Units
	}
	assert.Equal(t, as.OrderUnits-as.HoldbackUnits, allocated)
	assert.Equal(t, "A", as.Allocations[0].Cluster)
	assert.Equal(t, 4400, as.Allocations[0].Units)
	assert.Equal(t, 2640, as.Allocations[1].Units)
	assert.Equal(t, 1760, as.Allocations[2].Units)
}

func TestMarkdownAgent(t *testing.T) {
	t.Run("no checkpoint yields no artifact", func(t *testing.T) {
		rc := runThrough(t, baseParams(), AgentMarkdown)

		_, ok := rc.Artifact(AgentMarkdown)
		assert.False(t, ok)
	})

	t.Run("healthy sell-through recommends nothing", func(t *testing.T) {
		params := baseParams()
		params.MarkdownCheckpointWeek = 6
		params.MarkdownThreshold = 0.40
		rc := runThrough(t, params, AgentMarkdown)

		a, ok := rc.Artifact(AgentMarkdown)
		require.True(t, ok)
		ma := a.(models.MarkdownAnalysis)
		assert.Equal(t, 6, ma.CheckpointWeek)
		assert.Greater(t, ma.ProjectedSellThrough, ma.Threshold)
		assert.False(t, ma.MarkdownRecommended)
		assert.Zero(t, ma.RecommendedDepth)
	})

	t.Run("shortfall recommends a clamped depth", func(t *testing.T) {
		params := models.SeasonParameters{
			TotalUnits:             2800,
			HorizonWeeks:           8,
			Replenishment:          models.ReplenishmentNone,
			DCHoldback:             0.10,
			MarkdownCheckpointWeek: 2,
			MarkdownThreshold:      0.50,
		}
		rc := runThrough(t, params, AgentMarkdown)

		a, ok := rc.Artifact(AgentMarkdown)
		require.True(t, ok)
		ma := a.(models.MarkdownAnalysis)
		assert.True(t, ma.MarkdownRecommended)
		assert.InDelta(t, 500.0/2800.0, ma.ProjectedSellThrough, 1e-9)
		assert.Equal(t, 0.50, ma.RecommendedDepth)
	})
}

func TestRunContextMissingUpstream(t *testing.T) {
	rc := NewRunContext(types.NewID(), baseParams())

	_, err := rc.Forecast()
	assert.Equal(t, types.AgentFailed, types.CodeOf(err))

	_, err = (&ForecastAgent{}).Run(context.Background(), rc)
	assert.Error(t, err)
}
