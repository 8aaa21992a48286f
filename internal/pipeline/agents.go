package pipeline

import (
	"context"
	"math"

	"seasonplan/backend/pkg/models"
)

// The planning agents. Each computation is deterministic in the season
// parameters and upstream artifacts; re-running a stage with the same inputs
// produces an identical artifact.

// ParametersAgent normalizes the raw season parameters into the ParameterSet
// artifact consumed by every downstream stage.
type ParametersAgent struct{}

func (a *ParametersAgent) Name() string           { return AgentParameters }
func (a *ParametersAgent) Dependencies() []string { return nil }

func (a *ParametersAgent) Run(ctx context.Context, rc *RunContext) (any, error) {
	p := rc.Params

	storeCount := p.StoreCount
	if storeCount == 0 {
		storeCount = models.DefaultStoreCount
	}

	weeks := make([]int, p.HorizonWeeks)
	for i := range weeks {
		weeks[i] = i + 1
	}

	return models.ParameterSet{
		TotalUnits:        p.TotalUnits,
		HorizonWeeks:      p.HorizonWeeks,
		Weeks:             weeks,
		Replenishment:     p.Replenishment,
		DCHoldback:        p.DCHoldback,
		StoreCount:        storeCount,
		MarkdownWeek:      p.MarkdownCheckpointWeek,
		MarkdownThreshold: p.MarkdownThreshold,
		MarkdownPlanned:   p.HasMarkdownCheckpoint(),
	}, nil
}

// ForecastAgent produces the weekly demand curve and safety stock coefficient.
// The curve peaks mid-season and always sums exactly to the season's total
// units; rounding residue is pushed into the earliest weeks.
type ForecastAgent struct{}

func (a *ForecastAgent) Name() string           { return AgentForecast }
func (a *ForecastAgent) Dependencies() []string { return []string{AgentParameters} }

// Safety stock coefficients by replenishment cadence. A weekly-replenished
// season carries less buffer because stores can be refilled in-season.
const (
	safetyStockWeekly = 0.10
	safetyStockNone   = 0.20
)

func (a *ForecastAgent) Run(ctx context.Context, rc *RunContext) (any, error) {
	ps, err := rc.ParameterSet()
	if err != nil {
		return nil, err
	}

	horizon := ps.HorizonWeeks
	weights := make([]float64, horizon)
	var total float64
	for w := 1; w <= horizon; w++ {
		// Symmetric tent curve peaking mid-season.
		weights[w-1] = float64(1 + min(w, horizon+1-w))
		total += weights[w-1]
	}

	weekly := make([]int, horizon)
	allocated := 0
	for i, wt := range weights {
		weekly[i] = int(math.Floor(float64(ps.TotalUnits) * wt / total))
		allocated += weekly[i]
	}
	for i := 0; allocated < ps.TotalUnits; i++ {
		weekly[i%horizon]++
		allocated++
	}

	peak := 1
	for i := range weekly {
		if weekly[i] > weekly[peak-1] {
			peak = i + 1
		}
	}

	safety := safetyStockNone
	if ps.Replenishment == models.ReplenishmentWeekly {
		safety = safetyStockWeekly
	}

	return models.ForecastSummary{
		TotalDemand:  ps.TotalUnits,
		SafetyStock:  safety,
		WeeklyDemand: weekly,
		PeakWeek:     peak,
	}, nil
}

// ClusteringAgent groups stores into three volume tiers with fixed demand
// shares. Remaining stores after proportional rounding land in the top tier.
type ClusteringAgent struct{}

func (a *ClusteringAgent) Name() string           { return AgentClustering }
func (a *ClusteringAgent) Dependencies() []string { return []string{AgentForecast} }

var clusterTiers = []models.StoreCluster{
	{Name: "A", DemandShare: 0.50},
	{Name: "B", DemandShare: 0.30},
	{Name: "C", DemandShare: 0.20},
}

func (a *ClusteringAgent) Run(ctx context.Context, rc *RunContext) (any, error) {
	ps, err := rc.ParameterSet()
	if err != nil {
		return nil, err
	}

	clusters := make([]models.StoreCluster, len(clusterTiers))
	assigned := 0
	for i, tier := range clusterTiers {
		clusters[i] = tier
		clusters[i].StoreCount = int(math.Floor(float64(ps.StoreCount) * tier.DemandShare))
		assigned += clusters[i].StoreCount
	}
	clusters[0].StoreCount += ps.StoreCount - assigned

	return models.ClusterSet{Clusters: clusters}, nil
}

// VarianceAgent computes per-week variance of the forecast curve against the
// flat season baseline. It reports progress per week through the run context.
type VarianceAgent struct{}

func (a *VarianceAgent) Name() string           { return AgentVariance }
func (a *VarianceAgent) Dependencies() []string { return []string{AgentClustering} }

func (a *VarianceAgent) Run(ctx context.Context, rc *RunContext) (any, error) {
	fs, err := rc.Forecast()
	if err != nil {
		return nil, err
	}

	horizon := len(fs.WeeklyDemand)
	baseline := float64(fs.TotalDemand) / float64(horizon)

	records := make([]models.VarianceRecord, 0, horizon)
	for i, demand := range fs.WeeklyDemand {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		variance := float64(demand) - baseline
		records = append(records, models.VarianceRecord{
			Week:        i + 1,
			Forecast:    demand,
			Baseline:    baseline,
			Variance:    variance,
			VariancePct: variance / baseline,
		})
		rc.Progress("variance computed", i+1, horizon)
	}

	return models.VarianceReport{Records: records}, nil
}

// AllocationAgent sizes the manufacturing order and splits the initial
// allocation across clusters after reserving the DC holdback.
type AllocationAgent struct{}

func (a *AllocationAgent) Name() string           { return AgentAllocation }
func (a *AllocationAgent) Dependencies() []string { return []string{AgentVariance} }

func (a *AllocationAgent) Run(ctx context.Context, rc *RunContext) (any, error) {
	ps, err := rc.ParameterSet()
	if err != nil {
		return nil, err
	}
	fs, err := rc.Forecast()
	if err != nil {
		return nil, err
	}
	cs, err := rc.Clusters()
	if err != nil {
		return nil, err
	}

	order := float64(fs.TotalDemand) * (1 + fs.SafetyStock) * (1 + ps.DCHoldback)
	orderUnits := int(math.Round(order))
	holdback := int(math.Round(order * ps.DCHoldback / (1 + ps.DCHoldback)))
	available := orderUnits - holdback

	allocations := make([]models.ClusterAllocation, len(cs.Clusters))
	allocated := 0
	for i, c := range cs.Clusters {
		units := int(math.Floor(float64(available) * c.DemandShare))
		allocations[i] = models.ClusterAllocation{Cluster: c.Name, Units: units}
		allocated += units
	}
	allocations[0].Units += available - allocated

	return models.AllocationSet{
		ManufacturingOrder: order,
		OrderUnits:         orderUnits,
		HoldbackUnits:      holdback,
		Allocations:        allocations,
	}, nil
}

// MarkdownAgent evaluates projected sell-through at the markdown checkpoint
// week. For seasons without a checkpoint it returns no artifact: the stage is
// permanently not applicable rather than failed or pending.
type MarkdownAgent struct{}

func (a *MarkdownAgent) Name() string           { return AgentMarkdown }
func (a *MarkdownAgent) Dependencies() []string { return []string{AgentAllocation} }

func (a *MarkdownAgent) Run(ctx context.Context, rc *RunContext) (any, error) {
	ps, err := rc.ParameterSet()
	if err != nil {
		return nil, err
	}
	if !ps.MarkdownPlanned {
		return nil, nil
	}

	fs, err := rc.Forecast()
	if err != nil {
		return nil, err
	}

	sold := 0
	for i := 0; i < ps.MarkdownWeek && i < len(fs.WeeklyDemand); i++ {
		sold += fs.WeeklyDemand[i]
	}
	sellThrough := float64(sold) / float64(fs.TotalDemand)

	recommended := sellThrough < ps.MarkdownThreshold
	depth := 0.0
	if recommended {
		// Depth scales with the sell-through shortfall, clamped to 10-50%.
		depth = math.Min(0.50, math.Max(0.10, (ps.MarkdownThreshold-sellThrough)*2))
	}

	return models.MarkdownAnalysis{
		CheckpointWeek:       ps.MarkdownWeek,
		ProjectedSellThrough: sellThrough,
		Threshold:            ps.MarkdownThreshold,
		MarkdownRecommended:  recommended,
		RecommendedDepth:     depth,
	}, nil
}
