package models

// Derived planning artifacts. Each is a value object keyed by workflow id
// (VarianceRecord additionally by week number), computed deterministically
// from upstream artifacts plus the season parameters, and never mutated
// after creation.

// ParameterSet is the normalized parameter artifact produced by the
// parameters agent. Downstream agents consume it instead of the raw
// season parameters.
type ParameterSet struct {
	TotalUnits        int           `json:"total_units"`
	HorizonWeeks      int           `json:"horizon_weeks"`
	Weeks             []int         `json:"weeks"`
	Replenishment     Replenishment `json:"replenishment"`
	DCHoldback        float64       `json:"dc_holdback"`
	StoreCount        int           `json:"store_count"`
	MarkdownWeek      int           `json:"markdown_week"`
	MarkdownThreshold float64       `json:"markdown_threshold"`
	MarkdownPlanned   bool          `json:"markdown_planned"`
}

// ForecastSummary is the demand forecast artifact: a per-week demand curve
// summing exactly to TotalDemand, plus the safety stock coefficient used by
// the allocation stage.
type ForecastSummary struct {
	TotalDemand  int     `json:"total_demand"`
	SafetyStock  float64 `json:"safety_stock"`
	WeeklyDemand []int   `json:"weekly_demand"`
	PeakWeek     int     `json:"peak_week"`
}

// StoreCluster is one store grouping with its share of season demand.
type StoreCluster struct {
	Name        string  `json:"name"`
	StoreCount  int     `json:"store_count"`
	DemandShare float64 `json:"demand_share"`
}

// ClusterSet is the store clustering artifact.
type ClusterSet struct {
	Clusters []StoreCluster `json:"clusters"`
}

// VarianceRecord is the weekly variance artifact entry, keyed by
// (workflow id, week).
type VarianceRecord struct {
	Week        int     `json:"week"`
	Forecast    int     `json:"forecast"`
	Baseline    float64 `json:"baseline"`
	Variance    float64 `json:"variance"`
	VariancePct float64 `json:"variance_pct"`
}

// VarianceReport aggregates the per-week variance records.
type VarianceReport struct {
	Records []VarianceRecord `json:"records"`
}

// ClusterAllocation is the initial allocation for one cluster.
type ClusterAllocation struct {
	Cluster string `json:"cluster"`
	Units   int    `json:"units"`
}

// AllocationSet is the allocation artifact. ManufacturingOrder equals
// TotalDemand x (1 + SafetyStock) x (1 + DCHoldback) using the values
// reported by the ForecastSummary artifact and the season parameters.
type AllocationSet struct {
	ManufacturingOrder float64             `json:"manufacturing_order"`
	OrderUnits         int                 `json:"order_units"`
	HoldbackUnits      int                 `json:"holdback_units"`
	Allocations        []ClusterAllocation `json:"allocations"`
}

// MarkdownAnalysis is the markdown checkpoint artifact. It exists only when
// the parameters specify a checkpoint week; its absence for other seasons is
// a modeled state, not an error.
type MarkdownAnalysis struct {
	CheckpointWeek       int     `json:"checkpoint_week"`
	ProjectedSellThrough float64 `json:"projected_sell_through"`
	Threshold            float64 `json:"threshold"`
	MarkdownRecommended  bool    `json:"markdown_recommended"`
	RecommendedDepth     float64 `json:"recommended_depth"`
}

// CloneArtifact returns a copy of a known artifact payload that shares no
// slice backing with the original. Unknown payload types are returned as-is.
func CloneArtifact(artifact any) any {
	switch a := artifact.(type) {
	case ParameterSet:
		a.Weeks = append([]int(nil), a.Weeks...)
		return a
	case ForecastSummary:
		a.WeeklyDemand = append([]int(nil), a.WeeklyDemand...)
		return a
	case ClusterSet:
		a.Clusters = append([]StoreCluster(nil), a.Clusters...)
		return a
	case VarianceReport:
		a.Records = append([]VarianceRecord(nil), a.Records...)
		return a
	case AllocationSet:
		a.Allocations = append([]ClusterAllocation(nil), a.Allocations...)
		return a
	default:
		return artifact
	}
}
