package models

import (
	"time"
)

// Price sources in priority order: an explicit user price always wins, a
// fresh market quote beats the scenario default.
const (
	PriceSourceUser     = "user_input"
	PriceSourceMarket   = "kamis_live"
	PriceSourceScenario = "scenario_default"
)

// Fruit quality grades used in the harvest split.
const (
	FruitGradePremium     = "premium"
	FruitGradeExcellent   = "excellent"
	FruitGradeStandard    = "standard"
	FruitGradeSubstandard = "substandard"
)

// Validation note severities. Caution notes are the only ones the
// self-refinement pass acts on.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityCaution = "caution"
)

// SimulationRequest describes one profitability simulation. Optional pointer
// fields override the values the simulator would otherwise derive.
type SimulationRequest struct {
	Variety         string   `json:"variety"`
	AreaPyeong      float64  `json:"area_pyeong"`
	TotalTrees      *int     `json:"total_trees,omitempty"`
	YieldPer10aKg   *float64 `json:"yield_per_10a_kg,omitempty"`
	PricePerKg      *float64 `json:"price_per_kg,omitempty"`
	RowSpacingM     *float64 `json:"row_spacing_m,omitempty"`
	TreeSpacingM    *float64 `json:"tree_spacing_m,omitempty"`
	RootstockID     string   `json:"rootstock_id,omitempty"`
	RegionID        string   `json:"region_id,omitempty"`
	ProjectionYears int      `json:"projection_years,omitempty"`
}

// GradeShare is one slice of the harvest quality split.
type GradeShare struct {
	Grade           string  `json:"grade"`
	Ratio           float64 `json:"ratio"`
	PriceMultiplier float64 `json:"price_multiplier"`
}

// GradeAdjustment records how a regional suitability grade skewed the
// simulation's yield and quality split.
type GradeAdjustment struct {
	RegionID     string  `json:"region_id"`
	Grade        string  `json:"grade"`
	YieldFactor  float64 `json:"yield_factor"`
	PremiumShift float64 `json:"premium_shift"`
}

// CostItem is one line of the annual cost table, in KRW. Amount is the
// line scaled to the simulated plot; zero outside a simulation result.
type CostItem struct {
	Category     string `json:"category"`
	Name         string `json:"name"`
	AmountPer10a int64  `json:"amount_per_10a"`
	Amount       int64  `json:"amount,omitempty"`
}

// YearlyProjection is one year of the multi-year cash flow projection.
type YearlyProjection struct {
	Year             int     `json:"year"`
	MaturityRatio    float64 `json:"maturity_ratio"`
	YieldKg          float64 `json:"yield_kg"`
	Revenue          int64   `json:"revenue"`
	Cost             int64   `json:"cost"`
	Profit           int64   `json:"profit"`
	CumulativeProfit int64   `json:"cumulative_profit"`
}

// ValidationNote is one plausibility finding attached to a result.
type ValidationNote struct {
	Severity string `json:"severity"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

// AnalyticsContext situates a result against the run history.
type AnalyticsContext struct {
	TotalRuns int     `json:"total_runs"`
	AvgROI    float64 `json:"avg_roi"`
	ROIDelta  float64 `json:"roi_delta"`
	Note      string  `json:"note"`
}

// SimulationResult is the full outcome of a profitability simulation.
// Monetary amounts are KRW; yields are kilograms at full maturity unless a
// projection year says otherwise.
type SimulationResult struct {
	Variety           string             `json:"variety"`
	AreaPyeong        float64            `json:"area_pyeong"`
	AreaM2            float64            `json:"area_m2"`
	Area10a           float64            `json:"area_10a"`
	TotalTrees        int                `json:"total_trees"`
	YieldPer10aKg     float64            `json:"yield_per_10a_kg"`
	FullYieldKg       float64            `json:"full_yield_kg"`
	PricePerKg        float64            `json:"price_per_kg"`
	PriceSource       string             `json:"price_source"`
	FarmGateRatio     float64            `json:"farm_gate_ratio"`
	EffectivePriceKg  float64            `json:"effective_price_kg"`
	GradeShares       []GradeShare       `json:"grade_shares"`
	GradeAdjustment   *GradeAdjustment   `json:"grade_adjustment,omitempty"`
	CostItems         []CostItem         `json:"cost_items"`
	AnnualRevenue     int64              `json:"annual_revenue"`
	AnnualCost        int64              `json:"annual_cost"`
	AnnualProfit      int64              `json:"annual_profit"`
	IncomeRatio       float64            `json:"income_ratio"`
	InitialInvestment int64              `json:"initial_investment"`
	BreakEvenYear     int                `json:"break_even_year"`
	ROI10Year         float64            `json:"roi_10year"`
	Projections       []YearlyProjection `json:"projections"`
	ValidationNotes   []ValidationNote   `json:"validation_notes,omitempty"`
	Refined           bool               `json:"refined"`
	RefinedFields     []string           `json:"refined_fields,omitempty"`
	AnalyticsContext  *AnalyticsContext  `json:"analytics_context,omitempty"`
	GeneratedAt       time.Time          `json:"generated_at"`
}

// ScenarioOutcome is one leg of a multi-scenario comparison.
type ScenarioOutcome struct {
	Scenario        string           `json:"scenario"`
	PriceMultiplier float64          `json:"price_multiplier"`
	YieldMultiplier float64          `json:"yield_multiplier"`
	Result          SimulationResult `json:"result"`
}

// ComparisonResult bundles optimistic, neutral and pessimistic outcomes
// with a plain-language reading of them.
type ComparisonResult struct {
	Variety        string            `json:"variety"`
	AreaPyeong     float64           `json:"area_pyeong"`
	Scenarios      []ScenarioOutcome `json:"scenarios"`
	Recommendation string            `json:"recommendation"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

// RunRecord is the analytics footprint of one simulation run.
type RunRecord struct {
	Variety       string    `json:"variety"`
	AreaPyeong    float64   `json:"area_pyeong"`
	ROI10Year     float64   `json:"roi_10year"`
	IncomeRatio   float64   `json:"income_ratio"`
	BreakEvenYear int       `json:"break_even_year"`
	Refined       bool      `json:"refined"`
	DurationMS    float64   `json:"duration_ms"`
	At            time.Time `json:"at"`
}
