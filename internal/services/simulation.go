package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"orchard-platform/internal/models"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// FarmGateRatio is the default share of the wholesale price that reaches
// the grower.
const FarmGateRatio = 0.82

// baseCostPer10a is the annual operating cost of a mature orchard per 10a.
const baseCostPer10a = 3050000

// scenario holds the market baseline for one variety.
type scenario struct {
	YieldPer10aKg float64
	PricePerKg    float64
	GradeRatios   map[string]float64
}

// gradePriceMultipliers scale the base price per fruit grade.
var gradePriceMultipliers = map[string]float64{
	models.FruitGradePremium:     1.0,
	models.FruitGradeExcellent:   0.8,
	models.FruitGradeStandard:    0.55,
	models.FruitGradeSubstandard: 0.25,
}

var scenarios = map[string]scenario{
	"fuji":         {YieldPer10aKg: 2500, PricePerKg: 5500, GradeRatios: map[string]float64{models.FruitGradePremium: 0.15, models.FruitGradeExcellent: 0.35, models.FruitGradeStandard: 0.35, models.FruitGradeSubstandard: 0.15}},
	"hongro":       {YieldPer10aKg: 2200, PricePerKg: 6000, GradeRatios: map[string]float64{models.FruitGradePremium: 0.12, models.FruitGradeExcellent: 0.33, models.FruitGradeStandard: 0.35, models.FruitGradeSubstandard: 0.20}},
	"gamhong":      {YieldPer10aKg: 1800, PricePerKg: 8000, GradeRatios: map[string]float64{models.FruitGradePremium: 0.10, models.FruitGradeExcellent: 0.30, models.FruitGradeStandard: 0.35, models.FruitGradeSubstandard: 0.25}},
	"arisu":        {YieldPer10aKg: 2300, PricePerKg: 5000, GradeRatios: map[string]float64{models.FruitGradePremium: 0.15, models.FruitGradeExcellent: 0.35, models.FruitGradeStandard: 0.35, models.FruitGradeSubstandard: 0.15}},
	"shinano-gold": {YieldPer10aKg: 2000, PricePerKg: 6500, GradeRatios: map[string]float64{models.FruitGradePremium: 0.12, models.FruitGradeExcellent: 0.33, models.FruitGradeStandard: 0.35, models.FruitGradeSubstandard: 0.20}},
	"ruby-s":       {YieldPer10aKg: 2000, PricePerKg: 7000, GradeRatios: map[string]float64{models.FruitGradePremium: 0.10, models.FruitGradeExcellent: 0.30, models.FruitGradeStandard: 0.35, models.FruitGradeSubstandard: 0.25}},
}

// costItems is the annual per-10a operating cost table of a mature orchard.
var costItems = []models.CostItem{
	{Category: "materials", Name: "fertilizer", AmountPer10a: 250000},
	{Category: "materials", Name: "pesticide", AmountPer10a: 300000},
	{Category: "materials", Name: "fruit_bagging", AmountPer10a: 100000},
	{Category: "materials", Name: "reflective_film", AmountPer10a: 80000},
	{Category: "materials", Name: "fuel", AmountPer10a: 130000},
	{Category: "materials", Name: "small_tools", AmountPer10a: 100000},
	{Category: "materials", Name: "pruning_waste_disposal", AmountPer10a: 40000},
	{Category: "labor", Name: "pruning_labor", AmountPer10a: 250000},
	{Category: "labor", Name: "thinning_labor", AmountPer10a: 300000},
	{Category: "labor", Name: "harvest_labor", AmountPer10a: 350000},
	{Category: "labor", Name: "weed_control_labor", AmountPer10a: 100000},
	{Category: "labor", Name: "spray_labor", AmountPer10a: 100000},
	{Category: "fixed", Name: "depreciation", AmountPer10a: 300000},
	{Category: "fixed", Name: "water_electricity", AmountPer10a: 100000},
	{Category: "fixed", Name: "crop_insurance", AmountPer10a: 150000},
	{Category: "fixed", Name: "facility_repair", AmountPer10a: 100000},
	{Category: "fixed", Name: "gap_certification", AmountPer10a: 50000},
	{Category: "fixed", Name: "machinery_maintenance", AmountPer10a: 150000},
	{Category: "fixed", Name: "admin_misc", AmountPer10a: 100000},
}

// maturityCurve is the fraction of full yield an orchard reaches per year
// after planting. Years beyond the table are at full yield.
var maturityCurve = map[int]float64{
	1: 0, 2: 0, 3: 0.10, 4: 0.30, 5: 0.50,
	6: 0.70, 7: 0.85, 8: 0.95, 9: 1.0, 10: 1.0,
}

// gradeAdjustmentTable skews yield and the premium share by regional grade.
var gradeAdjustmentTable = map[string]models.GradeAdjustment{
	models.GradeS: {Grade: models.GradeS, YieldFactor: 1.10, PremiumShift: 0.05},
	models.GradeA: {Grade: models.GradeA, YieldFactor: 1.0, PremiumShift: 0},
	models.GradeB: {Grade: models.GradeB, YieldFactor: 0.90, PremiumShift: -0.05},
	models.GradeC: {Grade: models.GradeC, YieldFactor: 0.75, PremiumShift: -0.10},
}

// compareScenarios are the price/yield multipliers of the three-way comparison.
var compareScenarios = []struct {
	Name            string
	PriceMultiplier float64
	YieldMultiplier float64
}{
	{Name: "optimistic", PriceMultiplier: 1.15, YieldMultiplier: 1.20},
	{Name: "neutral", PriceMultiplier: 1.0, YieldMultiplier: 1.0},
	{Name: "pessimistic", PriceMultiplier: 0.80, YieldMultiplier: 0.75},
}

// SimulationService runs profitability simulations: orchard economics from
// the design SSOT, scenario defaults, live prices, regional grades and the
// evolution engine's learned modifiers, with one validation-driven
// refinement pass.
type SimulationService struct {
	designer  *OrchardDesigner
	grader    *GradingService
	prices    *PriceCache
	evolution *EvolutionEngine
	validator *Validator
	analytics *RunAnalytics
	flags     *FeatureFlags
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewSimulationService wires the simulator. evolution, validator, analytics
// and flags may be nil for reduced setups; the corresponding behavior is
// then skipped.
func NewSimulationService(
	designer *OrchardDesigner,
	grader *GradingService,
	prices *PriceCache,
	evolution *EvolutionEngine,
	validator *Validator,
	analytics *RunAnalytics,
	flags *FeatureFlags,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *SimulationService {
	return &SimulationService{
		designer:  designer,
		grader:    grader,
		prices:    prices,
		evolution: evolution,
		validator: validator,
		analytics: analytics,
		flags:     flags,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// scenarioFor returns the market baseline for a variety, falling back to
// fuji for unknown names.
func scenarioFor(variety string) scenario {
	if s, ok := scenarios[variety]; ok {
		return s
	}
	return scenarios["fuji"]
}

// Run executes a simulation: one base pass, validation, and at most one
// refined re-run when the validator proposes an adjusted request.
func (s *SimulationService) Run(ctx context.Context, req models.SimulationRequest) (*models.SimulationResult, error) {
	timer := time.Now()

	if req.AreaPyeong <= 0 {
		return nil, &models.ValidationError{
			Field:   "area_pyeong",
			Message: "area_pyeong must be positive",
		}
	}
	if req.Variety == "" {
		return nil, &models.ValidationError{
			Field:   "variety",
			Message: "variety is required",
		}
	}

	result := s.simulateOnce(ctx, req, 1.0, 1.0)

	if s.validator != nil {
		notes := s.validator.Validate(result)
		result.ValidationNotes = notes

		refinedRun := false
		var refinedFields []string
		if s.flags != nil && s.flags.Enabled(FlagSelfRefine) {
			if refined, fields := s.validator.SuggestRefinement(req, result, notes); refined != nil {
				s.logger.Info(ctx, "[SIMULATION] Re-running with refined inputs", logging.Fields{
					"variety": req.Variety,
					"fields":  fields,
				})

				result = s.simulateOnce(ctx, *refined, 1.0, 1.0)
				result.Refined = true
				result.RefinedFields = fields
				result.ValidationNotes = s.validator.Validate(result)
				refinedRun = true
				refinedFields = fields
			}
		}
		// Every validated run feeds the rolling refinement-rate window,
		// refined or not, so the adaptive bounds see the full population.
		s.validator.RecordOutcome(ctx, refinedRun, refinedFields)
	}

	if s.analytics != nil && s.flags != nil && s.flags.Enabled(FlagAnalyticsContext) {
		result.AnalyticsContext = s.analytics.Context(result.ROI10Year)
	}

	duration := time.Since(timer)
	s.metrics.RecordSimulationRun(req.Variety, duration)

	if s.analytics != nil {
		s.analytics.RecordRun(ctx, models.RunRecord{
			Variety:       req.Variety,
			AreaPyeong:    req.AreaPyeong,
			ROI10Year:     result.ROI10Year,
			IncomeRatio:   result.IncomeRatio,
			BreakEvenYear: result.BreakEvenYear,
			Refined:       result.Refined,
			DurationMS:    float64(duration.Microseconds()) / 1000.0,
			At:            time.Now().UTC(),
		})
	}

	s.logger.Info(ctx, "[SIMULATION] Run complete", logging.Fields{
		"variety":      req.Variety,
		"area_pyeong":  req.AreaPyeong,
		"roi_10year":   result.ROI10Year,
		"income_ratio": result.IncomeRatio,
		"refined":      result.Refined,
		"duration_ms":  duration.Milliseconds(),
	})

	return result, nil
}

// Compare runs the optimistic/neutral/pessimistic comparison.
func (s *SimulationService) Compare(ctx context.Context, req models.SimulationRequest) (*models.ComparisonResult, error) {
	if s.flags != nil && !s.flags.Enabled(FlagMultiScenario) {
		return nil, &models.ValidationError{
			Field:   "multi_scenario_compare",
			Message: "multi-scenario comparison is disabled",
		}
	}
	if req.AreaPyeong <= 0 {
		return nil, &models.ValidationError{
			Field:   "area_pyeong",
			Message: "area_pyeong must be positive",
		}
	}

	comparison := &models.ComparisonResult{
		Variety:     req.Variety,
		AreaPyeong:  req.AreaPyeong,
		GeneratedAt: time.Now().UTC(),
	}

	for _, sc := range compareScenarios {
		result := s.simulateOnce(ctx, req, sc.PriceMultiplier, sc.YieldMultiplier)
		comparison.Scenarios = append(comparison.Scenarios, models.ScenarioOutcome{
			Scenario:        sc.Name,
			PriceMultiplier: sc.PriceMultiplier,
			YieldMultiplier: sc.YieldMultiplier,
			Result:          *result,
		})
	}

	neutral := comparison.Scenarios[1].Result
	pessimistic := comparison.Scenarios[2].Result
	comparison.Recommendation = buildRecommendation(req.Variety, neutral, pessimistic)

	return comparison, nil
}

// buildRecommendation condenses the three-way comparison into advice: does
// the downside scenario stay profitable, and how soon does the neutral one
// break even.
func buildRecommendation(variety string, neutral, pessimistic models.SimulationResult) string {
	var parts []string

	switch {
	case pessimistic.AnnualProfit > 0:
		parts = append(parts, fmt.Sprintf("%s stays profitable even in the pessimistic scenario; a stable choice.", variety))
	case neutral.AnnualProfit > 0:
		parts = append(parts, fmt.Sprintf("%s is profitable in the neutral scenario but could run a deficit in a market downturn.", variety))
	default:
		parts = append(parts, fmt.Sprintf("%s runs a deficit even in the neutral scenario; careful review is needed.", variety))
	}

	be := neutral.BreakEvenYear
	switch {
	case be <= 5:
		parts = append(parts, fmt.Sprintf("Break-even in about %d years is on the fast side.", be))
	case be <= 8:
		parts = append(parts, fmt.Sprintf("Break-even may take about %d years.", be))
	default:
		parts = append(parts, fmt.Sprintf("Break-even could take %d years or more; a long-term view is needed.", be))
	}

	return strings.Join(parts, " ")
}

// CostTable returns the per-10a annual cost table.
func (s *SimulationService) CostTable() []models.CostItem {
	out := make([]models.CostItem, len(costItems))
	copy(out, costItems)
	return out
}

// simulateOnce performs one full economic calculation without validation.
func (s *SimulationService) simulateOnce(ctx context.Context, req models.SimulationRequest, priceMult, yieldMult float64) *models.SimulationResult {
	sc := scenarioFor(req.Variety)

	years := req.ProjectionYears
	if years <= 0 {
		years = 10
	}
	if years > 30 {
		years = 30
	}

	areaM2 := req.AreaPyeong * PyeongToM2
	area10a := areaM2 / 1000.0

	// Unknown rootstock names normalize to the default up front, so
	// spacing and costing agree on the same table row.
	rootstockID := req.RootstockID
	if _, ok := rootstocks[rootstockID]; !ok && rootstockID != "" {
		rootstockID = defaultRootstockID
	}

	// Yield per 10a: explicit override beats the designer's figure, which
	// beats the variety's market baseline.
	yieldPer10a := s.designer.YieldPer10a(req.Variety, req.RowSpacingM, req.TreeSpacingM, rootstockID)
	if yieldPer10a <= 0 {
		yieldPer10a = sc.YieldPer10aKg
	}
	if req.YieldPer10aKg != nil && *req.YieldPer10aKg > 0 {
		yieldPer10a = *req.YieldPer10aKg
	}

	// Learned modifiers from the evolution engine.
	farmGate := FarmGateRatio
	costModifier := 1.0
	if s.evolution != nil {
		yieldPer10a *= s.evolution.Modifier("yield_modifier_global", 1.0)
		yieldPer10a *= s.evolution.Modifier("yield_modifier_"+req.Variety, 1.0)
		farmGate = s.evolution.Modifier("farm_gate_ratio", FarmGateRatio)
		costModifier = s.evolution.Modifier("cost_modifier_global", 1.0)
	}

	// Regional grade skews yield and the quality split.
	gradeRatios := cloneRatios(sc.GradeRatios)
	var gradeAdjustment *models.GradeAdjustment
	if req.RegionID != "" && s.grader != nil && s.flags != nil && s.flags.Enabled(FlagGradeAdjustment) {
		regionGrade := s.grader.GradeRegion(ctx, req.RegionID)
		if adj, ok := gradeAdjustmentTable[regionGrade.Grade]; ok {
			adj.RegionID = req.RegionID
			gradeAdjustment = &adj
			yieldPer10a *= adj.YieldFactor
			gradeRatios = shiftGradeRatios(gradeRatios, adj.PremiumShift)
			s.metrics.GradeAdjustmentsApplied.Inc()
		}
	}

	yieldPer10a *= yieldMult

	// Tree count: explicit override, otherwise density times area.
	spacing, _ := s.designer.ResolveSpacing(req.Variety, rootstockID, req.RowSpacingM, req.TreeSpacingM)
	trees := int(math.Round(1000.0 * plantableShare / (spacing.RowM * spacing.TreeM) * area10a))
	if req.TotalTrees != nil && *req.TotalTrees > 0 {
		trees = *req.TotalTrees
	}

	price, priceSource := s.prices.priceSourceFor(req.Variety, req.PricePerKg, sc.PricePerKg)
	price *= priceMult

	// Weighted effective price across the quality split.
	gradeFactor := 0.0
	shares := make([]models.GradeShare, 0, len(gradeRatios))
	for _, grade := range []string{models.FruitGradePremium, models.FruitGradeExcellent, models.FruitGradeStandard, models.FruitGradeSubstandard} {
		ratio := gradeRatios[grade]
		mult := gradePriceMultipliers[grade]
		gradeFactor += ratio * mult
		shares = append(shares, models.GradeShare{Grade: grade, Ratio: round4(ratio), PriceMultiplier: mult})
	}
	effectivePrice := price * gradeFactor * farmGate

	fullYield := yieldPer10a * area10a
	annualRevenue := int64(math.Round(fullYield * effectivePrice))
	annualCost := int64(math.Round(float64(baseCostPer10a) * costModifier * area10a))
	annualProfit := annualRevenue - annualCost

	incomeRatio := 0.0
	if annualRevenue > 0 {
		incomeRatio = float64(annualProfit) / float64(annualRevenue)
	}

	// Establishment cost from the chosen rootstock, M26 by default.
	costRootstockID := rootstockID
	if costRootstockID == "" {
		costRootstockID = defaultRootstockID
	}
	rs := rootstocks[costRootstockID]
	investment := int64(trees)*rs.SeedlingCost + int64(math.Round(area10a*float64(rs.InfraCostPer10a)))

	// Cost lines scaled from the per-10a table to the simulated plot.
	scaledCosts := make([]models.CostItem, len(costItems))
	for i, item := range costItems {
		item.Amount = int64(float64(item.AmountPer10a) * area10a)
		scaledCosts[i] = item
	}

	projections := make([]models.YearlyProjection, 0, years)
	cumulative := -investment
	breakEven := 0

	for year := 1; year <= years; year++ {
		ratio := maturityRatio(year)
		revenue := int64(math.Round(float64(annualRevenue) * ratio))
		cost := int64(math.Round(float64(annualCost) * (0.70 + 0.30*ratio)))
		profit := revenue - cost
		cumulative += profit

		if breakEven == 0 && cumulative >= 0 {
			breakEven = year
		}

		projections = append(projections, models.YearlyProjection{
			Year:             year,
			MaturityRatio:    ratio,
			YieldKg:          round2(fullYield * ratio),
			Revenue:          revenue,
			Cost:             cost,
			Profit:           profit,
			CumulativeProfit: cumulative,
		})
	}
	// Not reaching break-even within the horizon reports the last year.
	if breakEven == 0 {
		breakEven = years
	}

	// Return over the horizon: cumulative profit (net of the initial
	// investment) against the initial investment.
	roi := 0.0
	if investment > 0 {
		roi = round4(float64(cumulative) / float64(investment))
	}

	return &models.SimulationResult{
		Variety:           req.Variety,
		AreaPyeong:        req.AreaPyeong,
		AreaM2:            round2(areaM2),
		Area10a:           round4(area10a),
		TotalTrees:        trees,
		YieldPer10aKg:     round2(yieldPer10a),
		FullYieldKg:       round2(fullYield),
		PricePerKg:        price,
		PriceSource:       priceSource,
		FarmGateRatio:     farmGate,
		EffectivePriceKg:  round2(effectivePrice),
		GradeShares:       shares,
		GradeAdjustment:   gradeAdjustment,
		CostItems:         scaledCosts,
		AnnualRevenue:     annualRevenue,
		AnnualCost:        annualCost,
		AnnualProfit:      annualProfit,
		IncomeRatio:       round4(incomeRatio),
		InitialInvestment: investment,
		BreakEvenYear:     breakEven,
		ROI10Year:         roi,
		Projections:       projections,
		GeneratedAt:       time.Now().UTC(),
	}
}

// maturityRatio reads the yield curve, saturating at full yield.
func maturityRatio(year int) float64 {
	if year < 1 {
		return 0
	}
	if ratio, ok := maturityCurve[year]; ok {
		return ratio
	}
	return 1.0
}

// shiftGradeRatios moves share between the premium and substandard slices
// and renormalizes. Premium stays within [0.02, 0.40] and substandard
// within [0.05, 0.40] so no split collapses entirely.
func shiftGradeRatios(ratios map[string]float64, shift float64) map[string]float64 {
	out := cloneRatios(ratios)
	out[models.FruitGradePremium] = clampFloat(out[models.FruitGradePremium]+shift, 0.02, 0.40)
	out[models.FruitGradeSubstandard] = clampFloat(out[models.FruitGradeSubstandard]-shift, 0.05, 0.40)

	sum := 0.0
	for _, r := range out {
		sum += r
	}
	if sum > 0 {
		for k := range out {
			out[k] /= sum
		}
	}
	return out
}

func cloneRatios(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
