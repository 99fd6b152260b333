package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchard-platform/internal/models"
)

func newTestSimulator(t *testing.T) (*SimulationService, *FeatureFlags) {
	t.Helper()
	ctx := context.Background()

	designer := NewOrchardDesigner(testLogger(), testMetrics())
	climate := NewClimateService(nil, testLogger(), testMetrics())
	grader := NewGradingService(climate, testLogger(), testMetrics())
	prices := NewPriceCache(testLogger(), testMetrics())
	flags := NewFeatureFlags(ctx, nil, testLogger())
	validator := NewValidator(nil, testLogger(), testMetrics())
	analytics := NewRunAnalytics(ctx, nil, testLogger())

	svc := NewSimulationService(designer, grader, prices, nil, validator, analytics, flags, testLogger(), testMetrics())
	return svc, flags
}

func TestRunRejectsBadInput(t *testing.T) {
	svc, _ := newTestSimulator(t)
	ctx := context.Background()

	_, err := svc.Run(ctx, models.SimulationRequest{Variety: "fuji", AreaPyeong: 0})
	require.Error(t, err)

	_, err = svc.Run(ctx, models.SimulationRequest{AreaPyeong: 1000})
	require.Error(t, err)

	var valErr *models.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestRunFujiThousandPyeong(t *testing.T) {
	svc, _ := newTestSimulator(t)

	result, err := svc.Run(context.Background(), models.SimulationRequest{
		Variety:    "fuji",
		AreaPyeong: 1000,
	})
	require.NoError(t, err)

	assert.InDelta(t, 3305.8, result.AreaM2, 0.01)
	assert.Equal(t, models.PriceSourceScenario, result.PriceSource)
	assert.Equal(t, 5500.0, result.PricePerKg)
	assert.Equal(t, FarmGateRatio, result.FarmGateRatio)
	assert.Equal(t, result.AnnualRevenue-result.AnnualCost, result.AnnualProfit)
	assert.False(t, result.Refined, "a default run must be plausible without refinement")
	assert.Empty(t, result.ValidationNotes)

	// Cumulative profit over the horizon against the initial investment.
	assert.InDelta(t, 1.56, result.ROI10Year, 0.05)

	assert.GreaterOrEqual(t, result.BreakEvenYear, 3)
	assert.LessOrEqual(t, result.BreakEvenYear, 15)

	// Quality split sums to one.
	shareSum := 0.0
	for _, s := range result.GradeShares {
		shareSum += s.Ratio
	}
	assert.InDelta(t, 1.0, shareSum, 0.001)
}

func TestRunProjectionInvariants(t *testing.T) {
	svc, _ := newTestSimulator(t)

	result, err := svc.Run(context.Background(), models.SimulationRequest{
		Variety:    "hongro",
		AreaPyeong: 800,
	})
	require.NoError(t, err)
	require.Len(t, result.Projections, 10)

	cumulative := -result.InitialInvestment
	prevRatio := -1.0
	for _, p := range result.Projections {
		assert.Equal(t, p.Revenue-p.Cost, p.Profit, "year %d", p.Year)
		cumulative += p.Profit
		assert.Equal(t, cumulative, p.CumulativeProfit, "year %d", p.Year)
		assert.GreaterOrEqual(t, p.MaturityRatio, prevRatio, "maturity must not regress")
		prevRatio = p.MaturityRatio
	}

	assert.Equal(t, 0.0, result.Projections[0].MaturityRatio, "nothing fruits in year 1")
	assert.Equal(t, 1.0, result.Projections[9].MaturityRatio, "full yield by year 10")
}

func TestRunBreakEvenDefaultsToHorizon(t *testing.T) {
	svc, flags := newTestSimulator(t)
	ctx := context.Background()

	_, err := flags.Set(ctx, FlagSelfRefine, false)
	require.NoError(t, err)

	// A loss-making plot never reaches break-even; the last projection
	// year is reported instead.
	price := 2500.0
	yield := 1000.0
	result, err := svc.Run(ctx, models.SimulationRequest{
		Variety:       "fuji",
		AreaPyeong:    1000,
		PricePerKg:    &price,
		YieldPer10aKg: &yield,
	})
	require.NoError(t, err)

	assert.Negative(t, result.AnnualProfit)
	assert.Equal(t, 10, result.BreakEvenYear)
	assert.Negative(t, result.ROI10Year)
}

func TestRunRecordsOutcomeWithoutRefinement(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()

	designer := NewOrchardDesigner(testLogger(), testMetrics())
	climate := NewClimateService(nil, testLogger(), testMetrics())
	grader := NewGradingService(climate, testLogger(), testMetrics())
	prices := NewPriceCache(testLogger(), testMetrics())
	flags := NewFeatureFlags(ctx, nil, testLogger())
	validator := NewValidator(repo, testLogger(), testMetrics())
	analytics := NewRunAnalytics(ctx, nil, testLogger())
	svc := NewSimulationService(designer, grader, prices, nil, validator, analytics, flags, testLogger(), testMetrics())

	_, err := flags.Set(ctx, FlagSelfRefine, false)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Run(ctx, models.SimulationRequest{Variety: "fuji", AreaPyeong: 1000})
		require.NoError(t, err)
	}

	// Every validated run lands in the outcome stream, refined or not.
	count, err := repo.CountRecords(ctx, "validator_outcomes")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunScalesCostItems(t *testing.T) {
	svc, _ := newTestSimulator(t)

	result, err := svc.Run(context.Background(), models.SimulationRequest{
		Variety:    "fuji",
		AreaPyeong: 1000,
	})
	require.NoError(t, err)
	require.Len(t, result.CostItems, 19)

	var total int64
	for _, item := range result.CostItems {
		assert.InDelta(t, float64(item.AmountPer10a)*result.Area10a, float64(item.Amount), 1.0, item.Name)
		total += item.Amount
	}
	// Truncation per line keeps the sum just under the annual cost.
	assert.InDelta(t, float64(result.AnnualCost), float64(total), 20)
}

func TestRunPriceOverride(t *testing.T) {
	svc, _ := newTestSimulator(t)

	price := 7000.0
	result, err := svc.Run(context.Background(), models.SimulationRequest{
		Variety:    "fuji",
		AreaPyeong: 1000,
		PricePerKg: &price,
	})
	require.NoError(t, err)

	assert.Equal(t, models.PriceSourceUser, result.PriceSource)
	assert.Equal(t, 7000.0, result.PricePerKg)
}

func TestRunUsesLiveQuoteOverScenario(t *testing.T) {
	svc, _ := newTestSimulator(t)
	ctx := context.Background()

	svc.prices.UpdateQuotes(ctx, "fuji", []float64{6100, 6200, 6300})

	result, err := svc.Run(ctx, models.SimulationRequest{Variety: "fuji", AreaPyeong: 1000})
	require.NoError(t, err)

	assert.Equal(t, models.PriceSourceMarket, result.PriceSource)
	assert.Equal(t, 6200.0, result.PricePerKg, "median quote")
}

func TestRunGradeAdjustment(t *testing.T) {
	svc, flags := newTestSimulator(t)
	ctx := context.Background()

	base, err := svc.Run(ctx, models.SimulationRequest{Variety: "fuji", AreaPyeong: 1000})
	require.NoError(t, err)

	regional, err := svc.Run(ctx, models.SimulationRequest{Variety: "fuji", AreaPyeong: 1000, RegionID: "yeongju"})
	require.NoError(t, err)

	require.NotNil(t, regional.GradeAdjustment)
	assert.Equal(t, "yeongju", regional.GradeAdjustment.RegionID)
	assert.InDelta(t, base.YieldPer10aKg*regional.GradeAdjustment.YieldFactor, regional.YieldPer10aKg, 0.01)

	// With the flag off the region is ignored.
	_, err = flags.Set(ctx, FlagGradeAdjustment, false)
	require.NoError(t, err)

	plain, err := svc.Run(ctx, models.SimulationRequest{Variety: "fuji", AreaPyeong: 1000, RegionID: "yeongju"})
	require.NoError(t, err)
	assert.Nil(t, plain.GradeAdjustment)
}

func TestCompareScenarioOrdering(t *testing.T) {
	svc, _ := newTestSimulator(t)

	comparison, err := svc.Compare(context.Background(), models.SimulationRequest{
		Variety:    "gamhong",
		AreaPyeong: 1200,
	})
	require.NoError(t, err)
	require.Len(t, comparison.Scenarios, 3)

	byName := make(map[string]models.ScenarioOutcome)
	for _, sc := range comparison.Scenarios {
		byName[sc.Scenario] = sc
	}

	opt := byName["optimistic"].Result
	neu := byName["neutral"].Result
	pes := byName["pessimistic"].Result

	assert.Greater(t, opt.AnnualProfit, neu.AnnualProfit)
	assert.Greater(t, neu.AnnualProfit, pes.AnnualProfit)
	assert.Greater(t, opt.ROI10Year, neu.ROI10Year)
	assert.Greater(t, neu.ROI10Year, pes.ROI10Year)

	assert.NotEmpty(t, comparison.Recommendation)
}

func TestBuildRecommendation(t *testing.T) {
	res := func(profit int64, breakEven int) models.SimulationResult {
		return models.SimulationResult{AnnualProfit: profit, BreakEvenYear: breakEven}
	}

	tests := []struct {
		name        string
		neutral     models.SimulationResult
		pessimistic models.SimulationResult
		wantParts   []string
	}{
		{
			name:        "profitable downside with fast break-even",
			neutral:     res(9000000, 4),
			pessimistic: res(1500000, 6),
			wantParts:   []string{"stable choice", "fast side"},
		},
		{
			name:        "profitable only in neutral",
			neutral:     res(5000000, 7),
			pessimistic: res(-800000, 10),
			wantParts:   []string{"market downturn", "about 7 years"},
		},
		{
			name:        "deficit everywhere with slow break-even",
			neutral:     res(-2000000, 10),
			pessimistic: res(-4000000, 10),
			wantParts:   []string{"careful review", "long-term view"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := buildRecommendation("fuji", tt.neutral, tt.pessimistic)
			for _, part := range tt.wantParts {
				assert.Contains(t, rec, part)
			}
		})
	}
}

func TestCompareDisabledByFlag(t *testing.T) {
	svc, flags := newTestSimulator(t)
	ctx := context.Background()

	_, err := flags.Set(ctx, FlagMultiScenario, false)
	require.NoError(t, err)

	_, err = svc.Compare(ctx, models.SimulationRequest{Variety: "fuji", AreaPyeong: 1000})
	require.Error(t, err)
}

func TestRunRefinementIsIdempotent(t *testing.T) {
	svc, _ := newTestSimulator(t)

	// Implausibly low yield triggers exactly one refined re-run; the
	// clamped result passes the refinable checks on re-validation.
	yield := 800.0
	price := 9000.0
	result, err := svc.Run(context.Background(), models.SimulationRequest{
		Variety:       "fuji",
		AreaPyeong:    1000,
		YieldPer10aKg: &yield,
		PricePerKg:    &price,
	})
	require.NoError(t, err)

	assert.True(t, result.Refined)
	assert.Equal(t, []string{"yield_per_10a"}, result.RefinedFields)
	assert.Equal(t, 1000.0, result.YieldPer10aKg, "clamped to the plausible minimum")

	for _, note := range result.ValidationNotes {
		assert.NotEqual(t, models.SeverityCaution, note.Severity,
			"a refined result must not ask for another refinement")
	}
}

func TestRunUnknownVarietyFallback(t *testing.T) {
	svc, _ := newTestSimulator(t)

	result, err := svc.Run(context.Background(), models.SimulationRequest{
		Variety:    "mystery-apple",
		AreaPyeong: 1000,
	})
	require.NoError(t, err)

	assert.Equal(t, models.PriceSourceScenario, result.PriceSource)
	assert.Equal(t, 5500.0, result.PricePerKg, "unknown varieties price like fuji")
	assert.GreaterOrEqual(t, result.YieldPer10aKg, 1500.0)
	assert.LessOrEqual(t, result.YieldPer10aKg, 3000.0)
}

func TestGradeAdjustmentOrdering(t *testing.T) {
	s := gradeAdjustmentTable[models.GradeS]
	a := gradeAdjustmentTable[models.GradeA]
	b := gradeAdjustmentTable[models.GradeB]
	c := gradeAdjustmentTable[models.GradeC]

	assert.Equal(t, 1.10, s.YieldFactor)
	assert.Equal(t, 0.75, c.YieldFactor)
	assert.Greater(t, s.YieldFactor, a.YieldFactor)
	assert.Greater(t, a.YieldFactor, b.YieldFactor)
	assert.Greater(t, b.YieldFactor, c.YieldFactor)

	// The premium shift pushes the weighted price the same direction.
	base := scenarios["fuji"].GradeRatios
	weighted := func(ratios map[string]float64) float64 {
		sum := 0.0
		for grade, ratio := range ratios {
			sum += ratio * gradePriceMultipliers[grade]
		}
		return sum
	}
	assert.Greater(t, weighted(shiftGradeRatios(base, s.PremiumShift)), weighted(shiftGradeRatios(base, c.PremiumShift)))
}

func TestCostTable(t *testing.T) {
	svc, _ := newTestSimulator(t)

	items := svc.CostTable()
	require.Len(t, items, 19)

	var total int64
	categories := make(map[string]bool)
	for _, item := range items {
		assert.Greater(t, item.AmountPer10a, int64(0), item.Name)
		total += item.AmountPer10a
		categories[item.Category] = true
	}

	assert.Equal(t, int64(baseCostPer10a), total, "cost table must sum to the base annual cost")
	assert.Len(t, categories, 3)
}

func TestShiftGradeRatios(t *testing.T) {
	ratios := map[string]float64{
		models.FruitGradePremium:     0.15,
		models.FruitGradeExcellent:   0.35,
		models.FruitGradeStandard:    0.35,
		models.FruitGradeSubstandard: 0.15,
	}

	shifted := shiftGradeRatios(ratios, 0.05)

	sum := 0.0
	for _, r := range shifted {
		sum += r
	}
	assert.InDelta(t, 1.0, sum, 1e-9, "shift must renormalize")
	assert.Greater(t, shifted[models.FruitGradePremium], ratios[models.FruitGradePremium])
	assert.Less(t, shifted[models.FruitGradeSubstandard], ratios[models.FruitGradeSubstandard])

	// Large negative shift cannot wipe out the premium slice.
	crushed := shiftGradeRatios(ratios, -0.5)
	assert.GreaterOrEqual(t, crushed[models.FruitGradePremium], 0.01)
}

func TestMaturityRatio(t *testing.T) {
	assert.Equal(t, 0.0, maturityRatio(0))
	assert.Equal(t, 0.0, maturityRatio(1))
	assert.Equal(t, 0.10, maturityRatio(3))
	assert.Equal(t, 1.0, maturityRatio(9))
	assert.Equal(t, 1.0, maturityRatio(25), "beyond the curve stays at full yield")
}
