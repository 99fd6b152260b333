package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchard-platform/internal/models"
)

// plausibleResult sits comfortably inside every default bound.
func plausibleResult() *models.SimulationResult {
	return &models.SimulationResult{
		YieldPer10aKg: 2400,
		PricePerKg:    5500,
		IncomeRatio:   0.55,
		ROI10Year:     0.8,
		BreakEvenYear: 6,
	}
}

func TestValidateCleanResult(t *testing.T) {
	v := NewValidator(nil, testLogger(), testMetrics())
	assert.Empty(t, v.Validate(plausibleResult()))
}

func TestValidateNotes(t *testing.T) {
	v := NewValidator(nil, testLogger(), testMetrics())

	tests := []struct {
		name         string
		mutate       func(*models.SimulationResult)
		wantField    string
		wantSeverity string
	}{
		{
			name:         "yield too high is refinable",
			mutate:       func(r *models.SimulationResult) { r.YieldPer10aKg = 5200 },
			wantField:    "yield_per_10a",
			wantSeverity: models.SeverityCaution,
		},
		{
			name:         "price too low is refinable",
			mutate:       func(r *models.SimulationResult) { r.PricePerKg = 900 },
			wantField:    "price_per_kg",
			wantSeverity: models.SeverityCaution,
		},
		{
			name:         "income ratio too high is refinable",
			mutate:       func(r *models.SimulationResult) { r.IncomeRatio = 0.95 },
			wantField:    "income_ratio",
			wantSeverity: models.SeverityCaution,
		},
		{
			name:         "over-optimistic roi is refinable",
			mutate:       func(r *models.SimulationResult) { r.ROI10Year = 9.5 },
			wantField:    "roi_10year",
			wantSeverity: models.SeverityCaution,
		},
		{
			name:         "deeply negative roi is a warning",
			mutate:       func(r *models.SimulationResult) { r.ROI10Year = -0.9 },
			wantField:    "roi_10year",
			wantSeverity: models.SeverityWarning,
		},
		{
			name:         "early break-even is refinable severity",
			mutate:       func(r *models.SimulationResult) { r.BreakEvenYear = 1 },
			wantField:    "break_even_year",
			wantSeverity: models.SeverityCaution,
		},
		{
			name:         "late break-even is a warning",
			mutate:       func(r *models.SimulationResult) { r.BreakEvenYear = 22 },
			wantField:    "break_even_year",
			wantSeverity: models.SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := plausibleResult()
			tt.mutate(result)

			notes := v.Validate(result)
			require.Len(t, notes, 1)
			assert.Equal(t, tt.wantField, notes[0].Field)
			assert.Equal(t, tt.wantSeverity, notes[0].Severity)
		})
	}
}

func TestSuggestRefinement(t *testing.T) {
	v := NewValidator(nil, testLogger(), testMetrics())
	req := models.SimulationRequest{Variety: "fuji", AreaPyeong: 1000}

	t.Run("clamps out-of-range yield", func(t *testing.T) {
		result := plausibleResult()
		result.YieldPer10aKg = 5200
		notes := v.Validate(result)

		refined, fields := v.SuggestRefinement(req, result, notes)
		require.NotNil(t, refined)
		assert.Equal(t, []string{"yield_per_10a"}, fields)
		require.NotNil(t, refined.YieldPer10aKg)
		assert.Equal(t, 4000.0, *refined.YieldPer10aKg)
	})

	t.Run("high income ratio shrinks yield", func(t *testing.T) {
		result := plausibleResult()
		result.IncomeRatio = 0.95
		notes := v.Validate(result)

		refined, fields := v.SuggestRefinement(req, result, notes)
		require.NotNil(t, refined)
		assert.Equal(t, []string{"income_ratio"}, fields)
		assert.InDelta(t, result.YieldPer10aKg*0.90, *refined.YieldPer10aKg, 1e-9)
	})

	t.Run("low income ratio boosts yield", func(t *testing.T) {
		result := plausibleResult()
		result.IncomeRatio = 0.05
		notes := v.Validate(result)

		refined, _ := v.SuggestRefinement(req, result, notes)
		require.NotNil(t, refined)
		assert.InDelta(t, result.YieldPer10aKg*1.10, *refined.YieldPer10aKg, 1e-9)
	})

	t.Run("over-optimistic roi shrinks yield", func(t *testing.T) {
		result := plausibleResult()
		result.ROI10Year = 9.5
		notes := v.Validate(result)

		refined, fields := v.SuggestRefinement(req, result, notes)
		require.NotNil(t, refined)
		assert.Equal(t, []string{"roi_10year"}, fields)
		assert.InDelta(t, result.YieldPer10aKg*0.90, *refined.YieldPer10aKg, 1e-9)
	})

	t.Run("warning notes do not trigger refinement", func(t *testing.T) {
		result := plausibleResult()
		result.ROI10Year = -0.9
		result.BreakEvenYear = 22
		notes := v.Validate(result)
		require.Len(t, notes, 2)

		refined, fields := v.SuggestRefinement(req, result, notes)
		assert.Nil(t, refined)
		assert.Nil(t, fields)
	})

	t.Run("original request left untouched", func(t *testing.T) {
		result := plausibleResult()
		result.YieldPer10aKg = 5200
		notes := v.Validate(result)

		_, _ = v.SuggestRefinement(req, result, notes)
		assert.Nil(t, req.YieldPer10aKg)
	})
}

func TestRecordOutcomeWidensBounds(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	v := NewValidator(repo, testLogger(), testMetrics())

	before := v.Config()

	// 25 outcomes, all refined: rate 1.0 > 0.80 once the window passes 20.
	for i := 0; i < 25; i++ {
		v.RecordOutcome(ctx, true, []string{"yield_per_10a"})
	}

	after := v.Config()
	assert.Less(t, after.IncomeRatioMin, before.IncomeRatioMin)
	assert.Greater(t, after.IncomeRatioMax, before.IncomeRatioMax)

	stats := v.Stats()
	assert.Equal(t, 25-20, stats["window_size"], "window resets after widening")

	count, err := repo.CountRecords(ctx, "validator_outcomes")
	require.NoError(t, err)
	assert.Equal(t, 25, count)
}

func TestRangeLearnerScaleBounds(t *testing.T) {
	l := newRangeLearner()
	assert.Equal(t, 1.0, l.scale)

	for i := 0; i < 20; i++ {
		l.observe(1.0)
	}
	assert.Equal(t, 1.5, l.scale, "scale caps at 1.5")

	for i := 0; i < 20; i++ {
		l.observe(0.0)
	}
	assert.Equal(t, 0.5, l.scale, "scale floors at 0.5")
}

func TestClampFloat(t *testing.T) {
	assert.Equal(t, 5.0, clampFloat(3.0, 5.0, 10.0))
	assert.Equal(t, 10.0, clampFloat(12.0, 5.0, 10.0))
	assert.Equal(t, 7.0, clampFloat(7.0, 5.0, 10.0))
}
