package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchard-platform/internal/models"
	"orchard-platform/internal/repository"
)

func newTestForecast(repo repository.StateRepository) *ForecastService {
	climate := NewClimateService(repo, testLogger(), testMetrics())
	return NewForecastService(climate, repo, testLogger(), testMetrics())
}

// monthDays builds len days all within one month of 2023.
func monthDays(month, count int, minC, maxC, rainMM float64) []models.DailyClimateRecord {
	days := make([]models.DailyClimateRecord, count)
	for i := range days {
		days[i] = models.DailyClimateRecord{
			Date:       fmt.Sprintf("2023-%02d-%02d", month, i+1),
			MinTempC:   minC,
			MaxTempC:   maxC,
			RainfallMM: rainMM,
		}
	}
	return days
}

func TestForecastLabel(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{95, models.ForecastBountiful},
		{80, models.ForecastBountiful},
		{79.9, models.ForecastAverage},
		{60, models.ForecastAverage},
		{59.9, models.ForecastPoor},
		{40, models.ForecastPoor},
		{39.9, models.ForecastFailed},
		{0, models.ForecastFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, forecastLabel(tt.score), "score %.1f", tt.score)
	}
}

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, models.RiskLow, riskLevel(2, 3, 8))
	assert.Equal(t, models.RiskModerate, riskLevel(3, 3, 8))
	assert.Equal(t, models.RiskModerate, riskLevel(7.9, 3, 8))
	assert.Equal(t, models.RiskHigh, riskLevel(8, 3, 8))
}

func TestOverallVerdict(t *testing.T) {
	item := func(level string) models.RiskItem { return models.RiskItem{Level: level} }

	tests := []struct {
		name           string
		items          []models.RiskItem
		want           string
		wantConfidence float64
	}{
		{"all low", []models.RiskItem{item(models.RiskLow), item(models.RiskLow)}, models.VerdictSafe, 100},
		{"one moderate", []models.RiskItem{item(models.RiskModerate), item(models.RiskLow)}, models.VerdictSafe, 95},
		{"two moderates", []models.RiskItem{item(models.RiskModerate), item(models.RiskModerate)}, models.VerdictCaution, 84},
		{"one high", []models.RiskItem{item(models.RiskHigh), item(models.RiskLow)}, models.VerdictCaution, 80},
		{"two highs", []models.RiskItem{item(models.RiskHigh), item(models.RiskHigh)}, models.VerdictWarning, 50},
		{"all four high floors at zero", []models.RiskItem{item(models.RiskHigh), item(models.RiskHigh), item(models.RiskHigh), item(models.RiskHigh)}, models.VerdictWarning, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, confidence := overallVerdict(tt.items)
			assert.Equal(t, tt.want, verdict)
			assert.InDelta(t, tt.wantConfidence, confidence, 1e-9)
		})
	}
}

func TestGDDDeviationScore(t *testing.T) {
	normal := models.ClimateNormal{Month: 5, MinTempC: 10, MaxTempC: 20}

	t.Run("on normal", func(t *testing.T) {
		days := monthDays(5, 31, 10, 20, 0)
		assert.Equal(t, 25.0, gddDeviationScore(days, normal))
	})

	t.Run("mild deviation", func(t *testing.T) {
		// (16-5)=11 GDD/day vs 10 normal: 10% off.
		days := monthDays(5, 31, 11, 21, 0)
		assert.Equal(t, 20.0, gddDeviationScore(days, normal))
	})

	t.Run("severe deviation", func(t *testing.T) {
		days := monthDays(5, 31, 20, 30, 0)
		assert.Equal(t, 5.0, gddDeviationScore(days, normal))
	})

	t.Run("dormant month", func(t *testing.T) {
		frozen := models.ClimateNormal{Month: 1, MinTempC: -8, MaxTempC: 2}
		assert.Equal(t, 25.0, gddDeviationScore(monthDays(1, 31, -8, 2, 0), frozen))
		assert.Equal(t, 15.0, gddDeviationScore(monthDays(1, 31, 5, 15, 0), frozen))
	})
}

func TestFrostDayScore(t *testing.T) {
	t.Run("no frost", func(t *testing.T) {
		assert.Equal(t, 25.0, frostDayScore(monthDays(5, 30, 5, 15, 0), 5))
	})

	t.Run("a couple of frost days", func(t *testing.T) {
		days := monthDays(5, 30, 5, 15, 0)
		days[0].MinTempC = -1
		days[1].MinTempC = 0
		assert.Equal(t, 20.0, frostDayScore(days, 5))
	})

	t.Run("april frost counts double", func(t *testing.T) {
		days := monthDays(4, 30, 5, 15, 0)
		days[0].MinTempC = -1
		days[1].MinTempC = -2
		assert.Equal(t, 15.0, frostDayScore(days, 4))
	})
}

func TestRainRatioScore(t *testing.T) {
	normal := models.ClimateNormal{Month: 7, RainfallMM: 300}

	tests := []struct {
		rainPerDay float64
		want       float64
	}{
		{10, 25},  // 310mm, ratio ~1.03
		{6, 20},   // 186mm, ratio 0.62
		{3.5, 12}, // 108.5mm, ratio ~0.36
		{30, 5},   // 930mm, ratio 3.1
	}
	for _, tt := range tests {
		days := monthDays(7, 31, 22, 30, tt.rainPerDay)
		assert.Equal(t, tt.want, rainRatioScore(days, normal), "%.1fmm/day", tt.rainPerDay)
	}

	assert.Equal(t, 25.0, rainRatioScore(monthDays(1, 31, -5, 3, 0), models.ClimateNormal{Month: 1, RainfallMM: 0}))
}

func TestExtremeTempScore(t *testing.T) {
	t.Run("summer heat penalizes per degree of average", func(t *testing.T) {
		// Month averaging 34°C highs: 1°C past the damage point costs 3.
		days := monthDays(7, 31, 24, 34, 0)
		assert.InDelta(t, 22.0, extremeTempScore(days, 7), 1e-9)
	})

	t.Run("summer heat penalty is capped", func(t *testing.T) {
		days := monthDays(8, 31, 28, 41, 0)
		assert.InDelta(t, 5.0, extremeTempScore(days, 8), 1e-9)
	})

	t.Run("ordinary summer highs cost nothing", func(t *testing.T) {
		days := monthDays(7, 31, 22, 30, 0)
		days[0].MaxTempC = 35 // one hot day barely moves the average
		assert.InDelta(t, 25.0, extremeTempScore(days, 7), 1e-9)
	})

	t.Run("deep winter cold", func(t *testing.T) {
		days := monthDays(1, 31, -17, -3, 0)
		assert.InDelta(t, 21.0, extremeTempScore(days, 1), 1e-9)
	})

	t.Run("april freeze", func(t *testing.T) {
		days := monthDays(4, 30, -2, 12, 0)
		assert.InDelta(t, 15.0, extremeTempScore(days, 4), 1e-9)
	})

	t.Run("quiet month", func(t *testing.T) {
		assert.Equal(t, 25.0, extremeTempScore(monthDays(5, 31, 10, 20, 0), 5))
		assert.Equal(t, 25.0, extremeTempScore(nil, 7))
	})
}

func TestSolveLinear(t *testing.T) {
	t.Run("known system", func(t *testing.T) {
		// 2x + y = 5, x + 3y = 10 -> x = 1, y = 3.
		a := [][]float64{{2, 1}, {1, 3}}
		b := []float64{5, 10}
		x, ok := solveLinear(a, b)
		require.True(t, ok)
		assert.InDelta(t, 1.0, x[0], 1e-9)
		assert.InDelta(t, 3.0, x[1], 1e-9)
	})

	t.Run("singular system", func(t *testing.T) {
		a := [][]float64{{1, 2}, {2, 4}}
		b := []float64{3, 6}
		_, ok := solveLinear(a, b)
		assert.False(t, ok)
	})
}

func trainingSamples(n int) []models.TrainingSample {
	samples := make([]models.TrainingSample, n)
	for i := range samples {
		gdd := 3000.0 + float64(i)*60
		samples[i] = models.TrainingSample{
			TotalGDD:       gdd,
			FrostDays:      float64(20 + i),
			BloomFrostDays: float64(i % 3),
			HeatStressDays: float64(10 + i*2),
			SummerRainMM:   600 + float64(i)*25,
			AugNightTemp:   18.5 + float64(i)*0.3,
			BloomDateDOY:   105 + float64(i),
			YieldPer10aKg:  1800 + gdd*0.1,
		}
	}
	return samples
}

func TestTrainModel(t *testing.T) {
	repo := newMemoryRepository()
	forecast := newTestForecast(repo)
	ctx := context.Background()

	t.Run("rejects too few samples", func(t *testing.T) {
		_, err := forecast.TrainModel(ctx, "yeongju", trainingSamples(4))
		var vErr *models.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "samples", vErr.Field)
	})

	t.Run("trains and persists", func(t *testing.T) {
		model, err := forecast.TrainModel(ctx, "yeongju", trainingSamples(8))
		require.NoError(t, err)
		assert.Equal(t, "yeongju", model.RegionID)
		assert.Equal(t, 8, model.Samples)
		assert.Len(t, model.Coefficients, len(featureNames))
		for _, name := range featureNames {
			assert.Contains(t, model.Coefficients, name)
		}

		loaded, err := forecast.Model(ctx, "yeongju")
		require.NoError(t, err)
		assert.Equal(t, model.Intercept, loaded.Intercept)
		assert.Equal(t, model.Coefficients, loaded.Coefficients)
	})

	t.Run("missing model is not found", func(t *testing.T) {
		_, err := forecast.Model(ctx, "andong")
		var nfErr *repository.NotFoundError
		assert.ErrorAs(t, err, &nfErr)
	})
}

func TestAnnualForecast(t *testing.T) {
	repo := newMemoryRepository()
	forecast := newTestForecast(repo)
	ctx := context.Background()

	result := forecast.AnnualForecast(ctx, "yeongju", 2023)
	assert.Equal(t, "yeongju", result.RegionID)
	assert.Equal(t, 2023, result.Year)
	require.Len(t, result.Monthly, 12)

	for _, m := range result.Monthly {
		assert.InDelta(t, m.GDDScore+m.FrostScore+m.RainScore+m.ExtremeScore, m.Total, 1e-9)
		assert.GreaterOrEqual(t, m.Total, 0.0)
		assert.LessOrEqual(t, m.Total, 100.0)
	}

	assert.GreaterOrEqual(t, result.Score, 0.0)
	assert.LessOrEqual(t, result.Score, 100.0)
	assert.Equal(t, forecastLabel(result.Score), result.Label)
	assert.NotEmpty(t, result.Recommendation)
	assert.Contains(t, result.Recommendation, result.Label)
	assert.Nil(t, result.ModelYieldKg, "no model trained yet")

	_, err := forecast.TrainModel(ctx, "yeongju", trainingSamples(8))
	require.NoError(t, err)
	withModel := forecast.AnnualForecast(ctx, "yeongju", 2023)
	require.NotNil(t, withModel.ModelYieldKg)
	assert.GreaterOrEqual(t, *withModel.ModelYieldKg, 0.0)
}

func TestGDDProgress(t *testing.T) {
	repo := newMemoryRepository()
	forecast := newTestForecast(repo)

	progress := forecast.GDDProgress(context.Background(), "yeongju", 2023)
	assert.Equal(t, "2023-12-31", progress.AsOf)
	assert.Greater(t, progress.AccumulatedGDD, 0.0)
	assert.Greater(t, progress.NormalGDD, 0.0)
	assert.Greater(t, progress.PercentOfNormal, 0.0)

	for i := 1; i < len(progress.Blooms); i++ {
		assert.LessOrEqual(t, progress.Blooms[i-1].DayOfYear, progress.Blooms[i].DayOfYear, "blooms sorted by day of year")
	}
}

func TestVarietyRisks(t *testing.T) {
	repo := newMemoryRepository()
	forecast := newTestForecast(repo)

	risks := forecast.VarietyRisks(context.Background(), "yeongju", 2023)
	require.Len(t, risks, len(varietyPhenology))

	varieties := make([]string, len(risks))
	for i, r := range risks {
		varieties[i] = r.Variety
		require.Len(t, r.Items, 4)
		assert.Equal(t, "frost", r.Items[0].Name)
		assert.Equal(t, "heat", r.Items[1].Name)
		assert.Equal(t, "rain", r.Items[2].Name)
		assert.Equal(t, "disease", r.Items[3].Name)
		assert.Contains(t, []string{models.VerdictSafe, models.VerdictCaution, models.VerdictWarning}, r.Overall)
		assert.GreaterOrEqual(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 100.0)
		if r.Overall == models.VerdictSafe {
			assert.GreaterOrEqual(t, r.Confidence, 60.0, "%s", r.Variety)
		}
	}
	assert.Equal(t, sortedVarieties(), varieties)
}

func TestForecastRecommendation(t *testing.T) {
	risks := []models.VarietyRisk{
		{Variety: "fuji", Overall: models.VerdictSafe},
		{Variety: "gala", Overall: models.VerdictWarning},
		{Variety: "hongro", Overall: models.VerdictCaution},
	}

	t.Run("favorable season", func(t *testing.T) {
		msg := forecastRecommendation(85, models.ForecastBountiful, risks)
		assert.Contains(t, msg, "favorable")
		assert.Contains(t, msg, "Safe varieties: fuji.")
		assert.Contains(t, msg, "Warning varieties: gala")
		assert.NotContains(t, msg, "hongro", "caution varieties are not singled out")
	})

	t.Run("failed season", func(t *testing.T) {
		msg := forecastRecommendation(20, models.ForecastFailed, nil)
		assert.Contains(t, msg, "Exceptional caution")
		assert.NotContains(t, msg, "Safe varieties")
	})
}
