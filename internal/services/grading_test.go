package services

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchard-platform/internal/models"
)

func newTestGrader() *GradingService {
	climate := NewClimateService(nil, testLogger(), testMetrics())
	return NewGradingService(climate, testLogger(), testMetrics())
}

func TestGradeWeightsSumToOne(t *testing.T) {
	sum := weightMeanTemp + weightGDD + weightFrostFree + weightRainfall + weightAugNight
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestGaussianScore(t *testing.T) {
	assert.InDelta(t, 100.0, gaussianScore(11.5, 11.5, 1.5), 1e-9, "optimum scores full marks")
	assert.Less(t, gaussianScore(14.5, 11.5, 1.5), gaussianScore(13.0, 11.5, 1.5), "further from optimum scores lower")
	assert.InDelta(t, gaussianScore(10.0, 11.5, 1.5), gaussianScore(13.0, 11.5, 1.5), 1e-9, "symmetric around optimum")
}

func TestFrostFreeScore(t *testing.T) {
	tests := []struct {
		name string
		days float64
		want float64
	}{
		{name: "ideal season", days: 190, want: 100},
		{name: "long season costs little", days: 220, want: 91},
		{name: "short season costs a lot", days: 170, want: 60},
		{name: "very short season floors", days: 50, want: 10},
		{name: "very long season floors", days: 400, want: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, frostFreeScore(tt.days), 1e-9)
		})
	}
}

func TestAugNightScoreMissingValueIsNeutral(t *testing.T) {
	assert.Equal(t, 50.0, augNightScore(nil))

	temp := 19.0
	assert.InDelta(t, 100.0, augNightScore(&temp), 1e-9)
}

func TestGradeForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{90, models.GradeS},
		{89.99, models.GradeA},
		{75, models.GradeA},
		{74.99, models.GradeB},
		{60, models.GradeB},
		{59.99, models.GradeC},
		{0, models.GradeC},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, gradeForScore(tt.score), "score %.2f", tt.score)
	}
}

func TestGradeRegion(t *testing.T) {
	grader := newTestGrader()
	grade := grader.GradeRegion(context.Background(), "yeongju")

	assert.Equal(t, "yeongju", grade.RegionID)
	assert.Equal(t, "Yeongju", grade.RegionName)
	require.Len(t, grade.Factors, 5)
	assert.GreaterOrEqual(t, grade.TotalScore, 0.0)
	assert.LessOrEqual(t, grade.TotalScore, 100.0)
	assert.Contains(t, []string{models.GradeS, models.GradeA, models.GradeB, models.GradeC}, grade.Grade)

	weightSum := 0.0
	for _, f := range grade.Factors {
		weightSum += f.Weight
		assert.GreaterOrEqual(t, f.Score, 0.0, "factor %s", f.Name)
		assert.LessOrEqual(t, f.Score, 100.0, "factor %s", f.Name)
		assert.NotEmpty(t, f.Description, "factor %s", f.Name)
	}
	assert.InDelta(t, 1.0, weightSum, 1e-9)
}

func TestNormalsToDaily(t *testing.T) {
	climate := NewClimateService(nil, testLogger(), testMetrics())
	normals := climate.Normals("yeongju")

	daily := normalsToDaily(normals)
	require.Len(t, daily, 366, "reference year is a leap year")
	assert.Equal(t, "2024-01-01", daily[0].Date)
	assert.Equal(t, "2024-12-31", daily[len(daily)-1].Date)

	// January days carry the monthly normal, rainfall spread over 31 days.
	jan := normals[0]
	assert.Equal(t, jan.MinTempC, daily[0].MinTempC)
	assert.Equal(t, jan.MaxTempC, daily[0].MaxTempC)
	assert.InDelta(t, jan.RainfallMM/31.0, daily[0].RainfallMM, 0.05)
}

func TestGradeRegionScoresTheDailyExpansion(t *testing.T) {
	grader := newTestGrader()
	grade := grader.GradeRegion(context.Background(), "yeongju")

	daily := normalsToDaily(grader.climate.Normals("yeongju"))
	acc := AccumulatedGDD(daily, BaseTempC)
	require.NotEmpty(t, acc)

	byName := make(map[string]models.GradeFactor)
	for _, f := range grade.Factors {
		byName[f.Name] = f
	}

	assert.InDelta(t, math.Round(acc[len(acc)-1]), byName["growing_degree_days"].RawValue, 1e-9)
	assert.Equal(t, float64(365-CountFrostDays(daily, 0.0)), byName["frost_free_days"].RawValue)
}

func TestGradeAllSortedBestFirst(t *testing.T) {
	grader := newTestGrader()
	grades := grader.GradeAll(context.Background())

	require.Len(t, grades, 10)
	for i := 1; i < len(grades); i++ {
		assert.GreaterOrEqual(t, grades[i-1].TotalScore, grades[i].TotalScore)
	}
}

func TestWarmerOffsetChangesGrade(t *testing.T) {
	grader := newTestGrader()
	ctx := context.Background()

	cool := grader.GradeRegion(ctx, "jangsu") // offset -0.8
	warm := grader.GradeRegion(ctx, "yesan")  // offset +1.2

	assert.NotEqual(t, cool.TotalScore, warm.TotalScore, "temperature offset must move the score")
}
