package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"orchard-platform/internal/models"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// Factor weights of the suitability grade. They sum to 1.
const (
	weightMeanTemp  = 0.25
	weightGDD       = 0.25
	weightFrostFree = 0.20
	weightRainfall  = 0.15
	weightAugNight  = 0.15
)

// GradingService grades regions for apple suitability from their climate
// normals.
type GradingService struct {
	climate *ClimateService
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewGradingService creates a new grading service
func NewGradingService(climate *ClimateService, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *GradingService {
	return &GradingService{
		climate: climate,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// gaussianScore maps a raw value onto 0..100 by distance from an optimum.
func gaussianScore(value, optimum, sigma float64) float64 {
	d := (value - optimum) / sigma
	return 100.0 * math.Exp(-0.5*d*d)
}

// frostFreeScore scores the frost-free season length. Apples need roughly
// 190 days; a longer season costs a little dormancy quality, a shorter one
// costs a lot of fruit.
func frostFreeScore(days float64) float64 {
	if days >= 190 {
		score := 100.0 - 0.3*(days-190)
		if score < 60 {
			score = 60
		}
		return score
	}
	score := 100.0 - 2.0*(190-days)
	if score < 10 {
		score = 10
	}
	return score
}

// GradeRegion grades one region. Unknown regions are graded against the
// unshifted reference normals.
func (s *GradingService) GradeRegion(ctx context.Context, regionID string) models.RegionGrade {
	timer := time.Now()
	normals := s.climate.Normals(regionID)

	// The daily phenology functions run on the normals spread over a
	// reference year, so GDD and frost counting share one code path with
	// the real daily series.
	daily := normalsToDaily(normals)

	meanTemp := round1(annualMeanTemp(normals))

	totalGDD := 0.0
	if acc := AccumulatedGDD(daily, BaseTempC); len(acc) > 0 {
		totalGDD = math.Round(acc[len(acc)-1])
	}

	frostDays := CountFrostDays(daily, 0.0)
	frostFree := 365 - frostDays

	rainfall := math.Round(annualRainfall(normals))

	var augNight *float64
	augNightRaw := 0.0
	augNightDesc := "N/A (optimum 18-22°C)"
	if v, ok := AugustNightTemp(daily); ok {
		augNight = &v
		augNightRaw = v
		augNightDesc = fmt.Sprintf("%.1f°C (optimum 18-22°C)", v)
	}

	factors := []models.GradeFactor{
		{Name: "annual_mean_temp", RawValue: meanTemp, Score: gaussianScore(meanTemp, 11.5, 1.5), Weight: weightMeanTemp,
			Description: fmt.Sprintf("%.1f°C (optimum 11-13°C)", meanTemp)},
		{Name: "growing_degree_days", RawValue: totalGDD, Score: gaussianScore(totalGDD, 3200, 300), Weight: weightGDD,
			Description: fmt.Sprintf("%.0f GDD (optimum 3,000-3,500)", totalGDD)},
		{Name: "frost_free_days", RawValue: float64(frostFree), Score: frostFreeScore(float64(frostFree)), Weight: weightFrostFree,
			Description: fmt.Sprintf("%d frost-free days (%d frost days)", frostFree, frostDays)},
		{Name: "annual_rainfall", RawValue: rainfall, Score: gaussianScore(rainfall, 1050, 250), Weight: weightRainfall,
			Description: fmt.Sprintf("%.0fmm (optimum 800-1,200mm)", rainfall)},
		{Name: "august_night_temp", RawValue: augNightRaw, Score: augNightScore(augNight), Weight: weightAugNight,
			Description: augNightDesc},
	}

	total := 0.0
	for _, f := range factors {
		total += f.Score * f.Weight
	}

	name := regionID
	if r, ok := s.climate.Region(regionID); ok {
		name = r.Name
	}

	grade := models.RegionGrade{
		RegionID:   regionID,
		RegionName: name,
		Grade:      gradeForScore(total),
		TotalScore: round2(total),
		Factors:    factors,
	}

	s.metrics.ProcessingTimeMS.WithLabelValues("grade_region").Observe(float64(time.Since(timer).Milliseconds()))
	s.logger.Debug(ctx, "[GRADING] Region graded", logging.Fields{
		"region_id": regionID,
		"grade":     grade.Grade,
		"score":     grade.TotalScore,
	})

	return grade
}

// GradeAll grades every known region, best score first.
func (s *GradingService) GradeAll(ctx context.Context) []models.RegionGrade {
	grades := make([]models.RegionGrade, 0, len(s.climate.Regions()))
	for _, r := range s.climate.Regions() {
		grades = append(grades, s.GradeRegion(ctx, r.ID))
	}
	sort.Slice(grades, func(i, j int) bool {
		return grades[i].TotalScore > grades[j].TotalScore
	})
	return grades
}

// augNightScore scores the August night temperature, the coloration driver.
// A missing value scores a neutral 50 rather than penalizing the region.
func augNightScore(tempC *float64) float64 {
	if tempC == nil {
		return 50.0
	}
	return gaussianScore(*tempC, 19.0, 2.0)
}

// gradeForScore maps a total score onto the letter grade.
func gradeForScore(score float64) string {
	switch {
	case score >= 90:
		return models.GradeS
	case score >= 75:
		return models.GradeA
	case score >= 60:
		return models.GradeB
	default:
		return models.GradeC
	}
}

func annualMeanTemp(normals []models.ClimateNormal) float64 {
	sum := 0.0
	for _, n := range normals {
		sum += (n.MinTempC + n.MaxTempC) / 2.0
	}
	return sum / float64(len(normals))
}

// normalsAnnualGDD approximates annual GDD from monthly normals by treating
// each month as 30.4 identical days.
func normalsAnnualGDD(normals []models.ClimateNormal) float64 {
	total := 0.0
	for _, n := range normals {
		total += DailyGDD(n.MinTempC, n.MaxTempC, BaseTempC) * 30.4
	}
	return total
}

// normalsToDaily spreads monthly normals over a reference leap year so the
// daily phenology functions apply. Rainfall is split evenly across each
// month's calendar days.
func normalsToDaily(normals []models.ClimateNormal) []models.DailyClimateRecord {
	const referenceYear = 2024
	out := make([]models.DailyClimateRecord, 0, 366)
	for _, n := range normals {
		days := time.Date(referenceYear, time.Month(n.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
		dailyRain := round1(n.RainfallMM / float64(days))
		for d := 1; d <= days; d++ {
			out = append(out, models.DailyClimateRecord{
				Date:       time.Date(referenceYear, time.Month(n.Month), d, 0, 0, 0, 0, time.UTC).Format(dateLayout),
				MinTempC:   n.MinTempC,
				MaxTempC:   n.MaxTempC,
				RainfallMM: dailyRain,
			})
		}
	}
	return out
}

func annualRainfall(normals []models.ClimateNormal) float64 {
	total := 0.0
	for _, n := range normals {
		total += n.RainfallMM
	}
	return total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
