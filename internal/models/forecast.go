package models

import (
	"time"
)

// Seasonal forecast labels.
const (
	ForecastBountiful = "bountiful"
	ForecastAverage   = "average"
	ForecastPoor      = "poor"
	ForecastFailed    = "failed"
)

// Risk levels for individual hazards and the overall variety verdict.
const (
	RiskLow      = "low"
	RiskModerate = "moderate"
	RiskHigh     = "high"

	VerdictSafe    = "safe"
	VerdictCaution = "caution"
	VerdictWarning = "warning"
)

// MonthlyScore is one month of the season forecast with its component
// sub-scores, each out of 25.
type MonthlyScore struct {
	Month        int     `json:"month"`
	Weight       float64 `json:"weight"`
	GDDScore     float64 `json:"gdd_score"`
	FrostScore   float64 `json:"frost_score"`
	RainScore    float64 `json:"rain_score"`
	ExtremeScore float64 `json:"extreme_score"`
	Total        float64 `json:"total"`
}

// AnnualForecast is the season outlook for one region and year.
type AnnualForecast struct {
	RegionID       string         `json:"region_id"`
	Year           int            `json:"year"`
	Score          float64        `json:"score"`
	Label          string         `json:"label"`
	Monthly        []MonthlyScore `json:"monthly"`
	ModelYieldKg   *float64       `json:"model_yield_per_10a_kg,omitempty"`
	Recommendation string         `json:"recommendation"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// BloomPrediction is the heat-accumulation bloom date for one variety.
type BloomPrediction struct {
	Variety       string `json:"variety"`
	PredictedDate string `json:"predicted_date"`
	DayOfYear     int    `json:"day_of_year"`
}

// GDDProgress reports season-to-date heat accumulation against normal.
type GDDProgress struct {
	RegionID        string            `json:"region_id"`
	Year            int               `json:"year"`
	AsOf            string            `json:"as_of"`
	AccumulatedGDD  float64           `json:"accumulated_gdd"`
	NormalGDD       float64           `json:"normal_gdd"`
	PercentOfNormal float64           `json:"percent_of_normal"`
	Blooms          []BloomPrediction `json:"blooms"`
}

// RiskItem is one hazard scored for a variety.
type RiskItem struct {
	Name  string  `json:"name"`
	Level string  `json:"level"`
	Score float64 `json:"score"`
}

// VarietyRisk is the per-variety hazard assessment for a season. The
// confidence score grades how comfortably the variety clears its hazards,
// 100 being untroubled.
type VarietyRisk struct {
	Variety    string     `json:"variety"`
	Overall    string     `json:"overall"`
	Confidence float64    `json:"confidence"`
	Items      []RiskItem `json:"items"`
}

// TrainingSample is one observed season used to fit the yield model.
type TrainingSample struct {
	TotalGDD       float64 `json:"total_gdd"`
	FrostDays      float64 `json:"frost_days"`
	BloomFrostDays float64 `json:"bloom_frost_days"`
	HeatStressDays float64 `json:"heat_stress_days"`
	SummerRainMM   float64 `json:"summer_rain_mm"`
	AugNightTemp   float64 `json:"aug_night_temp"`
	BloomDateDOY   float64 `json:"bloom_date_doy"`
	YieldPer10aKg  float64 `json:"yield_per_10a_kg"`
}

// RegressionModel is the persisted ridge regression for one region.
type RegressionModel struct {
	RegionID     string             `json:"region_id"`
	Intercept    float64            `json:"intercept"`
	Coefficients map[string]float64 `json:"coefficients"`
	Samples      int                `json:"samples"`
	TrainedAt    time.Time          `json:"trained_at"`
}
