package models

// Region identifies an apple-growing region and its climatic offset from the
// reference normals.
type Region struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	TempOffset float64 `json:"temp_offset"`
}

// ClimateNormal holds the long-term monthly reference values for a region.
type ClimateNormal struct {
	Month      int     `json:"month"`
	MinTempC   float64 `json:"min_temp_c"`
	MaxTempC   float64 `json:"max_temp_c"`
	RainfallMM float64 `json:"rainfall_mm"`
}

// DailyClimateRecord is a single day of weather used by the phenology and
// forecast calculations. Date is formatted as YYYY-MM-DD.
type DailyClimateRecord struct {
	Date       string  `json:"date"`
	MinTempC   float64 `json:"min_temp_c"`
	MaxTempC   float64 `json:"max_temp_c"`
	RainfallMM float64 `json:"rainfall_mm"`
}

// PhenologyProfile holds the heat-accumulation thresholds and stress
// sensitivities of one apple variety.
type PhenologyProfile struct {
	Variety            string  `json:"variety"`
	BloomGDD           float64 `json:"bloom_gdd"`
	FullBloomGDD       float64 `json:"full_bloom_gdd"`
	DaysBloomToHarvest int     `json:"days_bloom_to_harvest"`
	FrostSensitivity   float64 `json:"frost_sensitivity"`
	HeatTolerance      float64 `json:"heat_tolerance"`
}

// ClimateFeatures summarizes one growing season for grading and forecasting.
// AugNightTemp and BloomDateDOY are pointers because a truncated series may
// not cover August or reach the bloom threshold at all.
type ClimateFeatures struct {
	TotalGDD       float64  `json:"total_gdd"`
	FrostDays      int      `json:"frost_days"`
	BloomFrostDays int      `json:"bloom_frost_days"`
	HeatStressDays int      `json:"heat_stress_days"`
	SummerRainMM   float64  `json:"summer_rain_mm"`
	AugNightTemp   *float64 `json:"aug_night_temp,omitempty"`
	BloomDateDOY   *int     `json:"bloom_date_doy,omitempty"`
}
