package services

import (
	"time"

	"orchard-platform/internal/models"
)

// BaseTempC is the base temperature for apple growing degree days.
const BaseTempC = 5.0

// dateLayout is the wire format for daily climate dates.
const dateLayout = "2006-01-02"

// varietyPhenology holds the heat-accumulation profiles per variety.
// Unknown varieties fall back to fuji, the national reference cultivar.
var varietyPhenology = map[string]models.PhenologyProfile{
	"fuji":      {Variety: "fuji", BloomGDD: 350, FullBloomGDD: 420, DaysBloomToHarvest: 170, FrostSensitivity: 0.8, HeatTolerance: 0.5},
	"hongro":    {Variety: "hongro", BloomGDD: 320, FullBloomGDD: 390, DaysBloomToHarvest: 130, FrostSensitivity: 0.7, HeatTolerance: 0.6},
	"gala":      {Variety: "gala", BloomGDD: 300, FullBloomGDD: 370, DaysBloomToHarvest: 120, FrostSensitivity: 0.6, HeatTolerance: 0.7},
	"yanggwang": {Variety: "yanggwang", BloomGDD: 330, FullBloomGDD: 400, DaysBloomToHarvest: 140, FrostSensitivity: 0.75, HeatTolerance: 0.55},
	"arisoo":    {Variety: "arisoo", BloomGDD: 310, FullBloomGDD: 380, DaysBloomToHarvest: 135, FrostSensitivity: 0.5, HeatTolerance: 0.8},
	"gamhong":   {Variety: "gamhong", BloomGDD: 340, FullBloomGDD: 410, DaysBloomToHarvest: 150, FrostSensitivity: 0.65, HeatTolerance: 0.65},
}

// PhenologyProfile returns the heat-accumulation profile for a variety,
// falling back to fuji for unknown names.
func PhenologyProfile(variety string) models.PhenologyProfile {
	if p, ok := varietyPhenology[variety]; ok {
		return p
	}
	return varietyPhenology["fuji"]
}

// DailyGDD computes one day's growing degree days: the excess of the daily
// mean temperature over the base, floored at zero.
func DailyGDD(minTempC, maxTempC, baseTempC float64) float64 {
	mean := (minTempC + maxTempC) / 2.0
	if mean <= baseTempC {
		return 0
	}
	return mean - baseTempC
}

// AccumulatedGDD returns the running GDD sum over a daily series. The
// returned slice is index-aligned with the input.
func AccumulatedGDD(series []models.DailyClimateRecord, baseTempC float64) []float64 {
	acc := make([]float64, len(series))
	total := 0.0
	for i, day := range series {
		total += DailyGDD(day.MinTempC, day.MaxTempC, baseTempC)
		acc[i] = total
	}
	return acc
}

// PredictBloomDate returns the first date on which accumulated GDD reaches
// the variety's bloom threshold. ok is false when the series never gets
// there.
func PredictBloomDate(series []models.DailyClimateRecord, variety string) (string, bool) {
	profile := PhenologyProfile(variety)
	total := 0.0
	for _, day := range series {
		total += DailyGDD(day.MinTempC, day.MaxTempC, BaseTempC)
		if total >= profile.BloomGDD {
			return day.Date, true
		}
	}
	return "", false
}

// PredictHarvestDate adds the variety's bloom-to-harvest span to a bloom
// date. ok is false when the bloom date does not parse.
func PredictHarvestDate(bloomDate, variety string) (string, bool) {
	t, err := time.Parse(dateLayout, bloomDate)
	if err != nil {
		return "", false
	}
	profile := PhenologyProfile(variety)
	return t.AddDate(0, 0, profile.DaysBloomToHarvest).Format(dateLayout), true
}

// CountFrostDays counts days whose minimum temperature falls at or below
// the threshold.
func CountFrostDays(series []models.DailyClimateRecord, thresholdC float64) int {
	count := 0
	for _, day := range series {
		if day.MinTempC <= thresholdC {
			count++
		}
	}
	return count
}

// CountBloomFrostDays counts frost days inside the window around bloom,
// where frost damage translates directly into fruit loss.
func CountBloomFrostDays(series []models.DailyClimateRecord, bloomDate string, windowDays int, thresholdC float64) int {
	bloom, err := time.Parse(dateLayout, bloomDate)
	if err != nil {
		return 0
	}

	start := bloom.AddDate(0, 0, -windowDays)
	end := bloom.AddDate(0, 0, windowDays)

	count := 0
	for _, day := range series {
		t, err := time.Parse(dateLayout, day.Date)
		if err != nil {
			continue
		}
		if !t.Before(start) && !t.After(end) && day.MinTempC <= thresholdC {
			count++
		}
	}
	return count
}

// CountHeatStressDays counts midsummer days whose maximum temperature
// exceeds the threshold. Only July and August count; fruit handles the
// shoulder months.
func CountHeatStressDays(series []models.DailyClimateRecord, thresholdC float64) int {
	count := 0
	for _, day := range series {
		t, err := time.Parse(dateLayout, day.Date)
		if err != nil {
			continue
		}
		m := t.Month()
		if (m == time.July || m == time.August) && day.MaxTempC > thresholdC {
			count++
		}
	}
	return count
}

// SummerRainTotal sums rainfall over June through August, the monsoon span.
func SummerRainTotal(series []models.DailyClimateRecord) float64 {
	total := 0.0
	for _, day := range series {
		t, err := time.Parse(dateLayout, day.Date)
		if err != nil {
			continue
		}
		if t.Month() >= time.June && t.Month() <= time.August {
			total += day.RainfallMM
		}
	}
	return total
}

// AugustNightTemp averages August minimum temperatures, the main driver of
// fruit coloration. ok is false when the series has no August days.
func AugustNightTemp(series []models.DailyClimateRecord) (float64, bool) {
	sum := 0.0
	count := 0
	for _, day := range series {
		t, err := time.Parse(dateLayout, day.Date)
		if err != nil {
			continue
		}
		if t.Month() == time.August {
			sum += day.MinTempC
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// ExtractFeatures summarizes one season's daily series into the feature set
// shared by the grading and forecast modules.
func ExtractFeatures(series []models.DailyClimateRecord, variety string) models.ClimateFeatures {
	acc := AccumulatedGDD(series, BaseTempC)

	features := models.ClimateFeatures{
		FrostDays:      CountFrostDays(series, 0.0),
		HeatStressDays: CountHeatStressDays(series, 33.0),
		SummerRainMM:   SummerRainTotal(series),
	}
	if len(acc) > 0 {
		features.TotalGDD = acc[len(acc)-1]
	}

	if night, ok := AugustNightTemp(series); ok {
		features.AugNightTemp = &night
	}

	if bloomDate, ok := PredictBloomDate(series, variety); ok {
		if t, err := time.Parse(dateLayout, bloomDate); err == nil {
			doy := t.YearDay()
			features.BloomDateDOY = &doy
		}
		features.BloomFrostDays = CountBloomFrostDays(series, bloomDate, 14, 0.0)
	}

	return features
}
