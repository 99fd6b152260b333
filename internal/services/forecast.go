package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"orchard-platform/internal/models"
	"orchard-platform/internal/repository"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// monthWeights weight each month's score in the annual forecast: the bloom
// window and the summer ripening months dominate.
var monthWeights = map[int]float64{
	1: 0.6, 2: 0.6, 3: 0.8, 4: 2.0, 5: 1.0, 6: 1.5,
	7: 1.5, 8: 1.2, 9: 1.5, 10: 1.0, 11: 0.7, 12: 0.5,
}

// featureNames orders the regression features.
var featureNames = []string{
	"total_gdd",
	"frost_days",
	"bloom_frost_days",
	"heat_stress_days",
	"summer_rain_mm",
	"aug_night_temp",
	"bloom_date_doy",
}

// Feature defaults used when a season did not yield the value.
const (
	defaultAugNightTemp = 20.0
	defaultBloomDOY     = 110.0
)

const minTrainingSamples = 5

// ForecastService scores upcoming seasons from daily climate series and,
// when a trained model exists, predicts yield per 10a by regression.
type ForecastService struct {
	climate *ClimateService
	repo    repository.StateRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewForecastService creates a new forecast service
func NewForecastService(climate *ClimateService, repo repository.StateRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ForecastService {
	return &ForecastService{
		climate: climate,
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// AnnualForecast scores a region's season month by month and labels the
// outlook. A trained regression model, when present, adds a yield estimate;
// a missing model is not an error.
func (f *ForecastService) AnnualForecast(ctx context.Context, regionID string, year int) models.AnnualForecast {
	f.metrics.ForecastRequestsTotal.WithLabelValues("annual").Inc()

	series := f.climate.DailySeries(ctx, regionID, year)
	normals := f.climate.Normals(regionID)

	monthly := f.MonthlyScores(series, normals)

	weightedSum := 0.0
	weightTotal := 0.0
	for _, m := range monthly {
		weightedSum += m.Total * m.Weight
		weightTotal += m.Weight
	}

	score := 0.0
	if weightTotal > 0 {
		score = weightedSum / weightTotal
	}

	forecast := models.AnnualForecast{
		RegionID:    regionID,
		Year:        year,
		Score:       round2(score),
		Label:       forecastLabel(score),
		Monthly:     monthly,
		GeneratedAt: time.Now().UTC(),
	}
	forecast.Recommendation = forecastRecommendation(score, forecast.Label, computeVarietyRisks(series))

	if predicted, ok := f.predictYield(ctx, regionID, ExtractFeatures(series, "fuji")); ok {
		forecast.ModelYieldKg = &predicted
	}

	f.logger.Debug(ctx, "[FORECAST] Annual forecast computed", logging.Fields{
		"region_id": regionID,
		"year":      year,
		"score":     forecast.Score,
		"label":     forecast.Label,
	})

	return forecast
}

// MonthlyScores scores each month of a daily series against the normals.
func (f *ForecastService) MonthlyScores(series []models.DailyClimateRecord, normals []models.ClimateNormal) []models.MonthlyScore {
	byMonth := splitByMonth(series)

	scores := make([]models.MonthlyScore, 0, 12)
	for month := 1; month <= 12; month++ {
		days := byMonth[month]
		if len(days) == 0 {
			continue
		}
		n := normals[month-1]

		s := models.MonthlyScore{
			Month:        month,
			Weight:       monthWeights[month],
			GDDScore:     gddDeviationScore(days, n),
			FrostScore:   frostDayScore(days, month),
			RainScore:    rainRatioScore(days, n),
			ExtremeScore: extremeTempScore(days, month),
		}
		s.Total = s.GDDScore + s.FrostScore + s.RainScore + s.ExtremeScore
		scores = append(scores, s)
	}
	return scores
}

// GDDProgress reports season-to-date heat accumulation and bloom forecasts.
func (f *ForecastService) GDDProgress(ctx context.Context, regionID string, year int) models.GDDProgress {
	f.metrics.ForecastRequestsTotal.WithLabelValues("gdd_progress").Inc()

	series := f.climate.DailySeries(ctx, regionID, year)
	normals := f.climate.Normals(regionID)

	acc := AccumulatedGDD(series, BaseTempC)
	accumulated := 0.0
	asOf := ""
	if len(acc) > 0 {
		accumulated = acc[len(acc)-1]
		asOf = series[len(series)-1].Date
	}

	normal := normalsAnnualGDD(normals)
	percent := 0.0
	if normal > 0 {
		percent = accumulated / normal * 100.0
	}

	progress := models.GDDProgress{
		RegionID:        regionID,
		Year:            year,
		AsOf:            asOf,
		AccumulatedGDD:  round2(accumulated),
		NormalGDD:       round2(normal),
		PercentOfNormal: round2(percent),
	}

	for variety := range varietyPhenology {
		if date, ok := PredictBloomDate(series, variety); ok {
			if t, err := time.Parse(dateLayout, date); err == nil {
				progress.Blooms = append(progress.Blooms, models.BloomPrediction{
					Variety:       variety,
					PredictedDate: date,
					DayOfYear:     t.YearDay(),
				})
			}
		}
	}
	sortBlooms(progress.Blooms)

	return progress
}

// VarietyRisks assesses frost, heat, rain and disease hazard per variety
// for a region's season.
func (f *ForecastService) VarietyRisks(ctx context.Context, regionID string, year int) []models.VarietyRisk {
	f.metrics.ForecastRequestsTotal.WithLabelValues("variety_risks").Inc()

	series := f.climate.DailySeries(ctx, regionID, year)
	return computeVarietyRisks(series)
}

// computeVarietyRisks scores every catalogued variety against one season's
// daily series.
func computeVarietyRisks(series []models.DailyClimateRecord) []models.VarietyRisk {
	risks := make([]models.VarietyRisk, 0, len(varietyPhenology))
	for _, variety := range sortedVarieties() {
		profile := varietyPhenology[variety]
		features := ExtractFeatures(series, variety)

		effectiveFrost := float64(features.BloomFrostDays)*profile.FrostSensitivity*2.0 + float64(features.FrostDays)*0.3
		heat := float64(features.HeatStressDays) * (1.0 - profile.HeatTolerance)
		rain := features.SummerRainMM
		disease := rain*0.8 + float64(features.HeatStressDays)*2.0

		items := []models.RiskItem{
			{Name: "frost", Level: riskLevel(effectiveFrost, 3, 8), Score: round2(effectiveFrost)},
			{Name: "heat", Level: riskLevel(heat, 5, 15), Score: round2(heat)},
			{Name: "rain", Level: riskLevel(rain, 500, 900), Score: round2(rain)},
			{Name: "disease", Level: riskLevel(disease, 350, 700), Score: round2(disease)},
		}

		verdict, confidence := overallVerdict(items)
		risks = append(risks, models.VarietyRisk{
			Variety:    variety,
			Overall:    verdict,
			Confidence: confidence,
			Items:      items,
		})
	}

	return risks
}

// TrainModel fits a ridge regression of yield on the season features and
// persists it for the region. At least minTrainingSamples samples are
// required.
func (f *ForecastService) TrainModel(ctx context.Context, regionID string, samples []models.TrainingSample) (*models.RegressionModel, error) {
	if len(samples) < minTrainingSamples {
		return nil, &models.ValidationError{
			Field:   "samples",
			Message: fmt.Sprintf("need at least %d training samples, got %d", minTrainingSamples, len(samples)),
		}
	}

	n := len(featureNames)
	// Normal equations with a ridge term: (X'X + lambda*I) beta = X'y,
	// intercept in column 0 and left unpenalized.
	dim := n + 1
	xtx := make([][]float64, dim)
	for i := range xtx {
		xtx[i] = make([]float64, dim)
	}
	xty := make([]float64, dim)

	for _, sample := range samples {
		row := sampleFeatures(sample)
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				xtx[i][j] += row[i] * row[j]
			}
			xty[i] += row[i] * sample.YieldPer10aKg
		}
	}

	const lambda = 1.0
	for i := 1; i < dim; i++ {
		xtx[i][i] += lambda
	}

	beta, ok := solveLinear(xtx, xty)
	if !ok {
		return nil, fmt.Errorf("regression system is singular for region %s", regionID)
	}

	model := &models.RegressionModel{
		RegionID:     regionID,
		Intercept:    round4(beta[0]),
		Coefficients: make(map[string]float64, n),
		Samples:      len(samples),
		TrainedAt:    time.Now().UTC(),
	}
	for i, name := range featureNames {
		model.Coefficients[name] = round4(beta[i+1])
	}

	if f.repo != nil {
		if err := f.repo.PutDocument(ctx, modelDocKey(regionID), model); err != nil {
			return nil, fmt.Errorf("failed to persist model: %w", err)
		}
	}

	f.metrics.ModelTrainingsTotal.Inc()
	f.logger.Info(ctx, "[FORECAST_TRAIN] Yield model trained", logging.Fields{
		"region_id": regionID,
		"samples":   len(samples),
	})

	return model, nil
}

// Model loads the persisted regression for a region.
func (f *ForecastService) Model(ctx context.Context, regionID string) (*models.RegressionModel, error) {
	if f.repo == nil {
		return nil, &repository.NotFoundError{Resource: "regression_model", ID: regionID}
	}

	raw, err := f.repo.GetDocument(ctx, modelDocKey(regionID))
	if err != nil {
		return nil, err
	}

	var model models.RegressionModel
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, fmt.Errorf("failed to decode model for region %s: %w", regionID, err)
	}
	return &model, nil
}

// predictYield applies the region's model to a feature set. ok is false
// when no model has been trained.
func (f *ForecastService) predictYield(ctx context.Context, regionID string, features models.ClimateFeatures) (float64, bool) {
	model, err := f.Model(ctx, regionID)
	if err != nil {
		return 0, false
	}

	values := map[string]float64{
		"total_gdd":        features.TotalGDD,
		"frost_days":       float64(features.FrostDays),
		"bloom_frost_days": float64(features.BloomFrostDays),
		"heat_stress_days": float64(features.HeatStressDays),
		"summer_rain_mm":   features.SummerRainMM,
		"aug_night_temp":   defaultAugNightTemp,
		"bloom_date_doy":   defaultBloomDOY,
	}
	if features.AugNightTemp != nil {
		values["aug_night_temp"] = *features.AugNightTemp
	}
	if features.BloomDateDOY != nil {
		values["bloom_date_doy"] = float64(*features.BloomDateDOY)
	}

	predicted := model.Intercept
	for name, coeff := range model.Coefficients {
		predicted += coeff * values[name]
	}

	if predicted < 0 {
		predicted = 0
	}
	return round2(predicted), true
}

func modelDocKey(regionID string) string {
	return "forecast_model_" + regionID
}

// sampleFeatures builds the design-matrix row: intercept then features.
func sampleFeatures(s models.TrainingSample) []float64 {
	return []float64{
		1.0,
		s.TotalGDD,
		s.FrostDays,
		s.BloomFrostDays,
		s.HeatStressDays,
		s.SummerRainMM,
		s.AugNightTemp,
		s.BloomDateDOY,
	}
}

// solveLinear solves Ax=b by Gaussian elimination with partial pivoting.
func solveLinear(a [][]float64, b []float64) ([]float64, bool) {
	n := len(b)
	m := make([][]float64, n)
	for i := range m {
		m[i] = append(append([]float64{}, a[i]...), b[i])
	}

	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if abs(m[row][col]) > abs(m[pivot][col]) {
				pivot = row
			}
		}
		if abs(m[pivot][col]) < 1e-12 {
			return nil, false
		}
		m[col], m[pivot] = m[pivot], m[col]

		for row := col + 1; row < n; row++ {
			factor := m[row][col] / m[col][col]
			for k := col; k <= n; k++ {
				m[row][k] -= factor * m[col][k]
			}
		}
	}

	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := m[i][n]
		for j := i + 1; j < n; j++ {
			sum -= m[i][j] * x[j]
		}
		x[i] = sum / m[i][i]
	}
	return x, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// forecastRecommendation turns the annual score into advice, naming the
// varieties that sit at either end of the risk spectrum.
func forecastRecommendation(score float64, label string, risks []models.VarietyRisk) string {
	var safe, warn []string
	for _, r := range risks {
		switch r.Overall {
		case models.VerdictSafe:
			safe = append(safe, r.Variety)
		case models.VerdictWarning:
			warn = append(warn, r.Variety)
		}
	}

	var msg string
	switch {
	case score >= 80:
		msg = fmt.Sprintf("The season outlook is '%s'. Climate conditions look favorable overall.", label)
	case score >= 60:
		msg = fmt.Sprintf("The season outlook is '%s'. Some periods will need attention.", label)
	case score >= 40:
		msg = fmt.Sprintf("The season outlook is '%s'. Active management is needed.", label)
	default:
		msg = fmt.Sprintf("The season outlook is '%s'. Exceptional caution and preparation are needed.", label)
	}

	if len(safe) > 0 {
		msg += fmt.Sprintf(" Safe varieties: %s.", strings.Join(safe, ", "))
	}
	if len(warn) > 0 {
		msg += fmt.Sprintf(" Warning varieties: %s — intensive management recommended.", strings.Join(warn, ", "))
	}
	return msg
}

// forecastLabel maps the annual score onto the outlook label.
func forecastLabel(score float64) string {
	switch {
	case score >= 80:
		return models.ForecastBountiful
	case score >= 60:
		return models.ForecastAverage
	case score >= 40:
		return models.ForecastPoor
	default:
		return models.ForecastFailed
	}
}

// riskLevel buckets a hazard score against its thresholds.
func riskLevel(score, moderate, high float64) string {
	switch {
	case score >= high:
		return models.RiskHigh
	case score >= moderate:
		return models.RiskModerate
	default:
		return models.RiskLow
	}
}

// overallVerdict combines hazard levels: two highs mean warning, one high
// or two moderates mean caution. The confidence score drops per hazard,
// with a floor that keeps each verdict band distinguishable.
func overallVerdict(items []models.RiskItem) (string, float64) {
	high := 0
	moderate := 0
	for _, item := range items {
		switch item.Level {
		case models.RiskHigh:
			high++
		case models.RiskModerate:
			moderate++
		}
	}

	switch {
	case high >= 2:
		return models.VerdictWarning, math.Max(0, float64(100-high*25-moderate*10))
	case high >= 1 || moderate >= 2:
		return models.VerdictCaution, math.Max(20, float64(100-high*20-moderate*8))
	default:
		return models.VerdictSafe, math.Max(60, float64(100-moderate*5))
	}
}

// gddDeviationScore scores how far a month's GDD strays from normal.
func gddDeviationScore(days []models.DailyClimateRecord, n models.ClimateNormal) float64 {
	actual := 0.0
	for _, d := range days {
		actual += DailyGDD(d.MinTempC, d.MaxTempC, BaseTempC)
	}
	normal := DailyGDD(n.MinTempC, n.MaxTempC, BaseTempC) * float64(len(days))

	if normal == 0 {
		// Dormant months accumulate nothing either way.
		if actual == 0 {
			return 25
		}
		return 15
	}

	deviation := abs(actual-normal) / normal
	switch {
	case deviation < 0.05:
		return 25
	case deviation < 0.15:
		return 20
	case deviation < 0.30:
		return 15
	case deviation < 0.50:
		return 10
	default:
		return 5
	}
}

// frostDayScore scores frost day counts; April frost counts double because
// it hits open blossom.
func frostDayScore(days []models.DailyClimateRecord, month int) float64 {
	count := 0
	for _, d := range days {
		if d.MinTempC <= 0 {
			count++
		}
	}
	if month == 4 {
		count *= 2
	}

	switch {
	case count == 0:
		return 25
	case count <= 2:
		return 20
	case count <= 5:
		return 15
	case count <= 10:
		return 8
	default:
		return 3
	}
}

// rainRatioScore scores a month's rainfall against the normal.
func rainRatioScore(days []models.DailyClimateRecord, n models.ClimateNormal) float64 {
	actual := 0.0
	for _, d := range days {
		actual += d.RainfallMM
	}
	if n.RainfallMM <= 0 {
		return 25
	}

	ratio := actual / n.RainfallMM
	switch {
	case ratio >= 0.7 && ratio <= 1.3:
		return 25
	case ratio >= 0.5 && ratio <= 1.5:
		return 20
	case ratio >= 0.3 && ratio <= 2.0:
		return 12
	default:
		return 5
	}
}

// extremeTempScore starts at 25 and deducts for damaging extremes in the
// month's average temperatures: summer heat, deep winter cold and April
// freezes. The penalty grows per degree past the damage point.
func extremeTempScore(days []models.DailyClimateRecord, month int) float64 {
	if len(days) == 0 {
		return 25
	}

	avgMin := 0.0
	avgMax := 0.0
	for _, d := range days {
		avgMin += d.MinTempC
		avgMax += d.MaxTempC
	}
	avgMin /= float64(len(days))
	avgMax /= float64(len(days))

	penalty := 0.0
	switch month {
	case 7, 8:
		if avgMax > 33 {
			penalty = math.Min(20, (avgMax-33)*3)
		}
	case 1, 2:
		if avgMin < -15 {
			penalty = math.Min(15, abs(avgMin+15)*2)
		}
	case 4:
		if avgMin < 0 {
			penalty = math.Min(15, abs(avgMin)*5)
		}
	}

	score := 25 - penalty
	if score < 0 {
		score = 0
	}
	return score
}

// splitByMonth groups a daily series by calendar month.
func splitByMonth(series []models.DailyClimateRecord) map[int][]models.DailyClimateRecord {
	byMonth := make(map[int][]models.DailyClimateRecord)
	for _, d := range series {
		t, err := time.Parse(dateLayout, d.Date)
		if err != nil {
			continue
		}
		byMonth[int(t.Month())] = append(byMonth[int(t.Month())], d)
	}
	return byMonth
}

func sortedVarieties() []string {
	return []string{"arisoo", "fuji", "gala", "gamhong", "hongro", "yanggwang"}
}

func sortBlooms(blooms []models.BloomPrediction) {
	sort.Slice(blooms, func(i, j int) bool {
		return blooms[i].DayOfYear < blooms[j].DayOfYear
	})
}
