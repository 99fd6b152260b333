package services

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"orchard-platform/internal/models"
	"orchard-platform/pkg/logging"
)

// trendEntry is one tracked variety with its baseline market signals:
// year-over-year price and cultivated-area trends, nursery seedling demand
// on a 0..1 scale, and news coverage.
type trendEntry struct {
	ID             string
	Name           string
	PriceTrend     float64
	AreaTrend      float64
	SeedlingDemand float64
	NewsMentions   int
	NewsSentiment  float64
}

var trendCatalogue = []trendEntry{
	{ID: "fuji", Name: "Fuji", PriceTrend: 0.02, AreaTrend: -0.03, SeedlingDemand: 0.45, NewsMentions: 32, NewsSentiment: 0.55},
	{ID: "hongro", Name: "Hongro", PriceTrend: 0.04, AreaTrend: -0.01, SeedlingDemand: 0.50, NewsMentions: 18, NewsSentiment: 0.60},
	{ID: "gamhong", Name: "Gamhong", PriceTrend: 0.12, AreaTrend: 0.08, SeedlingDemand: 0.80, NewsMentions: 41, NewsSentiment: 0.85},
	{ID: "arisu", Name: "Arisu", PriceTrend: 0.08, AreaTrend: 0.06, SeedlingDemand: 0.70, NewsMentions: 27, NewsSentiment: 0.75},
	{ID: "shinano-gold", Name: "Shinano Gold", PriceTrend: 0.10, AreaTrend: 0.09, SeedlingDemand: 0.75, NewsMentions: 35, NewsSentiment: 0.80},
	{ID: "ruby-s", Name: "Ruby-S", PriceTrend: 0.14, AreaTrend: 0.11, SeedlingDemand: 0.85, NewsMentions: 29, NewsSentiment: 0.88},
	{ID: "gala", Name: "Gala", PriceTrend: 0.01, AreaTrend: -0.02, SeedlingDemand: 0.40, NewsMentions: 12, NewsSentiment: 0.50},
	{ID: "yanggwang", Name: "Yanggwang", PriceTrend: -0.02, AreaTrend: -0.05, SeedlingDemand: 0.30, NewsMentions: 8, NewsSentiment: 0.45},
	{ID: "arisoo", Name: "Arisoo", PriceTrend: 0.06, AreaTrend: 0.04, SeedlingDemand: 0.60, NewsMentions: 22, NewsSentiment: 0.70},
	{ID: "golden-ball", Name: "Golden Ball", PriceTrend: 0.05, AreaTrend: 0.03, SeedlingDemand: 0.55, NewsMentions: 14, NewsSentiment: 0.65},
	{ID: "summer-king", Name: "Summer King", PriceTrend: 0.03, AreaTrend: 0.02, SeedlingDemand: 0.50, NewsMentions: 11, NewsSentiment: 0.60},
	{ID: "pink-lady", Name: "Pink Lady", PriceTrend: 0.07, AreaTrend: 0.01, SeedlingDemand: 0.45, NewsMentions: 16, NewsSentiment: 0.62},
	{ID: "envy", Name: "Envy", PriceTrend: 0.09, AreaTrend: 0.02, SeedlingDemand: 0.50, NewsMentions: 19, NewsSentiment: 0.68},
	{ID: "kanzi", Name: "Kanzi", PriceTrend: 0.04, AreaTrend: 0.00, SeedlingDemand: 0.35, NewsMentions: 9, NewsSentiment: 0.55},
	{ID: "hwangok", Name: "Hwangok", PriceTrend: -0.05, AreaTrend: -0.08, SeedlingDemand: 0.20, NewsMentions: 5, NewsSentiment: 0.35},
}

// TrendService scores variety market momentum from the signal catalogue,
// jittered per report so consecutive reports read like fresh market pulls.
type TrendService struct {
	logger *logging.StructuredLogger
	seed   func() int64
}

// NewTrendService creates a new trend service
func NewTrendService(logger *logging.StructuredLogger) *TrendService {
	return &TrendService{
		logger: logger,
		seed:   func() int64 { return time.Now().UnixNano() },
	}
}

// Report scores every tracked variety, hottest first.
func (s *TrendService) Report(ctx context.Context) models.TrendReport {
	rng := rand.New(rand.NewSource(s.seed()))

	report := models.TrendReport{
		GeneratedAt: time.Now().UTC(),
		Varieties:   make([]models.VarietyTrend, 0, len(trendCatalogue)),
	}

	for _, entry := range trendCatalogue {
		signals := jitterSignals(entry, rng)
		report.Varieties = append(report.Varieties, scoreTrend(entry, signals))
	}

	sort.Slice(report.Varieties, func(i, j int) bool {
		return report.Varieties[i].Score > report.Varieties[j].Score
	})

	s.logger.Debug(ctx, "[TREND] Report generated", logging.Fields{
		"varieties": len(report.Varieties),
	})

	return report
}

// VarietyTrend scores one variety. ok is false for untracked varieties.
func (s *TrendService) VarietyTrend(varietyID string) (models.VarietyTrend, bool) {
	rng := rand.New(rand.NewSource(s.seed()))
	for _, entry := range trendCatalogue {
		if entry.ID == varietyID {
			return scoreTrend(entry, jitterSignals(entry, rng)), true
		}
	}
	return models.VarietyTrend{}, false
}

// jitterSignals perturbs the baseline signals slightly.
func jitterSignals(entry trendEntry, rng *rand.Rand) models.TrendSignals {
	return models.TrendSignals{
		PriceTrend:     entry.PriceTrend + rng.NormFloat64()*0.01,
		AreaTrend:      entry.AreaTrend + rng.NormFloat64()*0.01,
		SeedlingDemand: clampFloat(entry.SeedlingDemand+rng.NormFloat64()*0.03, 0, 1),
		NewsMentions:   entry.NewsMentions,
		NewsSentiment:  clampFloat(entry.NewsSentiment+rng.NormFloat64()*0.03, 0, 1),
	}
}

// scoreTrend combines the four signals, each contributing up to 25 points.
func scoreTrend(entry trendEntry, signals models.TrendSignals) models.VarietyTrend {
	priceScore := clampFloat((signals.PriceTrend+0.10)/0.30*25.0, 0, 25)
	areaScore := clampFloat((signals.AreaTrend+0.05)/0.20*25.0, 0, 25)

	mentions := float64(signals.NewsMentions)
	if mentions > 50 {
		mentions = 50
	}
	newsScore := clampFloat(mentions/50.0*signals.NewsSentiment*25.0, 0, 25)
	demandScore := clampFloat(signals.SeedlingDemand*25.0, 0, 25)

	score := priceScore + areaScore + newsScore + demandScore

	return models.VarietyTrend{
		VarietyID: entry.ID,
		Name:      entry.Name,
		Score:     round2(score),
		Status:    trendStatus(score),
		Components: map[string]float64{
			"price":           round2(priceScore),
			"area":            round2(areaScore),
			"news":            round2(newsScore),
			"seedling_demand": round2(demandScore),
		},
		Signals: signals,
	}
}

// trendStatus buckets a momentum score.
func trendStatus(score float64) string {
	switch {
	case score >= 80:
		return models.TrendHot
	case score >= 60:
		return models.TrendRising
	case score >= 40:
		return models.TrendWatch
	case score >= 20:
		return models.TrendStable
	default:
		return models.TrendDeclining
	}
}
