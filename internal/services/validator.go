package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orchard-platform/internal/models"
	"orchard-platform/internal/repository"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

const outcomeStream = "validator_outcomes"

// RangeConfig bounds the plausibility checks. The income ratio bounds are
// mutable at runtime: the validator widens them when it finds itself
// refining nearly every run.
type RangeConfig struct {
	IncomeRatioMin float64
	IncomeRatioMax float64
	ROIMin         float64
	ROIMax         float64
	BreakEvenMin   int
	BreakEvenMax   int
	YieldMin       float64
	YieldMax       float64
	PriceMin       float64
	PriceMax       float64
	YieldBoost     float64
}

// DefaultRangeConfig returns the plausibility bounds calibrated against
// published orchard budgets.
func DefaultRangeConfig() RangeConfig {
	return RangeConfig{
		IncomeRatioMin: 0.20,
		IncomeRatioMax: 0.90,
		ROIMin:         -0.5,
		ROIMax:         6.0,
		BreakEvenMin:   3,
		BreakEvenMax:   15,
		YieldMin:       1000,
		YieldMax:       4000,
		PriceMin:       2000,
		PriceMax:       15000,
		YieldBoost:     1.10,
	}
}

// validationOutcome is one validated run in the outcome stream.
type validationOutcome struct {
	Refined bool      `json:"refined"`
	Fields  []string  `json:"fields"`
	At      time.Time `json:"at"`
}

// rangeLearner tracks recent refinement rates and scales how aggressively
// the validator widens its bounds.
type rangeLearner struct {
	window []float64
	scale  float64
}

func newRangeLearner() rangeLearner {
	return rangeLearner{scale: 1.0}
}

// observe folds one refinement-rate sample into the learner's window of 15
// and recomputes the widening scale within [0.5, 1.5].
func (l *rangeLearner) observe(rate float64) {
	l.window = append(l.window, rate)
	if len(l.window) > 15 {
		l.window = l.window[len(l.window)-15:]
	}

	sum := 0.0
	for _, r := range l.window {
		sum += r
	}
	mean := sum / float64(len(l.window))

	l.scale = 0.5 + mean
	if l.scale > 1.5 {
		l.scale = 1.5
	}
	if l.scale < 0.5 {
		l.scale = 0.5
	}
}

// Validator checks simulation results for plausibility and proposes a
// single refined re-run when the findings are refinable.
type Validator struct {
	mu       sync.Mutex
	cfg      RangeConfig
	learner  rangeLearner
	outcomes []bool // true = refined, newest last, bounded
	repo     repository.StateRepository
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewValidator creates a validator with default ranges.
func NewValidator(repo repository.StateRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Validator {
	return &Validator{
		cfg:     DefaultRangeConfig(),
		learner: newRangeLearner(),
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Config returns the current plausibility bounds.
func (v *Validator) Config() RangeConfig {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cfg
}

// Validate checks a result against the plausibility bounds. Caution notes
// are refinable; warning and info notes are advisory only.
func (v *Validator) Validate(result *models.SimulationResult) []models.ValidationNote {
	v.mu.Lock()
	cfg := v.cfg
	v.mu.Unlock()

	var notes []models.ValidationNote

	if result.YieldPer10aKg < cfg.YieldMin || result.YieldPer10aKg > cfg.YieldMax {
		notes = append(notes, models.ValidationNote{
			Severity: models.SeverityCaution,
			Field:    "yield_per_10a",
			Message:  fmt.Sprintf("yield %.0f kg/10a outside plausible range %.0f-%.0f", result.YieldPer10aKg, cfg.YieldMin, cfg.YieldMax),
		})
	}

	if result.PricePerKg < cfg.PriceMin || result.PricePerKg > cfg.PriceMax {
		notes = append(notes, models.ValidationNote{
			Severity: models.SeverityCaution,
			Field:    "price_per_kg",
			Message:  fmt.Sprintf("price %.0f KRW/kg outside plausible range %.0f-%.0f", result.PricePerKg, cfg.PriceMin, cfg.PriceMax),
		})
	}

	if result.IncomeRatio < cfg.IncomeRatioMin || result.IncomeRatio > cfg.IncomeRatioMax {
		notes = append(notes, models.ValidationNote{
			Severity: models.SeverityCaution,
			Field:    "income_ratio",
			Message:  fmt.Sprintf("income ratio %.2f outside plausible range %.2f-%.2f", result.IncomeRatio, cfg.IncomeRatioMin, cfg.IncomeRatioMax),
		})
	}

	if result.ROI10Year > cfg.ROIMax {
		notes = append(notes, models.ValidationNote{
			Severity: models.SeverityCaution,
			Field:    "roi_10year",
			Message:  fmt.Sprintf("10-year ROI %.2f exceeds the plausible maximum %.2f", result.ROI10Year, cfg.ROIMax),
		})
	} else if result.ROI10Year < cfg.ROIMin {
		notes = append(notes, models.ValidationNote{
			Severity: models.SeverityWarning,
			Field:    "roi_10year",
			Message:  fmt.Sprintf("10-year ROI %.2f falls below the usual minimum %.2f", result.ROI10Year, cfg.ROIMin),
		})
	}

	if result.BreakEvenYear < cfg.BreakEvenMin {
		notes = append(notes, models.ValidationNote{
			Severity: models.SeverityCaution,
			Field:    "break_even_year",
			Message:  fmt.Sprintf("break-even in year %d is implausibly early for an orchard", result.BreakEvenYear),
		})
	} else if result.BreakEvenYear > cfg.BreakEvenMax {
		notes = append(notes, models.ValidationNote{
			Severity: models.SeverityWarning,
			Field:    "break_even_year",
			Message:  fmt.Sprintf("break-even in year %d exceeds the usual %d-year horizon", result.BreakEvenYear, cfg.BreakEvenMax),
		})
	}

	for _, n := range notes {
		v.metrics.RecordValidationNote(n.Severity)
	}

	return notes
}

// SuggestRefinement derives an adjusted request from the caution notes: out
// of range values are clamped to the nearest bound, an over-optimistic
// income ratio shrinks the yield and an over-pessimistic one boosts it.
// Returns nil when nothing is refinable.
func (v *Validator) SuggestRefinement(req models.SimulationRequest, result *models.SimulationResult, notes []models.ValidationNote) (*models.SimulationRequest, []string) {
	v.mu.Lock()
	cfg := v.cfg
	v.mu.Unlock()

	refined := req
	var fields []string

	for _, n := range notes {
		if n.Severity != models.SeverityCaution {
			continue
		}

		switch n.Field {
		case "yield_per_10a":
			clamped := clampFloat(result.YieldPer10aKg, cfg.YieldMin, cfg.YieldMax)
			refined.YieldPer10aKg = &clamped
			fields = append(fields, n.Field)

		case "price_per_kg":
			clamped := clampFloat(result.PricePerKg, cfg.PriceMin, cfg.PriceMax)
			refined.PricePerKg = &clamped
			fields = append(fields, n.Field)

		case "income_ratio":
			adjusted := result.YieldPer10aKg * 0.90
			if result.IncomeRatio < cfg.IncomeRatioMin {
				adjusted = result.YieldPer10aKg * cfg.YieldBoost
			}
			refined.YieldPer10aKg = &adjusted
			fields = append(fields, n.Field)

		case "roi_10year":
			// Only an over-optimistic ROI is a caution; dampen the yield.
			adjusted := result.YieldPer10aKg * 0.90
			refined.YieldPer10aKg = &adjusted
			fields = append(fields, n.Field)
		}
	}

	if len(fields) == 0 {
		return nil, nil
	}
	return &refined, fields
}

// RecordOutcome folds one validated run into the rolling window, persists
// it for the evolution engine, and widens the income ratio bounds when
// refinement has become near-universal.
func (v *Validator) RecordOutcome(ctx context.Context, refined bool, fields []string) {
	if refined {
		v.metrics.RefinementsTotal.Inc()
	}

	v.mu.Lock()
	v.outcomes = append(v.outcomes, refined)
	if len(v.outcomes) > 50 {
		v.outcomes = v.outcomes[len(v.outcomes)-50:]
	}

	total := len(v.outcomes)
	refinedCount := 0
	for _, r := range v.outcomes {
		if r {
			refinedCount++
		}
	}
	rate := float64(refinedCount) / float64(total)
	v.learner.observe(rate)

	widened := false
	if total >= 20 && rate > 0.80 {
		step := 0.05 * v.learner.scale
		v.cfg.IncomeRatioMin -= step
		v.cfg.IncomeRatioMax += step
		if v.cfg.IncomeRatioMin < 0.05 {
			v.cfg.IncomeRatioMin = 0.05
		}
		if v.cfg.IncomeRatioMax > 0.98 {
			v.cfg.IncomeRatioMax = 0.98
		}
		v.outcomes = v.outcomes[:0]
		widened = true
	}
	cfg := v.cfg
	v.mu.Unlock()

	if widened {
		v.logger.Info(ctx, "[VALIDATOR] Income ratio bounds widened", logging.Fields{
			"min": cfg.IncomeRatioMin,
			"max": cfg.IncomeRatioMax,
		})
	}

	if v.repo != nil {
		outcome := validationOutcome{Refined: refined, Fields: fields, At: time.Now().UTC()}
		if err := v.repo.AppendRecord(ctx, outcomeStream, outcome); err != nil {
			v.logger.Error(ctx, "[VALIDATOR] Failed to persist outcome", logging.Fields{}, err)
		}
	}
}

// Stats reports the validator's adaptive state.
func (v *Validator) Stats() map[string]interface{} {
	v.mu.Lock()
	defer v.mu.Unlock()

	refinedCount := 0
	for _, r := range v.outcomes {
		if r {
			refinedCount++
		}
	}

	rate := 0.0
	if len(v.outcomes) > 0 {
		rate = float64(refinedCount) / float64(len(v.outcomes))
	}

	return map[string]interface{}{
		"window_size":      len(v.outcomes),
		"refinement_rate":  rate,
		"learner_scale":    v.learner.scale,
		"income_ratio_min": v.cfg.IncomeRatioMin,
		"income_ratio_max": v.cfg.IncomeRatioMax,
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
