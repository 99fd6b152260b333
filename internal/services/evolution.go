package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"orchard-platform/internal/models"
	"orchard-platform/internal/repository"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

const (
	evolutionDocKey = "evolution_state"
	evolutionStream = "evolution_events"

	maxHistorySnapshots = 20

	// Diagnosis thresholds over the recent outcome window.
	inaccuracyTrigger = 0.3
	adjustmentTrigger = 0.4
	outcomeWindow     = 50

	// Modifier bounds.
	varietyModifierMin = 0.7
	varietyModifierMax = 1.3
	costModifierMax    = 1.5
	yieldModifierMin   = 0.7
	farmGateFloor      = 0.70
)

// EvolutionEngine slowly adjusts global simulation parameters from observed
// accuracy: feedback deviations, validator refinements, and anomaly alerts.
// Modifier reads are lock-free snapshots so the simulator never contends
// with an evolution in progress.
type EvolutionEngine struct {
	mu        sync.Mutex
	state     models.EvolutionState
	modifiers atomic.Value // map[string]float64, replaced wholesale
	repo      repository.StateRepository
	flags     *FeatureFlags
	feedback  *FeedbackCollector
	anomalies *AnomalyDetector
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewEvolutionEngine loads the persisted evolution state, starting from
// generation zero with an empty modifier map when none exists.
func NewEvolutionEngine(
	ctx context.Context,
	repo repository.StateRepository,
	flags *FeatureFlags,
	feedback *FeedbackCollector,
	anomalies *AnomalyDetector,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *EvolutionEngine {
	e := &EvolutionEngine{
		state: models.EvolutionState{
			Modifiers: make(map[string]float64),
		},
		repo:      repo,
		flags:     flags,
		feedback:  feedback,
		anomalies: anomalies,
		logger:    logger,
		metrics:   metricsCollector,
	}

	if repo != nil {
		if raw, err := repo.GetDocument(ctx, evolutionDocKey); err == nil {
			var saved models.EvolutionState
			if err := json.Unmarshal(raw, &saved); err == nil {
				if saved.Modifiers == nil {
					saved.Modifiers = make(map[string]float64)
				}
				e.state = saved
			} else {
				logger.Warn(ctx, "[EVOLUTION] Discarding unreadable evolution state", logging.Fields{})
			}
		}
	}

	e.publishModifiers()
	e.metrics.EvolutionGeneration.Set(float64(e.state.Generation))

	return e
}

// Modifier returns the current value of a modifier, or fallback when the
// modifier has never been set.
func (e *EvolutionEngine) Modifier(name string, fallback float64) float64 {
	snapshot, _ := e.modifiers.Load().(map[string]float64)
	if v, ok := snapshot[name]; ok {
		return v
	}
	return fallback
}

// Status reports the engine's current state.
func (e *EvolutionEngine) Status() models.EvolutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneState(e.state)
}

// Evolve runs one diagnosis and, when the accuracy signals warrant it,
// applies a new generation of modifiers.
func (e *EvolutionEngine) Evolve(ctx context.Context) models.EvolveResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := e.feedback.Stats()
	refinementRate, fieldCounts := e.recentOutcomes(ctx)

	adjustments := e.computeAdjustments(stats, fieldCounts)

	if e.flags != nil && e.flags.Enabled(FlagAnomalyConsumption) {
		adjustments = append(adjustments, e.anomalyAdjustments()...)
	}

	actionable := stats.InaccuracyRate > inaccuracyTrigger || refinementRate > adjustmentTrigger
	if !actionable && len(adjustments) == 0 {
		e.logger.Info(ctx, "[EVOLUTION] No evolution needed", logging.Fields{
			"inaccuracy_rate": stats.InaccuracyRate,
			"refinement_rate": refinementRate,
		})
		return models.EvolveResult{
			Evolved:    false,
			Generation: e.state.Generation,
			Reason:     "accuracy signals within tolerance",
		}
	}

	if len(adjustments) == 0 {
		return models.EvolveResult{
			Evolved:    false,
			Generation: e.state.Generation,
			Reason:     "signals elevated but no adjustable parameter identified",
		}
	}

	// Snapshot the outgoing generation before mutating.
	snapshot := models.ModifierSnapshot{
		Generation: e.state.Generation,
		Modifiers:  cloneModifiers(e.state.Modifiers),
		Reason:     fmt.Sprintf("before generation %d", e.state.Generation+1),
		At:         time.Now().UTC(),
	}
	e.state.History = append(e.state.History, snapshot)
	if len(e.state.History) > maxHistorySnapshots {
		e.state.History = e.state.History[len(e.state.History)-maxHistorySnapshots:]
	}

	for _, adj := range adjustments {
		e.state.Modifiers[adj.Parameter] = adj.Updated
		e.metrics.EvolutionAdjustmentsTotal.WithLabelValues(adj.Trigger).Inc()
	}

	e.state.Generation++
	e.state.TotalEvolutions++
	now := time.Now().UTC()
	e.state.LastEvolvedAt = &now

	e.publishModifiers()
	e.metrics.EvolutionGeneration.Set(float64(e.state.Generation))
	e.persist(ctx, "evolve", adjustments)

	e.logger.Info(ctx, "[EVOLUTION] Generation applied", logging.Fields{
		"generation":  e.state.Generation,
		"adjustments": len(adjustments),
	})

	return models.EvolveResult{
		Evolved:     true,
		Generation:  e.state.Generation,
		Adjustments: adjustments,
		Reason:      "accuracy signals exceeded tolerance",
	}
}

// Rollback restores the most recent snapshot. Rolling back with no history
// is a no-op.
func (e *EvolutionEngine) Rollback(ctx context.Context) models.RollbackResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.state.History) == 0 {
		return models.RollbackResult{
			RolledBack: false,
			Generation: e.state.Generation,
			Reason:     "no history to roll back to",
		}
	}

	last := e.state.History[len(e.state.History)-1]
	e.state.History = e.state.History[:len(e.state.History)-1]
	e.state.Modifiers = cloneModifiers(last.Modifiers)
	e.state.Generation = last.Generation

	e.publishModifiers()
	e.metrics.EvolutionGeneration.Set(float64(e.state.Generation))
	e.persist(ctx, "rollback", nil)

	e.logger.Info(ctx, "[EVOLUTION] Rolled back", logging.Fields{
		"generation": e.state.Generation,
	})

	return models.RollbackResult{
		RolledBack: true,
		Generation: e.state.Generation,
		Modifiers:  cloneModifiers(e.state.Modifiers),
		Reason:     "restored previous generation",
	}
}

// computeAdjustments derives parameter changes from feedback accuracy and
// the validator's refined-field counts.
func (e *EvolutionEngine) computeAdjustments(stats models.FeedbackStats, fieldCounts map[string]int) []models.ParameterAdjustment {
	var adjustments []models.ParameterAdjustment

	// Varieties whose predictions keep missing get their own multiplier
	// nudged down, bounded so one bad season cannot wreck the model.
	for variety, fb := range stats.ByVariety {
		if fb.Count < 3 || fb.InaccuracyRate <= inaccuracyTrigger {
			continue
		}
		param := "yield_modifier_" + variety
		prev := e.modifierLocked(param, 1.0)
		updated := clampFloat(prev*(1.0-fb.InaccuracyRate*0.1), varietyModifierMin, varietyModifierMax)
		if updated != prev {
			adjustments = append(adjustments, models.ParameterAdjustment{
				Parameter: param,
				Previous:  prev,
				Updated:   round4(updated),
				Trigger:   "feedback_inaccuracy",
				Reason:    fmt.Sprintf("%s yield inaccuracy rate %.2f over %d reports", variety, fb.InaccuracyRate, fb.Count),
			})
		}
	}

	if fieldCounts["income_ratio"] > 10 {
		prev := e.modifierLocked("cost_modifier_global", 1.0)
		updated := clampFloat(prev*1.03, 0, costModifierMax)
		if updated != prev {
			adjustments = append(adjustments, models.ParameterAdjustment{
				Parameter: "cost_modifier_global",
				Previous:  prev,
				Updated:   round4(updated),
				Trigger:   "frequent_income_ratio_refinement",
				Reason:    fmt.Sprintf("income ratio refined %d times in recent window", fieldCounts["income_ratio"]),
			})
		}
	}

	if fieldCounts["yield_per_10a"] > 10 {
		prev := e.modifierLocked("yield_modifier_global", 1.0)
		updated := prev * 0.97
		if updated < yieldModifierMin {
			updated = yieldModifierMin
		}
		if updated != prev {
			adjustments = append(adjustments, models.ParameterAdjustment{
				Parameter: "yield_modifier_global",
				Previous:  prev,
				Updated:   round4(updated),
				Trigger:   "frequent_yield_refinement",
				Reason:    fmt.Sprintf("yield refined %d times in recent window", fieldCounts["yield_per_10a"]),
			})
		}
	}

	return adjustments
}

// anomalyAdjustments reacts to the recent alert window: a market dominated
// by price drops (over 60% of recent price alerts, a clear majority rather
// than a knife-edge split) lowers the farm gate ratio, repeated critical
// weather trims the global yield modifier.
func (e *EvolutionEngine) anomalyAdjustments() []models.ParameterAdjustment {
	if e.anomalies == nil {
		return nil
	}

	var adjustments []models.ParameterAdjustment
	alerts := e.anomalies.RecentAlerts(outcomeWindow, "")

	priceAlerts := 0
	priceDrops := 0
	criticalWeather := 0
	for _, a := range alerts {
		switch a.Category {
		case models.AlertCategoryPrice:
			priceAlerts++
			if a.Kind == "price_drop" {
				priceDrops++
			}
		case models.AlertCategoryWeather:
			if a.Severity == models.AlertSeverityCritical {
				criticalWeather++
			}
		}
	}

	if priceAlerts > 0 && float64(priceDrops)/float64(priceAlerts) > 0.6 {
		prev := e.modifierLocked("farm_gate_ratio", FarmGateRatio)
		updated := prev - 0.02
		if updated < farmGateFloor {
			updated = farmGateFloor
		}
		if updated != prev {
			adjustments = append(adjustments, models.ParameterAdjustment{
				Parameter: "farm_gate_ratio",
				Previous:  prev,
				Updated:   round4(updated),
				Trigger:   "price_drop_anomalies",
				Reason:    fmt.Sprintf("%d of %d recent price alerts were drops", priceDrops, priceAlerts),
			})
		}
	}

	if criticalWeather >= 2 {
		prev := e.modifierLocked("yield_modifier_global", 1.0)
		updated := prev * 0.97
		if updated < yieldModifierMin {
			updated = yieldModifierMin
		}
		if updated != prev {
			adjustments = append(adjustments, models.ParameterAdjustment{
				Parameter: "yield_modifier_global",
				Previous:  prev,
				Updated:   round4(updated),
				Trigger:   "critical_weather_anomalies",
				Reason:    fmt.Sprintf("%d critical weather alerts in recent window", criticalWeather),
			})
		}
	}

	return adjustments
}

// recentOutcomes reads the validator's outcome stream: refinement rate and
// per-field refinement counts over the recent window.
func (e *EvolutionEngine) recentOutcomes(ctx context.Context) (float64, map[string]int) {
	fieldCounts := make(map[string]int)
	if e.repo == nil {
		return 0, fieldCounts
	}

	records, err := e.repo.RecentRecords(ctx, outcomeStream, outcomeWindow)
	if err != nil {
		e.logger.Warn(ctx, "[EVOLUTION] Failed to read validator outcomes", logging.Fields{})
		return 0, fieldCounts
	}

	refined := 0
	for _, raw := range records {
		var outcome validationOutcome
		if err := json.Unmarshal(raw, &outcome); err != nil {
			continue
		}
		if outcome.Refined {
			refined++
		}
		for _, f := range outcome.Fields {
			fieldCounts[f]++
		}
	}

	if len(records) == 0 {
		return 0, fieldCounts
	}
	return float64(refined) / float64(len(records)), fieldCounts
}

// modifierLocked reads a modifier under e.mu (during an evolution).
func (e *EvolutionEngine) modifierLocked(name string, fallback float64) float64 {
	if v, ok := e.state.Modifiers[name]; ok {
		return v
	}
	return fallback
}

// publishModifiers replaces the lock-free snapshot.
func (e *EvolutionEngine) publishModifiers() {
	e.modifiers.Store(cloneModifiers(e.state.Modifiers))
}

// persist writes the state document and an event record. Failures are
// logged: the in-memory generation stays authoritative for the process.
func (e *EvolutionEngine) persist(ctx context.Context, event string, adjustments []models.ParameterAdjustment) {
	if e.repo == nil {
		return
	}

	if err := e.repo.PutDocument(ctx, evolutionDocKey, e.state); err != nil {
		e.logger.Error(ctx, "[EVOLUTION] Failed to persist state", logging.Fields{
			"generation": e.state.Generation,
		}, err)
	}

	record := map[string]interface{}{
		"event":       event,
		"generation":  e.state.Generation,
		"adjustments": adjustments,
		"at":          time.Now().UTC(),
	}
	if err := e.repo.AppendRecord(ctx, evolutionStream, record); err != nil {
		e.logger.Error(ctx, "[EVOLUTION] Failed to append event", logging.Fields{
			"event": event,
		}, err)
	}
}

func cloneModifiers(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneState(s models.EvolutionState) models.EvolutionState {
	out := s
	out.Modifiers = cloneModifiers(s.Modifiers)
	out.History = make([]models.ModifierSnapshot, len(s.History))
	copy(out.History, s.History)
	return out
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}
