package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"orchard-platform/internal/models"
	"orchard-platform/internal/repository"
	"orchard-platform/pkg/logging"
)

const flagsDocKey = "feature_flags"

// Known feature flags.
const (
	FlagSelfRefine         = "simulation_self_refine"
	FlagFeedback           = "simulation_feedback"
	FlagAnalyticsContext   = "simulation_analytics_context"
	FlagGradeAdjustment    = "simulation_grade_adjustment"
	FlagMultiScenario      = "multi_scenario_compare"
	FlagAnomalyDetection   = "anomaly_detection"
	FlagAnomalyConsumption = "evolution_anomaly_consumption"
	FlagDataAutoRefresh    = "data_auto_refresh"
	FlagAdaptiveScheduler  = "adaptive_scheduler"
)

var flagDefaults = []models.FlagState{
	{Name: FlagSelfRefine, Enabled: true, Description: "Re-run a simulation once when validation finds caution notes"},
	{Name: FlagFeedback, Enabled: true, Description: "Accept user feedback on simulation accuracy"},
	{Name: FlagAnalyticsContext, Enabled: true, Description: "Attach run-history context to simulation results"},
	{Name: FlagGradeAdjustment, Enabled: true, Description: "Skew yield and quality split by regional grade"},
	{Name: FlagMultiScenario, Enabled: true, Description: "Expose optimistic/neutral/pessimistic comparison"},
	{Name: FlagAnomalyDetection, Enabled: true, Description: "Run price and weather anomaly checks"},
	{Name: FlagAnomalyConsumption, Enabled: true, Description: "Let the evolution engine react to anomaly alerts"},
	{Name: FlagDataAutoRefresh, Enabled: true, Description: "Run scheduled market price refreshes"},
	{Name: FlagAdaptiveScheduler, Enabled: false, Description: "Tighten refresh cadence when alerts accumulate"},
}

// FeatureFlags manages runtime feature switches, persisted as a document so
// toggles survive restarts.
type FeatureFlags struct {
	mu     sync.RWMutex
	flags  map[string]models.FlagState
	repo   repository.StateRepository
	logger *logging.StructuredLogger
}

// NewFeatureFlags builds the flag set from defaults overlaid with any
// persisted overrides. repo may be nil for tests.
func NewFeatureFlags(ctx context.Context, repo repository.StateRepository, logger *logging.StructuredLogger) *FeatureFlags {
	f := &FeatureFlags{
		flags:  make(map[string]models.FlagState, len(flagDefaults)),
		repo:   repo,
		logger: logger,
	}

	for _, flag := range flagDefaults {
		f.flags[flag.Name] = flag
	}

	if repo != nil {
		if raw, err := repo.GetDocument(ctx, flagsDocKey); err == nil {
			var saved []models.FlagState
			if err := json.Unmarshal(raw, &saved); err == nil {
				for _, flag := range saved {
					if current, ok := f.flags[flag.Name]; ok {
						current.Enabled = flag.Enabled
						current.UpdatedAt = flag.UpdatedAt
						f.flags[flag.Name] = current
					}
				}
			}
		}
	}

	return f
}

// Enabled reports whether a flag is on. Unknown flags are off.
func (f *FeatureFlags) Enabled(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.flags[name].Enabled
}

// Set toggles a flag and persists the full set.
func (f *FeatureFlags) Set(ctx context.Context, name string, enabled bool) (models.FlagState, error) {
	f.mu.Lock()
	flag, ok := f.flags[name]
	if !ok {
		f.mu.Unlock()
		return models.FlagState{}, &models.ValidationError{
			Field:   "flag",
			Value:   name,
			Message: "unknown feature flag",
		}
	}
	flag.Enabled = enabled
	flag.UpdatedAt = time.Now().UTC()
	f.flags[name] = flag
	snapshot := f.snapshotLocked()
	f.mu.Unlock()

	if f.repo != nil {
		if err := f.repo.PutDocument(ctx, flagsDocKey, snapshot); err != nil {
			f.logger.Error(ctx, "[FLAGS] Failed to persist flags", logging.Fields{
				"flag": name,
			}, err)
		}
	}

	f.logger.Info(ctx, "[FLAGS] Flag updated", logging.Fields{
		"flag":    name,
		"enabled": enabled,
	})

	return flag, nil
}

// All returns every flag sorted by name.
func (f *FeatureFlags) All() []models.FlagState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshotLocked()
}

func (f *FeatureFlags) snapshotLocked() []models.FlagState {
	out := make([]models.FlagState, 0, len(f.flags))
	for _, flag := range f.flags {
		out = append(out, flag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
