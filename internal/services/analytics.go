package services

import (
	"context"
	"encoding/json"
	"sync"

	"orchard-platform/internal/models"
	"orchard-platform/internal/repository"
	"orchard-platform/pkg/logging"
)

const runStream = "simulation_runs"

// maxRetainedRuns bounds the in-memory run window.
const maxRetainedRuns = 500

// RunAnalytics keeps a bounded window of simulation runs, rebuilt from the
// persisted stream at startup, and derives aggregate context from it.
type RunAnalytics struct {
	mu        sync.RWMutex
	runs      []models.RunRecord
	totalRuns int
	repo      repository.StateRepository
	logger    *logging.StructuredLogger
}

// NewRunAnalytics creates the analytics window and replays run history.
func NewRunAnalytics(ctx context.Context, repo repository.StateRepository, logger *logging.StructuredLogger) *RunAnalytics {
	a := &RunAnalytics{
		repo:   repo,
		logger: logger,
	}

	if repo != nil {
		err := repo.Replay(ctx, runStream, func(raw json.RawMessage) error {
			var rec models.RunRecord
			if err := json.Unmarshal(raw, &rec); err == nil {
				a.retain(rec)
			}
			return nil
		})
		if err != nil {
			logger.Warn(ctx, "[ANALYTICS] Failed to replay run stream", logging.Fields{
				"stream": runStream,
			})
		}
	}

	return a
}

// RecordRun retains and persists one run record. Persistence failures are
// logged, not surfaced: analytics must never fail a simulation.
func (a *RunAnalytics) RecordRun(ctx context.Context, rec models.RunRecord) {
	a.mu.Lock()
	a.retain(rec)
	a.mu.Unlock()

	if a.repo != nil {
		if err := a.repo.AppendRecord(ctx, runStream, rec); err != nil {
			a.logger.Error(ctx, "[ANALYTICS] Failed to persist run record", logging.Fields{
				"variety": rec.Variety,
			}, err)
		}
	}
}

// retain appends under the caller's lock (or during single-threaded replay).
func (a *RunAnalytics) retain(rec models.RunRecord) {
	a.totalRuns++
	a.runs = append(a.runs, rec)
	if len(a.runs) > maxRetainedRuns {
		a.runs = a.runs[len(a.runs)-maxRetainedRuns:]
	}
}

// Snapshot summarizes the retained window.
func (a *RunAnalytics) Snapshot() map[string]interface{} {
	a.mu.RLock()
	defer a.mu.RUnlock()

	byVariety := make(map[string]int)
	refined := 0
	roiSum := 0.0
	for _, r := range a.runs {
		byVariety[r.Variety]++
		if r.Refined {
			refined++
		}
		roiSum += r.ROI10Year
	}

	avgROI := 0.0
	refinementRate := 0.0
	if len(a.runs) > 0 {
		avgROI = roiSum / float64(len(a.runs))
		refinementRate = float64(refined) / float64(len(a.runs))
	}

	return map[string]interface{}{
		"total_runs":      a.totalRuns,
		"window_size":     len(a.runs),
		"by_variety":      byVariety,
		"avg_roi":         avgROI,
		"refinement_rate": refinementRate,
	}
}

// Context situates one result against the retained window.
func (a *RunAnalytics) Context(roi float64) *models.AnalyticsContext {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.runs) == 0 {
		return &models.AnalyticsContext{
			TotalRuns: a.totalRuns,
			Note:      "no prior runs to compare against",
		}
	}

	roiSum := 0.0
	for _, r := range a.runs {
		roiSum += r.ROI10Year
	}
	avg := roiSum / float64(len(a.runs))

	note := "in line with prior runs"
	delta := roi - avg
	switch {
	case delta > 0.5:
		note = "well above the average of prior runs"
	case delta > 0.1:
		note = "above the average of prior runs"
	case delta < -0.5:
		note = "well below the average of prior runs"
	case delta < -0.1:
		note = "below the average of prior runs"
	}

	return &models.AnalyticsContext{
		TotalRuns: a.totalRuns,
		AvgROI:    round2(avg),
		ROIDelta:  round2(delta),
		Note:      note,
	}
}
