package services

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"orchard-platform/internal/models"
	"orchard-platform/internal/repository"
	"orchard-platform/pkg/logging"
)

const feedbackStream = "simulation_feedback"

// inaccuracyThreshold marks a feedback entry inaccurate when predicted and
// actual yield diverge by more than this fraction.
const inaccuracyThreshold = 0.20

// FeedbackCollector accepts post-season accuracy reports and aggregates
// them per variety for the evolution engine.
type FeedbackCollector struct {
	mu      sync.RWMutex
	entries []models.FeedbackEntry
	repo    repository.StateRepository
	logger  *logging.StructuredLogger
}

// NewFeedbackCollector creates a collector and replays persisted feedback.
func NewFeedbackCollector(ctx context.Context, repo repository.StateRepository, logger *logging.StructuredLogger) *FeedbackCollector {
	c := &FeedbackCollector{
		repo:   repo,
		logger: logger,
	}

	if repo != nil {
		err := repo.Replay(ctx, feedbackStream, func(raw json.RawMessage) error {
			var entry models.FeedbackEntry
			if err := json.Unmarshal(raw, &entry); err == nil {
				c.entries = append(c.entries, entry)
			}
			return nil
		})
		if err != nil {
			logger.Warn(ctx, "[FEEDBACK] Failed to replay feedback stream", logging.Fields{
				"stream": feedbackStream,
			})
		}
	}

	return c
}

// Submit records one feedback entry and returns it with its assigned ID.
func (c *FeedbackCollector) Submit(ctx context.Context, entry models.FeedbackEntry) (models.FeedbackEntry, error) {
	if entry.Variety == "" {
		return models.FeedbackEntry{}, &models.ValidationError{
			Field:   "variety",
			Message: "variety is required",
		}
	}

	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()

	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()

	if c.repo != nil {
		if err := c.repo.AppendRecord(ctx, feedbackStream, entry); err != nil {
			c.logger.Error(ctx, "[FEEDBACK] Failed to persist feedback", logging.Fields{
				"variety": entry.Variety,
			}, err)
		}
	}

	c.logger.Info(ctx, "[FEEDBACK] Feedback recorded", logging.Fields{
		"id":      entry.ID,
		"variety": entry.Variety,
		"helpful": entry.Helpful,
	})

	return entry, nil
}

// Stats aggregates all feedback: helpfulness overall and the inaccuracy
// rate per variety, computed from yield deviation where both predicted and
// actual are present.
func (c *FeedbackCollector) Stats() models.FeedbackStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := models.FeedbackStats{
		ByVariety: make(map[string]models.VarietyFeedback),
	}

	helpful := 0
	inaccurate := make(map[string]int)
	measured := make(map[string]int)

	for _, e := range c.entries {
		stats.Total++
		if e.Helpful {
			helpful++
		}

		v := stats.ByVariety[e.Variety]
		v.Count++
		stats.ByVariety[e.Variety] = v

		if e.PredictedYieldKg != nil && e.ActualYieldKg != nil && *e.PredictedYieldKg > 0 {
			measured[e.Variety]++
			deviation := math.Abs(*e.ActualYieldKg-*e.PredictedYieldKg) / *e.PredictedYieldKg
			if deviation > inaccuracyThreshold {
				inaccurate[e.Variety]++
			}
		}
	}

	if stats.Total > 0 {
		stats.HelpfulRate = float64(helpful) / float64(stats.Total)
	}

	totalMeasured := 0
	totalInaccurate := 0
	for variety, v := range stats.ByVariety {
		totalMeasured += measured[variety]
		totalInaccurate += inaccurate[variety]
		if measured[variety] > 0 {
			v.InaccuracyRate = float64(inaccurate[variety]) / float64(measured[variety])
			stats.ByVariety[variety] = v
		}
	}
	if totalMeasured > 0 {
		stats.InaccuracyRate = float64(totalInaccurate) / float64(totalMeasured)
	}

	return stats
}
