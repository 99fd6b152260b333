package models

import (
	"time"
)

// Alert categories and severities for the anomaly detector.
const (
	AlertCategoryPrice   = "price"
	AlertCategoryWeather = "weather"

	AlertSeverityWarning  = "warning"
	AlertSeverityCritical = "critical"
)

// Alert is one detected market or weather anomaly.
type Alert struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Severity  string    `json:"severity"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	CreatedAt time.Time `json:"created_at"`
}

// FlagState is one feature flag with its current setting.
type FlagState struct {
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FeedbackEntry is a user's report of how a simulation compared to reality.
type FeedbackEntry struct {
	ID               string   `json:"id"`
	Variety          string   `json:"variety"`
	Helpful          bool     `json:"helpful"`
	PredictedYieldKg *float64 `json:"predicted_yield_kg,omitempty"`
	ActualYieldKg    *float64 `json:"actual_yield_kg,omitempty"`
	PredictedPriceKg *float64 `json:"predicted_price_kg,omitempty"`
	ActualPriceKg    *float64 `json:"actual_price_kg,omitempty"`
	Comment          string   `json:"comment,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// VarietyFeedback aggregates feedback accuracy for one variety.
type VarietyFeedback struct {
	Count          int     `json:"count"`
	InaccuracyRate float64 `json:"inaccuracy_rate"`
}

// FeedbackStats summarizes all collected feedback.
type FeedbackStats struct {
	Total          int                        `json:"total"`
	HelpfulRate    float64                    `json:"helpful_rate"`
	InaccuracyRate float64                    `json:"inaccuracy_rate"`
	ByVariety      map[string]VarietyFeedback `json:"by_variety"`
}
