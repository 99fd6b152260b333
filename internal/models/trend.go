package models

import (
	"time"
)

// Trend status buckets, hottest first.
const (
	TrendHot       = "HOT"
	TrendRising    = "RISING"
	TrendWatch     = "WATCH"
	TrendStable    = "STABLE"
	TrendDeclining = "DECLINING"
)

// TrendSignals are the raw market indicators behind a variety's trend score.
type TrendSignals struct {
	PriceTrend     float64 `json:"price_trend"`
	AreaTrend      float64 `json:"area_trend"`
	SeedlingDemand float64 `json:"seedling_demand"`
	NewsMentions   int     `json:"news_mentions"`
	NewsSentiment  float64 `json:"news_sentiment"`
}

// VarietyTrend is one variety's scored market momentum.
type VarietyTrend struct {
	VarietyID  string             `json:"variety_id"`
	Name       string             `json:"name"`
	Score      float64            `json:"score"`
	Status     string             `json:"status"`
	Components map[string]float64 `json:"components"`
	Signals    TrendSignals       `json:"signals"`
}

// TrendReport ranks all tracked varieties by momentum.
type TrendReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Varieties   []VarietyTrend `json:"varieties"`
}
