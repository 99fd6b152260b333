package models

import (
	"time"
)

// ModifierSnapshot is one saved generation of the modifier map, kept so the
// engine can roll back a bad evolution.
type ModifierSnapshot struct {
	Generation int                `json:"generation"`
	Modifiers  map[string]float64 `json:"modifiers"`
	Reason     string             `json:"reason"`
	At         time.Time          `json:"at"`
}

// EvolutionState is the persisted state of the parameter evolution engine.
type EvolutionState struct {
	Generation      int                `json:"generation"`
	Modifiers       map[string]float64 `json:"modifiers"`
	History         []ModifierSnapshot `json:"history"`
	TotalEvolutions int                `json:"total_evolutions"`
	LastEvolvedAt   *time.Time         `json:"last_evolved_at,omitempty"`
}

// ParameterAdjustment records one modifier change made during an evolution.
type ParameterAdjustment struct {
	Parameter string  `json:"parameter"`
	Previous  float64 `json:"previous"`
	Updated   float64 `json:"updated"`
	Trigger   string  `json:"trigger"`
	Reason    string  `json:"reason"`
}

// EvolveResult reports the outcome of one evolution attempt.
type EvolveResult struct {
	Evolved     bool                  `json:"evolved"`
	Generation  int                   `json:"generation"`
	Adjustments []ParameterAdjustment `json:"adjustments,omitempty"`
	Reason      string                `json:"reason"`
}

// RollbackResult reports the outcome of a rollback attempt.
type RollbackResult struct {
	RolledBack bool               `json:"rolled_back"`
	Generation int                `json:"generation"`
	Modifiers  map[string]float64 `json:"modifiers,omitempty"`
	Reason     string             `json:"reason"`
}
