package domain

import "time"

// SuggestionCategory groups optimisation proposals.
type SuggestionCategory string

const (
	CategoryChannel       SuggestionCategory = "channel"
	CategoryRoaming       SuggestionCategory = "roaming"
	CategoryPower         SuggestionCategory = "power"
	CategoryZigbee        SuggestionCategory = "zigbee"
	CategoryFeatureToggle SuggestionCategory = "feature-toggle"
	CategoryBackhaul      SuggestionCategory = "backhaul"
)

// Risk grades how disruptive applying a suggestion can be.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// OptimizationTarget selects which rule packs run during recommendation.
type OptimizationTarget string

const (
	TargetMinimiseInterference  OptimizationTarget = "minimiseInterference"
	TargetProtectZigbee         OptimizationTarget = "protectZigbee"
	TargetReduceNeighborOverlap OptimizationTarget = "reduceNeighborOverlap"
	TargetMaximiseThroughput    OptimizationTarget = "maximiseThroughput"
	TargetImproveRoaming        OptimizationTarget = "improveRoaming"
	TargetBalanceCoverage       OptimizationTarget = "balanceCoverage"
)

// AllTargets is the default target set for a full intelligence scan.
var AllTargets = []OptimizationTarget{
	TargetMinimiseInterference,
	TargetProtectZigbee,
	TargetReduceNeighborOverlap,
	TargetMaximiseThroughput,
	TargetImproveRoaming,
	TargetBalanceCoverage,
}

// Suggestion is one proposed change. The Token is snapshot-scoped and
// single-use: it is consumed on confirmed apply and invalidated when a newer
// suggestion set is published.
type Suggestion struct {
	Token           string             `json:"token"`
	Priority        int                `json:"priority"` // higher = more urgent
	Category        SuggestionCategory `json:"category"`
	ActionType      string             `json:"action_type"`
	Parameters      map[string]string  `json:"parameters,omitempty"`
	CurrentValue    string             `json:"current,omitempty"`
	TargetValue     string             `json:"target,omitempty"`
	Risk            Risk               `json:"risk"`
	Confidence      float64            `json:"confidence"`
	Improvement     string             `json:"improvement,omitempty"`
	AffectedDevices []string           `json:"affected_devices,omitempty"`
	RequiresRestart bool               `json:"requires_restart"`
	CreatedAt       time.Time          `json:"created_at"`
}
