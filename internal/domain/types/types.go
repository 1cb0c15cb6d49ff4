// Package types contains common types used across the application.
package types

// Action is the graduated response to a risk score.
type Action string

const (
	ActionAllow         Action = "ALLOW"
	ActionSoftChallenge Action = "SOFT_CHALLENGE"
	ActionHardChallenge Action = "HARD_CHALLENGE"
	ActionBlock         Action = "BLOCK"
)

// RiskLevel is the categorical label of a risk score. It shares the bands of
// Action.
type RiskLevel string

const (
	LevelSafe     RiskLevel = "SAFE"
	LevelMedium   RiskLevel = "MEDIUM"
	LevelHigh     RiskLevel = "HIGH"
	LevelCritical RiskLevel = "CRITICAL"
)

// Purpose tells the service what to do with a finished session.
type Purpose string

const (
	PurposeLive     Purpose = "live"
	PurposeTraining Purpose = "training"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeLive || p == PurposeTraining
}

// Warnings surfaced on degraded assessments.
const (
	WarningBaselineUnavailable = "baseline_unavailable"
	WarningAdapterFailure      = "baseline_adapter_failure"
	WarningBaselineUnreliable  = "baseline_unreliable"
	WarningEventsDropped       = "events_dropped"
	WarningSessionTruncated    = "session_truncated"
	WarningEmptySession        = "empty_session"
)
