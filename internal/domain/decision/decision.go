// Package decision maps a risk score onto the graduated response policy.
package decision

import (
	"math"

	"github.com/okian/keyprint/internal/domain/types"
)

// Band lower bounds. Equality belongs to the higher band.
const (
	SoftChallengeAt = 30.0
	HardChallengeAt = 70.0
	BlockAt         = 90.0
)

// Decide returns the action for score. NaN is treated as the worst case.
func Decide(score float64) types.Action {
	switch {
	case math.IsNaN(score) || score >= BlockAt:
		return types.ActionBlock
	case score >= HardChallengeAt:
		return types.ActionHardChallenge
	case score >= SoftChallengeAt:
		return types.ActionSoftChallenge
	default:
		return types.ActionAllow
	}
}

// Level returns the risk label for score using the same bands as Decide.
func Level(score float64) types.RiskLevel {
	switch Decide(score) {
	case types.ActionBlock:
		return types.LevelCritical
	case types.ActionHardChallenge:
		return types.LevelHigh
	case types.ActionSoftChallenge:
		return types.LevelMedium
	default:
		return types.LevelSafe
	}
}
