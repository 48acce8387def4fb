package domain

import "strings"

// RiskLevel enumerates command risk tiers.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "SAFE"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var riskOrder = map[RiskLevel]int{
	RiskSafe:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// ParseRiskLevel maps free-form text (e.g. from an AI reply) to a RiskLevel.
// Unrecognised values map to MEDIUM so they still require confirmation.
func ParseRiskLevel(value string) RiskLevel {
	level := RiskLevel(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := riskOrder[level]; ok {
		return level
	}
	return RiskMedium
}

// Valid reports whether r is one of the known tiers.
func (r RiskLevel) Valid() bool {
	_, ok := riskOrder[r]
	return ok
}

// Exceeds reports whether r is strictly more severe than other.
func (r RiskLevel) Exceeds(other RiskLevel) bool {
	return riskOrder[r] > riskOrder[other]
}

// MaxRisk returns the most severe of the given levels, SAFE when none are given.
func MaxRisk(levels ...RiskLevel) RiskLevel {
	highest := RiskSafe
	for _, level := range levels {
		if level.Exceeds(highest) {
			highest = level
		}
	}
	return highest
}

// ValidationResult is the validator's verdict over one or more commands.
type ValidationResult struct {
	IsValid         bool      `json:"isValid"`
	RiskLevel       RiskLevel `json:"riskLevel"`
	BlockedCommands []string  `json:"blockedCommands"`
	WarningCommands []string  `json:"warningCommands"`
	Reason          string    `json:"reason,omitempty"`
}

// Validation reasons surfaced to the user.
const (
	ReasonCommandBlocked     = "Command matches dangerous pattern and has been blocked"
	ReasonCommandWarning     = "Command requires explicit confirmation before execution"
	ReasonBatchBlocked       = "One or more commands were blocked due to security risks"
	ReasonBatchNeedsApproval = "Some commands require confirmation"
)
