package ui

import "strings"

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Cycle or refresh succeeded
	SymbolFail     = "✗" // Cycle or refresh failed
	SymbolPending  = "○" // No data yet
	SymbolComplete = "●" // System or cluster up
	SymbolSkipped  = "⊘" // Disabled or unknown
	SymbolWarning  = "⚠"
)

// StatusSymbol returns a colored indicator for a cluster or system
// status as printed by the remote tools ("on", "UP", "DOWN", ...).
func StatusSymbol(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "UP", "ON", "ACTIVE", "RUNNING":
		return SuccessStyle().Render(SymbolComplete)
	case "DOWN", "OFF", "ERROR", "FAILED":
		return ErrorStyle().Render(SymbolFail)
	case "DEGRADED", "MAINTENANCE", "PARTIAL", "LIMITED":
		return WarningStyle().Render(SymbolComplete)
	case "":
		return MutedStyle().Render(SymbolPending)
	default:
		return MutedStyle().Render(SymbolSkipped)
	}
}

// ResultSymbol renders a success or failure mark.
func ResultSymbol(ok bool) string {
	if ok {
		return SuccessStyle().Render(SymbolSuccess)
	}
	return ErrorStyle().Render(SymbolFail)
}
