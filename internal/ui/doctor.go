package ui

import "strings"

// DoctorRow is one diagnostic result as shown by fleetwatch doctor.
// Status is "pass", "warn", "fail" or "skip".
type DoctorRow struct {
	Category   string
	Status     string
	Message    string
	Suggestion string
}

// RenderDoctorTable renders results grouped by category in first-seen
// order. Suggestions are shown for anything that didn't pass.
func RenderDoctorTable(rows []DoctorRow) string {
	if len(rows) == 0 {
		return "No checks to display\n"
	}

	categories := make(map[string][]DoctorRow)
	var order []string
	for _, row := range rows {
		if _, exists := categories[row.Category]; !exists {
			order = append(order, row.Category)
		}
		categories[row.Category] = append(categories[row.Category], row)
	}

	var b strings.Builder
	for _, cat := range order {
		b.WriteString(HeaderStyle().Render(cat) + "\n")
		for _, row := range categories[cat] {
			b.WriteString("  " + doctorIcon(row.Status) + " " + row.Message + "\n")
			if row.Suggestion != "" && row.Status != "pass" {
				b.WriteString("    " + MutedStyle().Render(row.Suggestion) + "\n")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func doctorIcon(status string) string {
	switch status {
	case "pass":
		return SuccessStyle().Render(SymbolComplete)
	case "warn":
		return WarningStyle().Render(SymbolComplete)
	case "fail":
		return ErrorStyle().Render(SymbolFail)
	default:
		return MutedStyle().Render(SymbolSkipped)
	}
}
