package ui

import (
	"strings"

	"github.com/common-nighthawk/go-figure"
)

// RenderBanner renders the ASCII-art startup banner followed by a muted
// version line.
func RenderBanner(name, version string) string {
	fig := figure.NewFigure(name, "", true)

	var sb strings.Builder
	style := InfoStyle().Bold(true)
	for _, line := range fig.Slicify() {
		if strings.TrimSpace(line) == "" {
			continue
		}
		sb.WriteString(style.Render(line))
		sb.WriteString("\n")
	}
	if version != "" {
		sb.WriteString(MutedStyle().Render(version))
		sb.WriteString("\n")
	}
	return sb.String()
}
