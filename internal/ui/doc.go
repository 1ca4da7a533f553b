// Package ui renders fleetwatch's one-shot terminal output: cluster
// lists, allocation usage and fleet status tables, and the startup
// banner.
//
// Styling uses Lip Gloss with ANSI colors. Call ConfigureColors once at
// startup; it falls back to plain text when output is not a terminal,
// NO_COLOR is set, or --no-color was passed.
//
// # Symbols
//
//	SymbolComplete (filled)    - cluster or system up
//	SymbolFail     (X)         - down, or a failed refresh
//	SymbolPending  (circle)    - no data yet
//	SymbolSkipped  (slashed)   - unknown status
//
// # Tables
//
// Renderers return strings so commands can write them to any io.Writer:
//
//	fmt.Fprint(w, ui.RenderClusters(endpoints))
//	fmt.Fprint(w, ui.RenderUsage(profiles, 3))
package ui
