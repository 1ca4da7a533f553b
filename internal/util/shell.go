// Package util provides common utility functions used across the codebase.
package util

import "strings"

// ShellQuote wraps a string in single quotes, escaping any existing single quotes.
// This is safe for use in shell commands where the string should be treated literally.
func ShellQuote(s string) string {
	// Replace ' with '\'' (end quote, escaped quote, start quote)
	escaped := strings.ReplaceAll(s, "'", "'\\''")
	return "'" + escaped + "'"
}

// ExpandCommand replaces {key} placeholders in a command template with
// the shell-quoted value. Unknown placeholders are left as-is.
func ExpandCommand(template string, values map[string]string) string {
	if len(values) == 0 {
		return template
	}
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", ShellQuote(v))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// ExpandPlain replaces {key} placeholders without quoting. Use it for
// values that are not passed through a shell, like SSH host aliases.
func ExpandPlain(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
