package fetcher

import (
	"path/filepath"
	"strings"
)

const (
	maxNameLen = 200
	stemKeep   = 190
)

// SanitizeName reduces a remote display name to a safe path component:
// only alphanumerics, space, hyphen, underscore and dot survive. An empty
// result falls back to a synthetic name derived from the identifier, and
// over-long names are truncated with the extension preserved.
func SanitizeName(name, id string) string {
	safe := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c
		case c == ' ', c == '-', c == '_', c == '.':
			return c
		}
		return -1
	}, name)
	safe = strings.TrimSpace(safe)

	if safe == "" || safe == "." {
		return "attachment_" + id
	}

	if len(safe) > maxNameLen {
		ext := filepath.Ext(safe)
		stem := safe[:len(safe)-len(ext)]
		if len(stem) > stemKeep {
			stem = stem[:stemKeep]
		}
		safe = stem + ext
	}
	return safe
}
