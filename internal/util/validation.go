package util

import (
	"strings"
	"unicode/utf8"
)

const (
	MinConnectionNameLen = 2
	MaxConnectionNameLen = 80
	MaxSectors           = 20
	MaxSectorLen         = 60
)

// NormalizeName trims a display name and reports whether its length is allowed.
func NormalizeName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	return name, n >= MinConnectionNameLen && n <= MaxConnectionNameLen
}

// NormalizeSectors trims, drops blanks and de-duplicates while keeping order.
func NormalizeSectors(sectors []string) []string {
	seen := make(map[string]bool, len(sectors))
	out := make([]string, 0, len(sectors))
	for _, s := range sectors {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	return out
}
