// Package utils holds small helpers shared across the gateway's packages.
package utils

import (
	"strings"
	"unicode"
)

// logValueLimit caps the length of untrusted values echoed into log lines.
const logValueLimit = 100

// SanitizeForLog escapes control characters in an untrusted string so that it
// cannot forge or split log lines, and truncates it to a bounded length.
func SanitizeForLog(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\\':
			b.WriteString(`\\`)
		default:
			if unicode.IsPrint(r) {
				b.WriteRune(r)
			} else {
				b.WriteByte('?')
			}
		}
	}

	out := b.String()
	if len(out) > logValueLimit {
		return out[:logValueLimit] + "...[truncated]"
	}
	return out
}
