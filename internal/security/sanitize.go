package security

import (
	"sort"
	"strings"
)

// MaxLogValueLength caps untrusted strings in log output.
const MaxLogValueLength = 256

// SanitizeForLog makes an untrusted string safe to log: newlines and tabs
// become spaces (no forged log lines), other control characters are
// dropped, and the result is capped at MaxLogValueLength runes.
func SanitizeForLog(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n >= MaxLogValueLength {
			b.WriteString("...")
			break
		}
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 127:
			continue
		default:
			b.WriteRune(r)
		}
		n++
	}
	return b.String()
}

// CookieNamesForLog returns the sorted cookie names from a credential bag.
// Values never appear in logs or session snapshots; the sorted name list
// doubles as the change-detection key for cached validations.
func CookieNamesForLog(cookies map[string]string) []string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, SanitizeForLog(name))
	}
	sort.Strings(names)
	return names
}
