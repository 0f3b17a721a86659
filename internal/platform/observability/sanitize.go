package observability

import (
	"strings"
	"unicode"
)

// sanitizeString drops control characters, including newlines, and truncates to limit runes.
func sanitizeString(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID caps identifiers so tokens pasted by mistake are not logged whole.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}
