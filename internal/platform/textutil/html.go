package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NewPlainTextSanitizer returns a func that strips every HTML tag from free text such as order
// notes. Entities produced by the policy are unescaped again so stored notes stay plain text.
func NewPlainTextSanitizer() func(string) string {
	policy := bluemonday.StrictPolicy()
	return func(value string) string {
		value = strings.TrimSpace(value)
		if value == "" {
			return ""
		}
		return strings.TrimSpace(html.UnescapeString(policy.Sanitize(value)))
	}
}
