package types

import (
	"regexp"
	"strings"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// NormalizeSurfaceText produces the canonical lookup key for a surface-form
// text: lowercased, trimmed, with runs of whitespace collapsed to a single
// space. All normalized-text indexes in the system use this key, so the
// same entity is found regardless of casing or spacing variants.
func NormalizeSurfaceText(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	return whitespaceRE.ReplaceAllString(normalized, " ")
}
