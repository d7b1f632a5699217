// Package redact converts sensitive text spans into reversible placeholder
// tokens and back. Placeholders are ordinal-suffixed per category
// (<EMAIL_ADDRESS_1>, <EMAIL_ADDRESS_2>) so the mapping stays injective even
// when a category is found more than once.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// Finding is one sensitive span reported by a detector: the category it was
// classified as and the original text.
type Finding struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

// Mapping associates each placeholder token with the original span it
// replaced. Request-scoped; never persisted or logged.
type Mapping map[string]string

// placeholderPattern matches any placeholder-shaped token, with or without
// an ordinal suffix.
var placeholderPattern = regexp.MustCompile(`<[A-Z][A-Z0-9_]*>`)

// Apply replaces each finding's span in text with a fresh placeholder token
// and returns the masked text together with the placeholder mapping.
// Each finding consumes one occurrence of its span, left to right, so
// repeated spans receive distinct placeholders. Findings whose span no
// longer occurs (already consumed by an earlier overlapping finding) are
// skipped.
func Apply(text string, findings []Finding) (string, Mapping) {
	if len(findings) == 0 {
		return text, Mapping{}
	}

	masked := text
	mapping := make(Mapping, len(findings))
	ordinals := make(map[string]int, len(findings))

	for _, f := range findings {
		if f.Text == "" || !strings.Contains(masked, f.Text) {
			continue
		}
		ordinals[f.Category]++
		token := fmt.Sprintf("<%s_%d>", f.Category, ordinals[f.Category])
		masked = strings.Replace(masked, f.Text, token, 1)
		mapping[token] = f.Text
	}

	return masked, mapping
}

// Restore replaces every occurrence of each placeholder key in text with its
// original span. Keys absent from the text are a no-op; an empty mapping
// returns the text unchanged.
func Restore(text string, mapping Mapping) string {
	for token, original := range mapping {
		text = strings.ReplaceAll(text, token, original)
	}
	return text
}

// ContainsPlaceholder reports whether text still carries a
// placeholder-shaped token. Used after restoration to catch mapping
// mismatches.
func ContainsPlaceholder(text string) bool {
	return placeholderPattern.MatchString(text)
}
