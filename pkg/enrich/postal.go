// Package enrich runs the deterministic stages over the LLM output: postal
// code fill, the time-availability parser, and signal extraction (subjects,
// levels, tutor types, rate breakdown).
package enrich

import "regexp"

var postalRegex = regexp.MustCompile(`\b\d{6}\b`)

// PostalCodes returns every 6-digit token in text, de-duplicated and
// order-preserving.
func PostalCodes(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, p := range postalRegex.FindAllString(text, -1) {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
