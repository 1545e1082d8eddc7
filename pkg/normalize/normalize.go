// Package normalize produces the canonical text form consumed by the LLM
// prompt and the deterministic extractors.
package normalize

import (
	"regexp"
	"strings"
)

// unicode dash variants folded to ASCII '-'
var dashReplacer = strings.NewReplacer(
	"‐", "-", // hyphen
	"‑", "-", // non-breaking hyphen
	"‒", "-", // figure dash
	"–", "-", // en dash
	"—", "-", // em dash
	"―", "-", // horizontal bar
	"−", "-", // minus sign
	"﹘", "-", // small em dash
	"－", "-", // fullwidth hyphen-minus
)

var (
	// 7.30pm → 7:30pm
	timeDotRegex = regexp.MustCompile(`(?i)(\d{1,2})\.(\d{2})(\s*[ap]m)`)

	// sec3 → sec 3, jc1 → jc 1, p5 → p 5
	levelGlueRegex = regexp.MustCompile(`(?i)\b(sec|jc|year|s|j|p|k)(\d{1,2})\b`)

	// runs of spaces/tabs within a line
	spaceRunRegex = regexp.MustCompile(`[ \t]+`)

	// three or more newlines become a single paragraph break
	paraRunRegex = regexp.MustCompile(`\n{3,}`)
)

// Text returns the canonical form of raw. The function is idempotent:
// Text(Text(s)) == Text(s).
func Text(raw string) string {
	if raw == "" {
		return ""
	}

	s := dashReplacer.Replace(raw)
	s = timeDotRegex.ReplaceAllString(s, "$1:$2$3")
	s = levelGlueRegex.ReplaceAllString(s, "$1 $2")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunRegex.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = paraRunRegex.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}
