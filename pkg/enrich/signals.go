package enrich

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

// Signals holds the deterministic keyword extraction results.
type Signals struct {
	Subjects       []string
	StudentLevels  []string
	SpecificLevels []string
	TutorTypes     []string
	RateBreakdown  []models.RateBreakdownEntry
}

// subjectAliases maps surface forms to canonical subject names. Longer
// aliases run first so "a math" wins over "math".
var subjectAliases = []struct{ alias, canonical string }{
	{"additional math", "A Math"},
	{"elementary math", "E Math"},
	{"a math", "A Math"},
	{"e math", "E Math"},
	{"add math", "A Math"},
	{"amath", "A Math"},
	{"emath", "E Math"},
	{"mathematics", "Math"},
	{"maths", "Math"},
	{"math", "Math"},
	{"general paper", "General Paper"},
	{"higher chinese", "Higher Chinese"},
	{"principles of accounts", "POA"},
	{"poa", "POA"},
	{"english", "English"},
	{"chinese", "Chinese"},
	{"malay", "Malay"},
	{"tamil", "Tamil"},
	{"hindi", "Hindi"},
	{"science", "Science"},
	{"physics", "Physics"},
	{"chemistry", "Chemistry"},
	{"biology", "Biology"},
	{"economics", "Economics"},
	{"econs", "Economics"},
	{"literature", "Literature"},
	{"geography", "Geography"},
	{"history", "History"},
	{"accounting", "POA"},
	{"computing", "Computing"},
	{"art", "Art"},
	{"music", "Music"},
	{"piano", "Piano"},
	{"violin", "Violin"},
	{"phonics", "Phonics"},
	{"gp", "General Paper"},
}

var subjectMatchers = compileAliasMatchers(subjectAliasPairs())

func subjectAliasPairs() [][2]string {
	out := make([][2]string, 0, len(subjectAliases))
	for _, sa := range subjectAliases {
		out = append(out, [2]string{sa.alias, sa.canonical})
	}
	return out
}

type aliasMatcher struct {
	re        *regexp.Regexp
	canonical string
}

func compileAliasMatchers(pairs [][2]string) []aliasMatcher {
	out := make([]aliasMatcher, 0, len(pairs))
	for _, p := range pairs {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(p[0]) + `\b`)
		out = append(out, aliasMatcher{re: re, canonical: p[1]})
	}
	return out
}

var (
	primaryLevelRegex   = regexp.MustCompile(`(?i)\b(?:p|pri|primary)\s?([1-6])\b`)
	secondaryLevelRegex = regexp.MustCompile(`(?i)\b(?:s|sec|secondary)\s?([1-5])\b`)
	jcLevelRegex        = regexp.MustCompile(`(?i)\b(?:j|jc)\s?([1-2])\b`)
	kinderLevelRegex    = regexp.MustCompile(`(?i)\b(?:k|kindergarten)\s?([1-2])\b`)

	bandRegexes = []struct {
		re   *regexp.Regexp
		band string
	}{
		{regexp.MustCompile(`(?i)\b(?:primary|pri)\b`), "Primary"},
		{regexp.MustCompile(`(?i)\b(?:secondary|sec)\b`), "Secondary"},
		{regexp.MustCompile(`(?i)\b(?:jc|junior college|a[ -]levels?)\b`), "JC"},
		{regexp.MustCompile(`(?i)\b(?:preschool|kindergarten|nursery|k[12])\b`), "Preschool"},
		{regexp.MustCompile(`(?i)\bib\b`), "IB"},
		{regexp.MustCompile(`(?i)\b(?:poly|polytechnic)\b`), "Poly"},
		{regexp.MustCompile(`(?i)\b(?:uni|university|undergrad(?:uate)?)\b`), "University"},
	}

	rateTokenRegex = regexp.MustCompile(`(?i)\$\s*(\d{2,3})(?:\s*-\s*\$?\s*(\d{2,3}))?(?:\s*(?:/|per\s*)(?:hr|hour|h|lesson)\b)?|\b(\d{2,3})(?:\s*-\s*(\d{2,3}))?\s*(?:/|per\s*)(?:hr|hour|h|lesson)\b`)

	lessonUnitRegex = regexp.MustCompile(`(?i)(?:/|per\s*)lesson\b`)
)

// rateAssocWindow is how far (in bytes) a tutor-type token may sit from a
// rate occurrence and still be associated with it.
const rateAssocWindow = 40

// ExtractSignals runs the keyword sweeps over one source text.
func ExtractSignals(text string, tax *config.Taxonomy) Signals {
	var sig Signals
	sig.Subjects = scanAliases(text, subjectMatchers)
	sig.StudentLevels, sig.SpecificLevels = scanLevels(text)

	typeMatchers := taxonomyMatchers(tax)
	sig.TutorTypes = scanAliases(text, typeMatchers)
	sig.RateBreakdown = scanRates(text, typeMatchers)
	return sig
}

// scanAliases returns canonical names ordered by first appearance. Matched
// regions are masked so a longer alias suppresses its substrings.
func scanAliases(text string, matchers []aliasMatcher) []string {
	type hit struct {
		idx       int
		canonical string
	}
	var hits []hit
	var mask []int
	for _, m := range matchers {
		for _, loc := range m.re.FindAllStringIndex(text, -1) {
			if overlaps(mask, loc[0], loc[1]) {
				continue
			}
			hits = append(hits, hit{loc[0], m.canonical})
			mask = append(mask, loc[0], loc[1])
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].idx < hits[j].idx })

	var out []string
	seen := map[string]bool{}
	for _, h := range hits {
		if seen[h.canonical] {
			continue
		}
		seen[h.canonical] = true
		out = append(out, h.canonical)
	}
	return out
}

func scanLevels(text string) (bands, specific []string) {
	type hit struct {
		idx   int
		label string
	}
	var specHits, bandHits []hit

	collect := func(re *regexp.Regexp, format string) {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			n := text[m[2]:m[3]]
			specHits = append(specHits, hit{m[0], format + " " + n})
		}
	}
	collect(primaryLevelRegex, "P")
	collect(secondaryLevelRegex, "Sec")
	collect(jcLevelRegex, "JC")
	collect(kinderLevelRegex, "K")

	for _, br := range bandRegexes {
		if loc := br.re.FindStringIndex(text); loc != nil {
			bandHits = append(bandHits, hit{loc[0], br.band})
		}
	}
	// specific levels imply their band
	for _, h := range specHits {
		switch h.label[0] {
		case 'P':
			bandHits = append(bandHits, hit{h.idx, "Primary"})
		case 'S':
			bandHits = append(bandHits, hit{h.idx, "Secondary"})
		case 'J':
			bandHits = append(bandHits, hit{h.idx, "JC"})
		case 'K':
			bandHits = append(bandHits, hit{h.idx, "Preschool"})
		}
	}

	dedupe := func(hits []hit) []string {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].idx < hits[j].idx })
		var out []string
		seen := map[string]bool{}
		for _, h := range hits {
			if seen[h.label] {
				continue
			}
			seen[h.label] = true
			out = append(out, h.label)
		}
		return out
	}
	specific = dedupe(specHits)
	for i, s := range specific {
		// "P 5" reads better as "P5"
		if strings.HasPrefix(s, "P ") || strings.HasPrefix(s, "K ") {
			specific[i] = strings.Replace(s, " ", "", 1)
		}
	}
	bands = dedupe(bandHits)
	return bands, specific
}

func taxonomyMatchers(tax *config.Taxonomy) []aliasMatcher {
	if tax == nil {
		return nil
	}
	var pairs [][2]string
	for label, spellings := range tax.Labels() {
		for _, a := range spellings {
			if strings.TrimSpace(a) == "" {
				continue
			}
			pairs = append(pairs, [2]string{a, label})
		}
	}
	// longest alias first so "ex moe teacher" masks "moe teacher" and "moe"
	sort.Slice(pairs, func(i, j int) bool {
		if len(pairs[i][0]) != len(pairs[j][0]) {
			return len(pairs[i][0]) > len(pairs[j][0])
		}
		return pairs[i][0] < pairs[j][0]
	})
	return compileAliasMatchers(pairs)
}

// scanRates associates each rate occurrence with the nearest tutor-type
// token within rateAssocWindow bytes. Unassociated occurrences produce no
// breakdown entry; the top-level rate field already covers them.
func scanRates(text string, typeMatchers []aliasMatcher) []models.RateBreakdownEntry {
	type typeHit struct {
		start, end int
		canonical  string
	}
	var typeHits []typeHit
	var mask []int
	for _, m := range typeMatchers {
		for _, loc := range m.re.FindAllStringIndex(text, -1) {
			if overlaps(mask, loc[0], loc[1]) {
				continue
			}
			typeHits = append(typeHits, typeHit{loc[0], loc[1], m.canonical})
			mask = append(mask, loc[0], loc[1])
		}
	}
	if len(typeHits) == 0 {
		return nil
	}

	var out []models.RateBreakdownEntry
	for _, m := range rateTokenRegex.FindAllStringSubmatchIndex(text, -1) {
		minTok := group(text, m, 1)
		maxTok := group(text, m, 2)
		if minTok == "" {
			minTok = group(text, m, 3)
			maxTok = group(text, m, 4)
		}
		if minTok == "" {
			continue
		}

		best := -1
		bestDist := rateAssocWindow + 1
		for i, th := range typeHits {
			dist := 0
			switch {
			case th.end <= m[0]:
				dist = m[0] - th.end
			case m[1] <= th.start:
				dist = th.start - m[1]
			}
			if dist < bestDist {
				bestDist = dist
				best = i
			}
		}
		if best < 0 {
			continue
		}

		entry := models.RateBreakdownEntry{
			TutorType:  typeHits[best].canonical,
			Currency:   "SGD",
			Unit:       "hour",
			Confidence: 1.0 - float64(bestDist)/float64(2*rateAssocWindow),
		}
		if lessonUnitRegex.MatchString(text[m[0]:m[1]]) {
			entry.Unit = "lesson"
		}
		if v, err := strconv.ParseFloat(minTok, 64); err == nil {
			entry.Min = &v
		}
		if maxTok != "" {
			if v, err := strconv.ParseFloat(maxTok, 64); err == nil {
				entry.Max = &v
			}
		}
		out = append(out, entry)
	}
	return out
}
