package enrich

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

// Span records where a parsing rule fired in the normalized text.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
	Rule  string `json:"rule"`
}

// TimeResult is the parser output: the availability block plus warnings and
// the evidence spans behind every rule that fired.
type TimeResult struct {
	Availability *models.TimeAvailability `json:"availability"`
	Warnings     []string                 `json:"warnings,omitempty"`
	Evidence     []Span                   `json:"evidence,omitempty"`

	warnSeen map[string]bool
}

var (
	dayRangeRegex = regexp.MustCompile(`(?i)\b(mon|tues?|wed|thur?s?|fri|sat|sun)[a-z]*\s*(?:-|to)\s*(mon|tues?|wed|thur?s?|fri|sat|sun)[a-z]*\b`)
	dayTokenRegex = regexp.MustCompile(`(?i)\b(mondays?|mon|tuesdays?|tues?|wednesdays?|weds?|thursdays?|thur?s?|fridays?|fri|saturdays?|sat|sundays?|sun|weekdays?|weekends?|daily|everyday|every\s+day)\b`)

	timeRangeRegex   = regexp.MustCompile(`(?i)\b(\d{1,4})(?:[:.](\d{2}))?\s*(am|pm)?\s*(?:-|to|till|until)\s*(\d{1,4})(?:[:.](\d{2}))?\s*(am|pm)?\b`)
	afterBeforeRegex = regexp.MustCompile(`(?i)\b(after|before|from)\s+(\d{1,4})(?:[:.](\d{2}))?\s*(am|pm)?\b`)
	singleMerRegex   = regexp.MustCompile(`(?i)\b(\d{1,4})(?:[:.](\d{2}))?\s*(am|pm)\b`)
	single24Regex    = regexp.MustCompile(`\b([01]?\d|2[0-3])[:.]([0-5]\d)\b`)
	fuzzyWordRegex   = regexp.MustCompile(`(?i)\b(morning|afternoon|evening|night)s?\b`)

	noteKeywordRegex = regexp.MustCompile(`(?i)\b(tbc|to be confirmed|flexible|tutor to propose)\b`)
	negationRegex    = regexp.MustCompile(`(?i)\b(no|not|except|cannot|can'?t|unavailable|avoid)\b`)
)

// fuzzy words map to fixed estimated windows.
var fuzzyWindows = map[string][2]int{
	"morning":   {8 * 60, 12 * 60},
	"afternoon": {12 * 60, 17 * 60},
	"evening":   {16 * 60, 21 * 60},
	"night":     {19 * 60, 23 * 60},
}

// broad day-sets with no concrete time get this whole-day window.
const (
	broadDefaultStart = 8 * 60
	broadDefaultEnd   = 23 * 60
)

type window struct {
	start, end int // minutes of day
	estimated  bool
}

type daySet struct {
	days  []int
	broad bool
}

func (d *daySet) add(day int) {
	for _, existing := range d.days {
		if existing == day {
			return
		}
	}
	d.days = append(d.days, day)
}

type clause struct {
	text string
	off  int
}

// ParseTimeAvailability derives the structured availability block from the
// normalized text. Output day-maps always contain all seven days; every slot
// is "HH:MM-HH:MM" with start <= end.
func ParseTimeAvailability(text string) *TimeResult {
	res := &TimeResult{
		Availability: models.NewTimeAvailability(),
		warnSeen:     make(map[string]bool),
	}
	if strings.TrimSpace(text) == "" {
		return res
	}

	if loc := noteKeywordRegex.FindStringIndex(text); loc != nil {
		note := text[loc[0]:loc[1]]
		res.Availability.Note = &note
		res.addEvidence(Span{loc[0], loc[1], note, "note"})
	}

	var pending *daySet

	lineStart := 0
	for _, line := range strings.Split(text, "\n") {
		clauses := splitClauses(line, lineStart)
		lineStart += len(line) + 1

		type clauseInfo struct {
			days daySet
			wins []window
		}
		infos := make([]clauseInfo, 0, len(clauses))
		lineWindows := 0
		for _, cl := range clauses {
			days := res.findDays(cl)
			wins := res.findWindows(cl)
			if len(wins) > 0 && negationRegex.MatchString(cl.text) {
				res.addWarning("negation_detected_near_time")
			}
			lineWindows += len(wins)
			infos = append(infos, clauseInfo{days, wins})
		}

		var namedPending *daySet
		for _, in := range infos {
			switch {
			case len(in.days.days) > 0 && len(in.wins) > 0:
				res.apply(in.days, in.wins)
			case in.days.broad:
				res.apply(in.days, []window{{start: broadDefaultStart, end: broadDefaultEnd, estimated: true}})
			case len(in.days.days) > 0:
				if namedPending == nil {
					namedPending = &daySet{}
				}
				for _, d := range in.days.days {
					namedPending.add(d)
				}
			case len(in.wins) > 0:
				if pending != nil {
					res.apply(*pending, in.wins)
				} else {
					res.addWarning("time_without_day")
				}
			}
		}

		// carry-over state: a line of named days with no time anywhere waits
		// for the next line to bring one; any line with times ends the wait.
		if lineWindows > 0 {
			pending = nil
		} else if namedPending != nil {
			pending = namedPending
		}
	}

	return res
}

func (r *TimeResult) apply(ds daySet, wins []window) {
	for _, w := range wins {
		slot := slotString(w.start, w.end)
		target := &r.Availability.Explicit
		if ds.broad || w.estimated {
			target = &r.Availability.Estimated
		}
		for _, d := range ds.days {
			target.Add(d, slot)
		}
	}
}

func (r *TimeResult) addWarning(w string) {
	if r.warnSeen[w] {
		return
	}
	r.warnSeen[w] = true
	r.Warnings = append(r.Warnings, w)
}

func (r *TimeResult) addEvidence(s Span) {
	r.Evidence = append(r.Evidence, s)
}

func splitClauses(line string, base int) []clause {
	var out []clause
	start := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '/', ';', '|':
			out = append(out, clause{line[start:i], base + start})
			start = i + 1
		}
	}
	return append(out, clause{line[start:], base + start})
}

func (r *TimeResult) findDays(cl clause) daySet {
	var ds daySet
	var mask []int

	for _, m := range dayRangeRegex.FindAllStringSubmatchIndex(cl.text, -1) {
		from := dayIndex(cl.text[m[2]:m[3]])
		to := dayIndex(cl.text[m[4]:m[5]])
		if from < 0 || to < 0 {
			continue
		}
		for d := from; ; d = (d + 1) % 7 {
			ds.add(d)
			if d == to {
				break
			}
		}
		ds.broad = true
		r.addEvidence(Span{cl.off + m[0], cl.off + m[1], cl.text[m[0]:m[1]], "day_range"})
		mask = append(mask, m[0], m[1])
	}

	for _, m := range dayTokenRegex.FindAllStringIndex(cl.text, -1) {
		if overlaps(mask, m[0], m[1]) {
			continue
		}
		tok := strings.ToLower(cl.text[m[0]:m[1]])
		switch {
		case strings.HasPrefix(tok, "weekday"):
			for d := models.Monday; d <= models.Friday; d++ {
				ds.add(d)
			}
			ds.broad = true
			r.addEvidence(Span{cl.off + m[0], cl.off + m[1], cl.text[m[0]:m[1]], "broad_days"})
		case strings.HasPrefix(tok, "weekend"):
			ds.add(models.Saturday)
			ds.add(models.Sunday)
			ds.broad = true
			r.addEvidence(Span{cl.off + m[0], cl.off + m[1], cl.text[m[0]:m[1]], "broad_days"})
		case tok == "daily" || tok == "everyday" || strings.HasPrefix(tok, "every"):
			for d := 0; d < 7; d++ {
				ds.add(d)
			}
			ds.broad = true
			r.addEvidence(Span{cl.off + m[0], cl.off + m[1], cl.text[m[0]:m[1]], "broad_days"})
		default:
			if d := dayIndex(tok); d >= 0 {
				ds.add(d)
			}
		}
	}
	return ds
}

func dayIndex(tok string) int {
	if len(tok) < 3 {
		return -1
	}
	switch strings.ToLower(tok[:3]) {
	case "mon":
		return models.Monday
	case "tue":
		return models.Tuesday
	case "wed":
		return models.Wednesday
	case "thu":
		return models.Thursday
	case "fri":
		return models.Friday
	case "sat":
		return models.Saturday
	case "sun":
		return models.Sunday
	}
	return -1
}

func (r *TimeResult) findWindows(cl clause) []window {
	var wins []window
	var mask []int

	for _, m := range timeRangeRegex.FindAllStringSubmatchIndex(cl.text, -1) {
		mer1 := strings.ToLower(group(cl.text, m, 3))
		mer2 := strings.ToLower(group(cl.text, m, 6))
		start, ok1 := parseClock(group(cl.text, m, 1), group(cl.text, m, 2), mer1, mer2)
		end, ok2 := parseClock(group(cl.text, m, 4), group(cl.text, m, 5), mer2, mer1)
		if !ok1 || !ok2 {
			continue
		}
		if end < start && mer1 == "" && mer2 == "pm" {
			// "10-12pm" reads as morning start, not 22:00
			if am, ok := parseClock(group(cl.text, m, 1), group(cl.text, m, 2), "am", ""); ok && am <= end {
				start = am
			}
		}
		if end < start {
			start, end = end, start
		}
		wins = append(wins, window{start: start, end: end})
		r.addEvidence(Span{cl.off + m[0], cl.off + m[1], cl.text[m[0]:m[1]], "explicit_range"})
		mask = append(mask, m[0], m[1])
	}

	for _, m := range afterBeforeRegex.FindAllStringSubmatchIndex(cl.text, -1) {
		if overlaps(mask, m[0], m[1]) {
			continue
		}
		t, ok := parseClock(group(cl.text, m, 2), group(cl.text, m, 3), strings.ToLower(group(cl.text, m, 4)), "")
		if !ok {
			continue
		}
		kw := strings.ToLower(group(cl.text, m, 1))
		w := window{estimated: true}
		rule := ""
		switch kw {
		case "before":
			w.start, w.end, rule = broadDefaultStart, t, "before_time"
		case "from":
			w.start, w.end, rule = t, 23*60, "from_time"
		default:
			w.start, w.end, rule = t, 23*60, "after_time"
		}
		if w.end < w.start {
			continue
		}
		wins = append(wins, w)
		r.addEvidence(Span{cl.off + m[0], cl.off + m[1], cl.text[m[0]:m[1]], rule})
		mask = append(mask, m[0], m[1])
	}

	for _, m := range singleMerRegex.FindAllStringSubmatchIndex(cl.text, -1) {
		if overlaps(mask, m[0], m[1]) {
			continue
		}
		t, ok := parseClock(group(cl.text, m, 1), group(cl.text, m, 2), strings.ToLower(group(cl.text, m, 3)), "")
		if !ok {
			continue
		}
		wins = append(wins, window{start: t, end: t})
		r.addEvidence(Span{cl.off + m[0], cl.off + m[1], cl.text[m[0]:m[1]], "single_time"})
		mask = append(mask, m[0], m[1])
	}

	for _, m := range single24Regex.FindAllStringSubmatchIndex(cl.text, -1) {
		if overlaps(mask, m[0], m[1]) {
			continue
		}
		t, ok := parseClock(group(cl.text, m, 1), group(cl.text, m, 2), "", "")
		if !ok {
			continue
		}
		wins = append(wins, window{start: t, end: t})
		r.addEvidence(Span{cl.off + m[0], cl.off + m[1], cl.text[m[0]:m[1]], "single_time"})
		mask = append(mask, m[0], m[1])
	}

	for _, m := range fuzzyWordRegex.FindAllStringSubmatchIndex(cl.text, -1) {
		if overlaps(mask, m[0], m[1]) {
			continue
		}
		bounds, ok := fuzzyWindows[strings.ToLower(group(cl.text, m, 1))]
		if !ok {
			continue
		}
		wins = append(wins, window{start: bounds[0], end: bounds[1], estimated: true})
		r.addEvidence(Span{cl.off + m[0], cl.off + m[1], cl.text[m[0]:m[1]], "fuzzy_word"})
	}

	return wins
}

// parseClock converts one time token to minutes of day. A side with no
// meridiem inherits the other side's; compact forms (730pm) need one; bare
// numbers without meridiem or minutes are not times.
func parseClock(hh, mm, mer, assume string) (int, bool) {
	if mer == "" {
		mer = assume
	}
	hadMinutes := mm != ""

	if len(hh) >= 3 {
		if hadMinutes || mer == "" {
			return 0, false
		}
		hh, mm = hh[:len(hh)-2], hh[len(hh)-2:]
		hadMinutes = true
	}

	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, false
	}
	minutes := 0
	if mm != "" {
		if minutes, err = strconv.Atoi(mm); err != nil || minutes > 59 {
			return 0, false
		}
	}

	if mer != "" {
		if h < 1 || h > 12 {
			return 0, false
		}
		if mer == "pm" && h != 12 {
			h += 12
		}
		if mer == "am" && h == 12 {
			h = 0
		}
	} else {
		if !hadMinutes || h > 23 {
			return 0, false
		}
	}
	return h*60 + minutes, true
}

func slotString(start, end int) string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", start/60, start%60, end/60, end%60)
}

func group(s string, m []int, i int) string {
	if m[2*i] < 0 {
		return ""
	}
	return s[m[2*i]:m[2*i+1]]
}

func overlaps(mask []int, a, b int) bool {
	for i := 0; i+1 < len(mask); i += 2 {
		if a < mask[i+1] && mask[i] < b {
			return true
		}
	}
	return false
}
