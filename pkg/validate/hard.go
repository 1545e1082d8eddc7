// Package validate holds the two gates between LLM output and persistence:
// the hard validator that enforces field types and record invariants on the
// raw record, and the coarser schema check that runs after enrichment.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

// listFields are the list-of-string keys of the record schema.
var listFields = []string{
	"subjects",
	"student_levels",
	"specific_levels",
	"address",
	"postal_code",
	"postal_code_estimated",
	"nearest_mrt",
	"lesson_schedule",
	"tutor_types",
}

// numericFields are scalar keys that must decode as numbers.
var numericFields = []string{"lessons_per_week", "hours_per_lesson"}

// stringFields are scalar keys that must decode as strings.
var stringFields = []string{"assignment_code", "academic_display_text", "start_date"}

var (
	slotRegex          = regexp.MustCompile(`^(\d{2}):(\d{2})-(\d{2}):(\d{2})$`)
	quoteLikeRegex     = regexp.MustCompile(`(?i)\b(tutor\s+to\s+quote|pls\s+quote|please\s+quote|market\s+rate|tbc|negotiable)\b`)
	remarksMarkerRegex = regexp.MustCompile(`(?im)^\s*(?:remark|note|comment|additional\s+requirement)s?\s*:`)
)

var dayKeys = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// Hard enforces types and invariants on a raw LLM record and returns the
// cleaned record with the list of violations. Mode report returns the input
// untouched; mode off does nothing.
func Hard(rec map[string]any, rawText string, mode config.HardValidateMode) (map[string]any, []string) {
	if mode == config.HardValidateOff || rec == nil {
		return rec, nil
	}

	out := cloneValue(rec).(map[string]any)
	var violations []string
	add := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	cleanLearningMode(out, add)
	for _, field := range listFields {
		cleanStringList(out, field, add)
	}
	for _, field := range numericFields {
		cleanNumeric(out, field, add)
	}
	for _, field := range stringFields {
		cleanString(out, field, add)
	}
	cleanTimeAvailability(out, add)
	cleanRate(out, add)
	cleanRemarks(out, rawText, add)

	if mode == config.HardValidateReport {
		return rec, violations
	}
	return out, violations
}

func cleanLearningMode(rec map[string]any, add func(string, ...any)) {
	v, ok := rec["learning_mode"]
	if !ok || v == nil {
		return
	}
	// a bare string is accepted and wrapped
	if s, isStr := v.(string); isStr {
		v = map[string]any{"mode": s}
		rec["learning_mode"] = v
	}
	m, isMap := v.(map[string]any)
	if !isMap {
		add("MODE: learning_mode is not an object, cleared")
		rec["learning_mode"] = nil
		return
	}
	mode, _ := m["mode"].(string)
	if m["mode"] == nil {
		return
	}
	if !models.KnownMode(models.LearningModeKind(mode)) {
		add("MODE: unknown learning mode %q, cleared", m["mode"])
		m["mode"] = nil
	}
}

func cleanStringList(rec map[string]any, field string, add func(string, ...any)) {
	v, ok := rec[field]
	if !ok || v == nil {
		return
	}
	if s, isStr := v.(string); isStr {
		add("LIST: %s is a bare string, wrapped", field)
		rec[field] = []any{s}
		return
	}
	list, isList := v.([]any)
	if !isList {
		add("LIST: %s is not an array, cleared", field)
		rec[field] = []any{}
		return
	}
	kept := make([]any, 0, len(list))
	for _, item := range list {
		if s, isStr := item.(string); isStr {
			kept = append(kept, s)
			continue
		}
		add("LIST: %s contains non-string entry %v, dropped", field, item)
	}
	rec[field] = kept
}

func cleanNumeric(rec map[string]any, field string, add func(string, ...any)) {
	v, ok := rec[field]
	if !ok || v == nil {
		return
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		add("NUMERIC: %s value %v is not numeric, cleared", field, v)
		rec[field] = nil
		return
	}
	rec[field] = f
}

func cleanString(rec map[string]any, field string, add func(string, ...any)) {
	v, ok := rec[field]
	if !ok || v == nil {
		return
	}
	if _, isStr := v.(string); !isStr {
		add("STRING: %s value %v is not a string, cleared", field, v)
		rec[field] = nil
	}
}

func cleanTimeAvailability(rec map[string]any, add func(string, ...any)) {
	v, ok := rec["time_availability"]
	if !ok || v == nil {
		return
	}
	ta, isMap := v.(map[string]any)
	if !isMap {
		add("TIME_SLOT: time_availability is not an object, cleared")
		rec["time_availability"] = nil
		return
	}
	for _, section := range []string{"explicit", "estimated"} {
		sv, present := ta[section]
		if !present || sv == nil {
			continue
		}
		days, isDays := sv.(map[string]any)
		if !isDays {
			add("TIME_SLOT: %s is not an object, cleared", section)
			ta[section] = map[string]any{}
			continue
		}
		cleaned := make(map[string]any, len(dayKeys))
		for _, day := range dayKeys {
			cleaned[day] = cleanSlots(days[day], section, day, add)
		}
		for day := range days {
			if !validDay(day) {
				add("TIME_SLOT: %s has unknown day %q, dropped", section, day)
			}
		}
		ta[section] = cleaned
	}
	if note, present := ta["note"]; present && note != nil {
		if _, isStr := note.(string); !isStr {
			add("TIME_SLOT: note is not a string, cleared")
			ta["note"] = nil
		}
	}
}

func cleanSlots(v any, section, day string, add func(string, ...any)) []any {
	out := []any{}
	list, isList := v.([]any)
	if v != nil && !isList {
		add("TIME_SLOT: %s.%s is not an array, cleared", section, day)
		return out
	}
	seen := map[string]bool{}
	for _, item := range list {
		s, isStr := item.(string)
		if !isStr || !validSlot(s) {
			add("TIME_SLOT: %s.%s slot %v invalid, dropped", section, day, item)
			continue
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// validSlot checks HH:MM-HH:MM shape, clock validity, and start <= end. The
// zero-padded form makes the string comparison equivalent to numeric order.
func validSlot(s string) bool {
	m := slotRegex.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	for _, idx := range []int{1, 3} {
		if m[idx] > "23" {
			return false
		}
	}
	for _, idx := range []int{2, 4} {
		if m[idx] > "59" {
			return false
		}
	}
	return s[:5] <= s[6:]
}

func validDay(day string) bool {
	for _, d := range dayKeys {
		if d == day {
			return true
		}
	}
	return false
}

func cleanRate(rec map[string]any, add func(string, ...any)) {
	v, ok := rec["rate"]
	if !ok || v == nil {
		return
	}
	rate, isMap := v.(map[string]any)
	if !isMap {
		add("RATE: rate is not an object, cleared")
		rec["rate"] = nil
		return
	}

	coerce := func(key string) *float64 {
		rv, present := rate[key]
		if !present || rv == nil {
			return nil
		}
		f, err := cast.ToFloat64E(rv)
		if err != nil {
			add("RATE: %s value %v is not numeric, cleared", key, rv)
			rate[key] = nil
			return nil
		}
		rate[key] = f
		return &f
	}
	minV := coerce("min")
	maxV := coerce("max")

	raw, _ := rate["raw_text"].(string)
	if rt, present := rate["raw_text"]; present && rt != nil {
		if _, isStr := rt.(string); !isStr {
			add("RATE: raw_text is not a string, cleared")
			rate["raw_text"] = nil
			raw = ""
		}
	}

	clearBounds := func(reason string) {
		if minV == nil && maxV == nil {
			return
		}
		add("RATE: min/max cleared, %s", reason)
		rate["min"], rate["max"] = nil, nil
		minV, maxV = nil, nil
	}

	if (minV != nil || maxV != nil) && strings.TrimSpace(raw) == "" {
		clearBounds("no raw_text to back them")
	}
	if quoteLikeRegex.MatchString(raw) {
		clearBounds(fmt.Sprintf("raw_text %q is quote-like", raw))
	}
	if minV != nil && maxV != nil && *minV > *maxV {
		clearBounds("min exceeds max")
	}
}

func cleanRemarks(rec map[string]any, rawText string, add func(string, ...any)) {
	v, ok := rec["additional_remarks"]
	if !ok || v == nil {
		return
	}
	s, isStr := v.(string)
	if !isStr {
		add("REMARKS: additional_remarks is not a string, cleared")
		rec["additional_remarks"] = nil
		return
	}
	if !remarksMarkerRegex.MatchString(rawText) {
		add("REMARKS: no remarks marker in source text, cleared")
		rec["additional_remarks"] = nil
		return
	}
	if !strings.Contains(fold(rawText), fold(s)) {
		add("REMARKS: value is not grounded in source text, cleared")
		rec["additional_remarks"] = nil
	}
}

// fold collapses whitespace runs and lowercases, for substring grounding.
func fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return t
	}
}
