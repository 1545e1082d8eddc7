package enrich

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeAvailabilityExplicitSingle(t *testing.T) {
	res := ParseTimeAvailability("Timing: TUESDAY AT 7PM")
	require.NotNil(t, res.Availability)

	assert.Equal(t, []string{"19:00-19:00"}, res.Availability.Explicit.Tuesday)
	assert.Empty(t, res.Availability.Explicit.Monday)
	assert.Empty(t, res.Availability.Estimated.Tuesday)
	assert.Nil(t, res.Availability.Note)
	assert.Empty(t, res.Warnings)
}

func TestParseTimeAvailabilityMixedLine(t *testing.T) {
	res := ParseTimeAvailability("Weekdays at 730pm / Saturday flexible / No Sunday before 3pm")
	require.NotNil(t, res.Availability)

	est := res.Availability.Estimated
	for _, slots := range []([]string){est.Monday, est.Tuesday, est.Wednesday, est.Thursday, est.Friday} {
		assert.Equal(t, []string{"19:30-19:30"}, slots)
	}
	assert.Empty(t, est.Saturday)
	assert.Empty(t, res.Availability.Explicit.Saturday)
	assert.Equal(t, []string{"08:00-15:00"}, est.Sunday)

	require.NotNil(t, res.Availability.Note)
	assert.Equal(t, "flexible", *res.Availability.Note)
	assert.Contains(t, res.Warnings, "negation_detected_near_time")
}

func TestParseTimeAvailabilityRanges(t *testing.T) {
	tests := []struct {
		name string
		text string
		day  func(*TimeResult) []string
		want []string
		est  bool
	}{
		{
			name: "range with shared meridiem",
			text: "Wednesday 2-4pm",
			day:  func(r *TimeResult) []string { return r.Availability.Explicit.Wednesday },
			want: []string{"14:00-16:00"},
		},
		{
			name: "24h range",
			text: "Friday 14:00-16:00",
			day:  func(r *TimeResult) []string { return r.Availability.Explicit.Friday },
			want: []string{"14:00-16:00"},
		},
		{
			name: "compact range",
			text: "Mon 730pm-930pm",
			day:  func(r *TimeResult) []string { return r.Availability.Explicit.Monday },
			want: []string{"19:30-21:30"},
		},
		{
			name: "after produces open window",
			text: "Thursday after 6pm",
			day:  func(r *TimeResult) []string { return r.Availability.Estimated.Thursday },
			want: []string{"18:00-23:00"},
		},
		{
			name: "before caps the window",
			text: "Sat before 12pm",
			day:  func(r *TimeResult) []string { return r.Availability.Estimated.Saturday },
			want: []string{"08:00-12:00"},
		},
		{
			name: "from behaves like after",
			text: "Tue from 5pm",
			day:  func(r *TimeResult) []string { return r.Availability.Estimated.Tuesday },
			want: []string{"17:00-23:00"},
		},
		{
			name: "fuzzy morning",
			text: "Saturday morning",
			day:  func(r *TimeResult) []string { return r.Availability.Estimated.Saturday },
			want: []string{"08:00-12:00"},
		},
		{
			name: "fuzzy evening",
			text: "Sunday evening",
			day:  func(r *TimeResult) []string { return r.Availability.Estimated.Sunday },
			want: []string{"16:00-21:00"},
		},
		{
			name: "inverted meridiem inheritance",
			text: "Mon 10-12pm",
			day:  func(r *TimeResult) []string { return r.Availability.Explicit.Monday },
			want: []string{"10:00-12:00"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseTimeAvailability(tt.text)
			assert.Equal(t, tt.want, tt.day(res))
		})
	}
}

func TestParseTimeAvailabilityBroadDays(t *testing.T) {
	t.Run("weekdays with concrete time stay estimated", func(t *testing.T) {
		res := ParseTimeAvailability("Weekdays 3pm-5pm")
		assert.Equal(t, []string{"15:00-17:00"}, res.Availability.Estimated.Monday)
		assert.Empty(t, res.Availability.Explicit.Monday)
	})

	t.Run("day range is always estimated", func(t *testing.T) {
		res := ParseTimeAvailability("Mon-Fri 2-4pm")
		for _, slots := range [][]string{
			res.Availability.Estimated.Monday,
			res.Availability.Estimated.Wednesday,
			res.Availability.Estimated.Friday,
		} {
			assert.Equal(t, []string{"14:00-16:00"}, slots)
		}
		assert.Empty(t, res.Availability.Estimated.Saturday)
	})

	t.Run("weekends without time default to whole day", func(t *testing.T) {
		res := ParseTimeAvailability("Available on weekends")
		assert.Equal(t, []string{"08:00-23:00"}, res.Availability.Estimated.Saturday)
		assert.Equal(t, []string{"08:00-23:00"}, res.Availability.Estimated.Sunday)
		assert.Empty(t, res.Availability.Estimated.Monday)
	})

	t.Run("daily without time covers all days", func(t *testing.T) {
		res := ParseTimeAvailability("Can start daily")
		for d := 0; d < 7; d++ {
			assert.Equal(t, []string{"08:00-23:00"}, res.Availability.Estimated.Day(d))
		}
	})
}

func TestParseTimeAvailabilityCarryOver(t *testing.T) {
	res := ParseTimeAvailability("Days: Mon, Wed, Fri\n3pm-6pm")

	for _, slots := range [][]string{
		res.Availability.Explicit.Monday,
		res.Availability.Explicit.Wednesday,
		res.Availability.Explicit.Friday,
	} {
		assert.Equal(t, []string{"15:00-18:00"}, slots)
	}
	assert.Empty(t, res.Availability.Explicit.Tuesday)
	assert.NotContains(t, res.Warnings, "time_without_day")
}

func TestParseTimeAvailabilityNotes(t *testing.T) {
	t.Run("tbc populates note without windows", func(t *testing.T) {
		res := ParseTimeAvailability("Timing tbc")
		require.NotNil(t, res.Availability.Note)
		assert.Equal(t, "tbc", *res.Availability.Note)
		assert.True(t, res.Availability.Empty())
	})

	t.Run("tutor to propose", func(t *testing.T) {
		res := ParseTimeAvailability("Schedule: tutor to propose")
		require.NotNil(t, res.Availability.Note)
		assert.Equal(t, "tutor to propose", *res.Availability.Note)
	})
}

func TestParseTimeAvailabilityNonTimes(t *testing.T) {
	// numeric ranges that are not clock times must not produce windows
	for _, text := range []string{
		"Rate: $40-60/h on Monday",
		"2-4 lessons per week",
		"Postal 520123",
	} {
		res := ParseTimeAvailability(text)
		for d := 0; d < 7; d++ {
			assert.Empty(t, res.Availability.Explicit.Day(d), "text %q day %d", text, d)
			assert.Empty(t, res.Availability.Estimated.Day(d), "text %q day %d", text, d)
		}
	}
}

func TestParseTimeAvailabilityTimeWithoutDay(t *testing.T) {
	res := ParseTimeAvailability("Prefer 7pm onwards")
	assert.Contains(t, res.Warnings, "time_without_day")
	assert.True(t, res.Availability.Empty())
}

func TestParseTimeAvailabilitySlotShape(t *testing.T) {
	slotRe := regexp.MustCompile(`^([0-2]\d):([0-5]\d)-([0-2]\d):([0-5]\d)$`)
	texts := []string{
		"Timing: TUESDAY AT 7PM",
		"Weekdays at 730pm / Saturday flexible / No Sunday before 3pm",
		"Mon-Fri 2-4pm\nWeekends morning",
		"Wednesday 14:00-16:00; Thursday after 6pm",
	}
	for _, text := range texts {
		res := ParseTimeAvailability(text)
		raw, err := json.Marshal(res.Availability)
		require.NoError(t, err)

		var decoded struct {
			Explicit  map[string][]string `json:"explicit"`
			Estimated map[string][]string `json:"estimated"`
		}
		require.NoError(t, json.Unmarshal(raw, &decoded))

		for _, m := range []map[string][]string{decoded.Explicit, decoded.Estimated} {
			require.Len(t, m, 7, "text %q", text)
			for day, slots := range m {
				seen := map[string]bool{}
				for _, slot := range slots {
					require.Regexp(t, slotRe, slot, "text %q day %s", text, day)
					assert.LessOrEqual(t, slot[:5], slot[6:], "start must not exceed end")
					assert.False(t, seen[slot], "duplicate slot %s", slot)
					seen[slot] = true
				}
			}
		}
	}
}

func TestParseTimeAvailabilityEvidence(t *testing.T) {
	text := "Timing: TUESDAY AT 7PM"
	res := ParseTimeAvailability(text)

	require.NotEmpty(t, res.Evidence)
	var found bool
	for _, sp := range res.Evidence {
		assert.Equal(t, sp.Text, text[sp.Start:sp.End])
		if sp.Rule == "single_time" {
			found = true
			assert.Equal(t, "7PM", sp.Text)
		}
	}
	assert.True(t, found, "expected a single_time span")
}

func TestParseTimeAvailabilityEmpty(t *testing.T) {
	res := ParseTimeAvailability("   ")
	require.NotNil(t, res.Availability)
	assert.True(t, res.Availability.Empty())
	assert.Empty(t, res.Warnings)
}
