package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
)

func rateOf(rec map[string]any) map[string]any {
	return rec["rate"].(map[string]any)
}

func TestHardQuoteLikeRate(t *testing.T) {
	rec := map[string]any{
		"rate": map[string]any{"min": 40.0, "max": 60.0, "raw_text": "pls quote"},
	}
	out, violations := Hard(rec, "some raw text", config.HardValidateEnforce)

	rate := rateOf(out)
	assert.Nil(t, rate["min"])
	assert.Nil(t, rate["max"])
	assert.Equal(t, "pls quote", rate["raw_text"])

	require.NotEmpty(t, violations)
	assert.Contains(t, violations[0], "RATE:")

	// input is not mutated
	assert.Equal(t, 40.0, rateOf(rec)["min"])
}

func TestHardRateRules(t *testing.T) {
	tests := []struct {
		name     string
		rate     map[string]any
		wantMin  any
		wantMax  any
		violated bool
	}{
		{
			name:     "min max without raw text",
			rate:     map[string]any{"min": 40.0, "max": 60.0, "raw_text": nil},
			wantMin:  nil,
			wantMax:  nil,
			violated: true,
		},
		{
			name:     "min exceeds max",
			rate:     map[string]any{"min": 80.0, "max": 60.0, "raw_text": "$80-60/h"},
			wantMin:  nil,
			wantMax:  nil,
			violated: true,
		},
		{
			name:     "market rate is quote-like",
			rate:     map[string]any{"min": 50.0, "max": nil, "raw_text": "market rate"},
			wantMin:  nil,
			wantMax:  nil,
			violated: true,
		},
		{
			name:     "healthy rate untouched",
			rate:     map[string]any{"min": 40.0, "max": 60.0, "raw_text": "$40-60/h"},
			wantMin:  40.0,
			wantMax:  60.0,
			violated: false,
		},
		{
			name:     "numeric strings coerced",
			rate:     map[string]any{"min": "40", "max": "60", "raw_text": "$40-60/h"},
			wantMin:  40.0,
			wantMax:  60.0,
			violated: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, violations := Hard(map[string]any{"rate": tt.rate}, "raw", config.HardValidateEnforce)
			rate := rateOf(out)
			assert.Equal(t, tt.wantMin, rate["min"])
			assert.Equal(t, tt.wantMax, rate["max"])
			if tt.violated {
				assert.NotEmpty(t, violations)
			} else {
				assert.Empty(t, violations)
			}
		})
	}
}

func TestHardLearningMode(t *testing.T) {
	t.Run("unknown mode cleared", func(t *testing.T) {
		rec := map[string]any{"learning_mode": map[string]any{"mode": "Telepathy"}}
		out, violations := Hard(rec, "", config.HardValidateEnforce)

		assert.Nil(t, out["learning_mode"].(map[string]any)["mode"])
		require.Len(t, violations, 1)
		assert.Contains(t, violations[0], "MODE:")
	})

	t.Run("bare string wrapped", func(t *testing.T) {
		rec := map[string]any{"learning_mode": "Online"}
		out, violations := Hard(rec, "", config.HardValidateEnforce)

		assert.Equal(t, "Online", out["learning_mode"].(map[string]any)["mode"])
		assert.Empty(t, violations)
	})

	t.Run("known modes pass", func(t *testing.T) {
		for _, mode := range []string{"Online", "Face-to-Face", "Hybrid"} {
			rec := map[string]any{"learning_mode": map[string]any{"mode": mode}}
			out, violations := Hard(rec, "", config.HardValidateEnforce)
			assert.Equal(t, mode, out["learning_mode"].(map[string]any)["mode"])
			assert.Empty(t, violations)
		}
	})
}

func TestHardListFields(t *testing.T) {
	rec := map[string]any{
		"subjects":       []any{"Math", 3.0, "Physics", nil},
		"student_levels": "Secondary",
		"postal_code":    map[string]any{"oops": true},
	}
	out, violations := Hard(rec, "", config.HardValidateEnforce)

	assert.Equal(t, []any{"Math", "Physics"}, out["subjects"])
	assert.Equal(t, []any{"Secondary"}, out["student_levels"])
	assert.Equal(t, []any{}, out["postal_code"])
	assert.Len(t, violations, 4)
}

func TestHardTimeSlots(t *testing.T) {
	rec := map[string]any{
		"time_availability": map[string]any{
			"explicit": map[string]any{
				"monday":  []any{"19:00-21:00", "25:00-26:00", "19:00-21:00", 7.0},
				"someday": []any{"10:00-11:00"},
			},
			"estimated": map[string]any{
				"sunday": []any{"10:00-09:00"},
			},
			"note": 5.0,
		},
	}
	out, violations := Hard(rec, "", config.HardValidateEnforce)

	ta := out["time_availability"].(map[string]any)
	explicit := ta["explicit"].(map[string]any)
	assert.Equal(t, []any{"19:00-21:00"}, explicit["monday"])
	assert.NotContains(t, explicit, "someday")
	assert.Len(t, explicit, 7)

	estimated := ta["estimated"].(map[string]any)
	assert.Equal(t, []any{}, estimated["sunday"])
	assert.Nil(t, ta["note"])
	assert.NotEmpty(t, violations)
}

func TestHardRemarksGrounding(t *testing.T) {
	raw := "Sec 3 Physics\nRemarks: need patient tutor"

	t.Run("grounded value kept", func(t *testing.T) {
		rec := map[string]any{"additional_remarks": "Need patient  tutor"}
		out, violations := Hard(rec, raw, config.HardValidateEnforce)
		assert.Equal(t, "Need patient  tutor", out["additional_remarks"])
		assert.Empty(t, violations)
	})

	t.Run("ungrounded value cleared", func(t *testing.T) {
		rec := map[string]any{"additional_remarks": "prefers female tutor"}
		out, violations := Hard(rec, raw, config.HardValidateEnforce)
		assert.Nil(t, out["additional_remarks"])
		assert.NotEmpty(t, violations)
	})

	t.Run("no marker clears", func(t *testing.T) {
		rec := map[string]any{"additional_remarks": "need patient tutor"}
		out, violations := Hard(rec, "Sec 3 Physics need patient tutor", config.HardValidateEnforce)
		assert.Nil(t, out["additional_remarks"])
		assert.NotEmpty(t, violations)
	})
}

func TestHardNumericFields(t *testing.T) {
	rec := map[string]any{
		"lessons_per_week": "2",
		"hours_per_lesson": "one and a half",
	}
	out, violations := Hard(rec, "", config.HardValidateEnforce)

	assert.Equal(t, 2.0, out["lessons_per_week"])
	assert.Nil(t, out["hours_per_lesson"])
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "NUMERIC:")
}

func TestHardModes(t *testing.T) {
	rec := map[string]any{
		"rate": map[string]any{"min": 40.0, "max": 60.0, "raw_text": "tbc"},
	}

	t.Run("off does nothing", func(t *testing.T) {
		out, violations := Hard(rec, "", config.HardValidateOff)
		assert.Equal(t, 40.0, rateOf(out)["min"])
		assert.Empty(t, violations)
	})

	t.Run("report returns input with violations", func(t *testing.T) {
		out, violations := Hard(rec, "", config.HardValidateReport)
		assert.Equal(t, 40.0, rateOf(out)["min"])
		assert.NotEmpty(t, violations)
	})
}

func TestHardRevalidatesClean(t *testing.T) {
	rec := map[string]any{
		"learning_mode":    "Remote",
		"subjects":         []any{"Math", 1.0},
		"lessons_per_week": "2",
		"rate":             map[string]any{"min": 90.0, "max": 60.0, "raw_text": "weird"},
		"time_availability": map[string]any{
			"explicit": map[string]any{"monday": []any{"19:00-21:00", "bad"}},
		},
		"additional_remarks": "made up",
	}

	once, firstViolations := Hard(rec, "no markers here", config.HardValidateEnforce)
	require.NotEmpty(t, firstViolations)

	twice, secondViolations := Hard(once, "no markers here", config.HardValidateEnforce)
	assert.Empty(t, secondViolations)
	assert.Equal(t, once, twice)
}
