package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

type stubGeocoder struct {
	code  string
	err   error
	calls []string
}

func (s *stubGeocoder) Lookup(_ context.Context, address string) (string, error) {
	s.calls = append(s.calls, address)
	return s.code, s.err
}

func enrichConfig() config.EnrichConfig {
	return config.EnrichConfig{
		DeterministicSignals: true,
		DeterministicTime:    true,
		PostalCodeEstimated:  true,
	}
}

func TestEnrichPostalPrecedence(t *testing.T) {
	tax := config.BuiltinTaxonomy()

	t.Run("llm postal wins", func(t *testing.T) {
		geo := &stubGeocoder{code: "640321"}
		e := NewEnricher(enrichConfig(), tax, geo, nil)

		a := &models.Assignment{PostalCode: []string{"520123"}}
		meta := e.Enrich(context.Background(), a, "some text 730999", "some text 730999")

		assert.Equal(t, []string{"520123"}, a.PostalCode)
		assert.Equal(t, "llm", meta.PostalSource)
		assert.Empty(t, geo.calls)
	})

	t.Run("scan fills from raw text", func(t *testing.T) {
		geo := &stubGeocoder{code: "640321"}
		e := NewEnricher(enrichConfig(), tax, geo, nil)

		a := &models.Assignment{}
		meta := e.Enrich(context.Background(), a, "Blk 5 Tampines 520123", "Blk 5 Tampines 520123")

		assert.Equal(t, []string{"520123"}, a.PostalCode)
		assert.Equal(t, "scan", meta.PostalSource)
		assert.Empty(t, geo.calls)
	})

	t.Run("geocoder fills estimated", func(t *testing.T) {
		geo := &stubGeocoder{code: "640321"}
		e := NewEnricher(enrichConfig(), tax, geo, nil)

		a := &models.Assignment{Addresses: []string{"Jurong West St 42"}}
		meta := e.Enrich(context.Background(), a, "no digits here", "no digits here")

		assert.Empty(t, a.PostalCode)
		assert.Equal(t, []string{"640321"}, a.PostalCodeEstimated)
		assert.Equal(t, "geocode", meta.PostalSource)
		assert.Equal(t, []string{"Jurong West St 42"}, geo.calls)
	})

	t.Run("geocoder failure leaves fields untouched", func(t *testing.T) {
		geo := &stubGeocoder{err: errors.New("boom")}
		e := NewEnricher(enrichConfig(), tax, geo, nil)

		a := &models.Assignment{Addresses: []string{"somewhere"}}
		meta := e.Enrich(context.Background(), a, "text", "text")

		assert.Empty(t, a.PostalCodeEstimated)
		assert.Empty(t, meta.PostalSource)
	})

	t.Run("estimated fill disabled by config", func(t *testing.T) {
		cfg := enrichConfig()
		cfg.PostalCodeEstimated = false
		geo := &stubGeocoder{code: "640321"}
		e := NewEnricher(cfg, tax, geo, nil)

		a := &models.Assignment{Addresses: []string{"somewhere"}}
		e.Enrich(context.Background(), a, "text", "text")

		assert.Empty(t, a.PostalCodeEstimated)
		assert.Empty(t, geo.calls)
	})
}

func TestEnrichTimeOverwritesLLM(t *testing.T) {
	tax := config.BuiltinTaxonomy()
	e := NewEnricher(enrichConfig(), tax, nil, nil)

	llmNote := "llm guess"
	a := &models.Assignment{
		TimeAvailability: &models.TimeAvailability{Note: &llmNote},
	}
	e.Enrich(context.Background(), a, "Timing: TUESDAY AT 7PM", "Timing: TUESDAY AT 7PM")

	require.NotNil(t, a.TimeAvailability)
	assert.Nil(t, a.TimeAvailability.Note)
	assert.Equal(t, []string{"19:00-19:00"}, a.TimeAvailability.Explicit.Tuesday)
}

func TestEnrichTimeDisabled(t *testing.T) {
	tax := config.BuiltinTaxonomy()
	cfg := enrichConfig()
	cfg.DeterministicTime = false
	e := NewEnricher(cfg, tax, nil, nil)

	llmNote := "llm guess"
	a := &models.Assignment{TimeAvailability: &models.TimeAvailability{Note: &llmNote}}
	e.Enrich(context.Background(), a, "Timing: TUESDAY AT 7PM", "Timing: TUESDAY AT 7PM")

	require.NotNil(t, a.TimeAvailability.Note)
	assert.Equal(t, "llm guess", *a.TimeAvailability.Note)
}

func TestEnrichSignalsFillOnlyWhenEmpty(t *testing.T) {
	tax := config.BuiltinTaxonomy()
	e := NewEnricher(enrichConfig(), tax, nil, nil)

	a := &models.Assignment{Subjects: []string{"Further Math"}}
	e.Enrich(context.Background(), a, "", "Physics tuition for sec 3, part time ok, $40/h for part time")

	// LLM subjects are kept, scanned ones only fill a gap
	assert.Equal(t, []string{"Further Math"}, a.Subjects)
	assert.Equal(t, []string{"Secondary"}, a.StudentLevels)
	assert.Equal(t, []string{"Sec 3"}, a.SpecificLevels)
	assert.Equal(t, []string{"Part-Time Tutor"}, a.TutorTypes)
	require.Len(t, a.RateBreakdown, 1)
	assert.Equal(t, "Part-Time Tutor", a.RateBreakdown[0].TutorType)
}

func TestEnrichTutorTypeCanonicalization(t *testing.T) {
	tax := config.BuiltinTaxonomy()
	e := NewEnricher(enrichConfig(), tax, nil, nil)

	a := &models.Assignment{TutorTypes: []string{"Part Time", "something odd"}}
	e.Enrich(context.Background(), a, "", "prefer moe teacher")

	assert.Equal(t, []string{"Part-Time Tutor", "unknown", "MOE Teacher"}, a.TutorTypes)
}

func TestEnrichSignalSourcePreference(t *testing.T) {
	tax := config.BuiltinTaxonomy()
	e := NewEnricher(enrichConfig(), tax, nil, nil)

	academic := "Chemistry for JC 1"
	a := &models.Assignment{AcademicDisplayText: &academic}
	meta := e.Enrich(context.Background(), a, "raw has Physics", "normalized has Biology")

	assert.Equal(t, "academic", meta.SignalSource)
	assert.Equal(t, []string{"Chemistry"}, a.Subjects)
}
