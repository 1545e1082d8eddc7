package enrich

import (
	"context"
	"log/slog"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

// Geocoder resolves a street address to a postal code.
type Geocoder interface {
	Lookup(ctx context.Context, address string) (string, error)
}

// Meta captures how enrichment arrived at its output, stored alongside the
// job for debugging.
type Meta struct {
	ParseWarnings []string `json:"parse_warnings,omitempty"`
	TimeEvidence  []Span   `json:"time_evidence,omitempty"`
	PostalSource  string   `json:"postal_source,omitempty"`
	SignalSource  string   `json:"signal_source,omitempty"`
}

// Enricher applies the deterministic passes over an LLM-extracted assignment.
type Enricher struct {
	cfg      config.EnrichConfig
	taxonomy *config.Taxonomy
	geocoder Geocoder
	logger   *slog.Logger
}

func NewEnricher(cfg config.EnrichConfig, tax *config.Taxonomy, geo Geocoder, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{cfg: cfg, taxonomy: tax, geocoder: geo, logger: logger.With("component", "enricher")}
}

// Enrich mutates the assignment in place and returns the enrichment metadata.
// rawText is the message as collected; normText the normalizer output.
func (e *Enricher) Enrich(ctx context.Context, a *models.Assignment, rawText, normText string) *Meta {
	meta := &Meta{}

	e.fillPostal(ctx, a, rawText, meta)

	if e.cfg.DeterministicTime {
		tr := ParseTimeAvailability(normText)
		a.TimeAvailability = tr.Availability
		meta.ParseWarnings = tr.Warnings
		meta.TimeEvidence = tr.Evidence
	}

	if e.cfg.DeterministicSignals {
		text, source := e.signalSource(a, rawText, normText)
		meta.SignalSource = source
		sig := ExtractSignals(text, e.taxonomy)

		if len(a.Subjects) == 0 {
			a.Subjects = sig.Subjects
		}
		if len(a.StudentLevels) == 0 {
			a.StudentLevels = sig.StudentLevels
		}
		if len(a.SpecificLevels) == 0 {
			a.SpecificLevels = sig.SpecificLevels
		}
		a.TutorTypes = e.mergeTutorTypes(a.TutorTypes, sig.TutorTypes)
		if len(sig.RateBreakdown) > 0 {
			a.RateBreakdown = sig.RateBreakdown
		}
	}

	return meta
}

// fillPostal installs 6-digit tokens from the raw text when the LLM emitted
// none, then falls back to geocoding the first address.
func (e *Enricher) fillPostal(ctx context.Context, a *models.Assignment, rawText string, meta *Meta) {
	if len(a.PostalCode) > 0 {
		meta.PostalSource = "llm"
		return
	}
	if codes := PostalCodes(rawText); len(codes) > 0 {
		a.PostalCode = codes
		meta.PostalSource = "scan"
		return
	}
	if !e.cfg.PostalCodeEstimated || e.geocoder == nil {
		return
	}
	if len(a.PostalCodeEstimated) > 0 || len(a.Addresses) == 0 {
		return
	}
	code, err := e.geocoder.Lookup(ctx, a.Addresses[0])
	if err != nil {
		e.logger.Warn("geocode lookup failed", "address", a.Addresses[0], "error", err)
		return
	}
	if code != "" {
		a.PostalCodeEstimated = []string{code}
		meta.PostalSource = "geocode"
	}
}

// signalSource picks the text the keyword sweeps run over: the academic
// display text when the LLM produced one, else the normalized text, else raw.
func (e *Enricher) signalSource(a *models.Assignment, rawText, normText string) (string, string) {
	if a.AcademicDisplayText != nil && *a.AcademicDisplayText != "" {
		return *a.AcademicDisplayText, "academic"
	}
	if normText != "" {
		return normText, "normalized"
	}
	return rawText, "raw"
}

// mergeTutorTypes canonicalizes the LLM labels through the taxonomy and
// unions in the scanned ones, order-preserving.
func (e *Enricher) mergeTutorTypes(llm, scanned []string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(label string) {
		if label == "" || seen[label] {
			return
		}
		seen[label] = true
		out = append(out, label)
	}
	for _, raw := range llm {
		if e.taxonomy != nil {
			add(e.taxonomy.CanonicalTutorType(raw))
		} else {
			add(raw)
		}
	}
	for _, label := range scanned {
		add(label)
	}
	return out
}
