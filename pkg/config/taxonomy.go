package config

import (
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// TutorTypeUnknown is the canonical label assigned to tutor-type mentions
// that match no taxonomy entry.
const TutorTypeUnknown = "unknown"

// TutorType is one canonical tutor category with its alias spellings.
type TutorType struct {
	Label   string   `yaml:"label"`
	Aliases []string `yaml:"aliases"`
}

// Taxonomy maps raw tutor-type mentions to canonical labels and channel refs
// to agency names. A user file merges over the built-in entries: user keys
// win, built-in entries fill the gaps.
type Taxonomy struct {
	TutorTypes map[string]TutorType `yaml:"tutor_types"`
	Agencies   map[string]string    `yaml:"agencies"`

	aliasIndex map[string]string
}

// BuiltinTaxonomy returns the built-in tutor-type and agency entries.
func BuiltinTaxonomy() *Taxonomy {
	t := &Taxonomy{
		TutorTypes: map[string]TutorType{
			"part_time": {
				Label:   "Part-Time Tutor",
				Aliases: []string{"part time", "part-time", "pt", "parttime", "undergrad", "undergraduate", "uni student", "student tutor", "poly student"},
			},
			"full_time": {
				Label:   "Full-Time Tutor",
				Aliases: []string{"full time", "full-time", "ft", "fulltime", "full timer"},
			},
			"moe": {
				Label:   "MOE Teacher",
				Aliases: []string{"moe", "moe teacher", "current moe", "current school teacher", "school teacher", "moe trained"},
			},
			"ex_moe": {
				Label:   "Ex-MOE Teacher",
				Aliases: []string{"ex moe", "ex-moe", "ex moe teacher", "former moe", "retired teacher", "ex school teacher"},
			},
			"nie_trainee": {
				Label:   "NIE Trainee",
				Aliases: []string{"nie", "nie trainee", "nie trained", "trainee teacher"},
			},
		},
		Agencies: map[string]string{},
	}
	t.buildIndex()
	return t
}

// LoadTaxonomy returns the built-in taxonomy, optionally merged with the
// override file at path.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	builtin := BuiltinTaxonomy()
	if path == "" {
		return builtin, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTaxonomyNotFound, path)
		}
		return nil, err
	}

	user := &Taxonomy{}
	if err := yaml.Unmarshal(data, user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if err := mergo.Merge(user, builtin); err != nil {
		return nil, fmt.Errorf("failed to merge taxonomy: %w", err)
	}
	user.buildIndex()
	return user, nil
}

func (t *Taxonomy) buildIndex() {
	t.aliasIndex = make(map[string]string)
	for key, tt := range t.TutorTypes {
		t.aliasIndex[normalizeAlias(key)] = tt.Label
		t.aliasIndex[normalizeAlias(tt.Label)] = tt.Label
		for _, a := range tt.Aliases {
			t.aliasIndex[normalizeAlias(a)] = tt.Label
		}
	}
}

// CanonicalTutorType maps a raw tutor-type mention to its canonical label,
// or TutorTypeUnknown when nothing matches.
func (t *Taxonomy) CanonicalTutorType(raw string) string {
	if label, ok := t.aliasIndex[normalizeAlias(raw)]; ok {
		return label
	}
	return TutorTypeUnknown
}

// Labels returns every canonical label with its alias spellings, keyed by
// label. Used by the signal parser to scan text for mentions.
func (t *Taxonomy) Labels() map[string][]string {
	out := make(map[string][]string, len(t.TutorTypes))
	for key, tt := range t.TutorTypes {
		spellings := append([]string{key, tt.Label}, tt.Aliases...)
		out[tt.Label] = spellings
	}
	return out
}

// AgencyFor resolves a channel reference to its agency name. Unmapped
// channels fall back to the bare channel ref.
func (t *Taxonomy) AgencyFor(channelRef string) string {
	if agency, ok := t.Agencies[channelRef]; ok {
		return agency
	}
	return strings.TrimPrefix(channelRef, "@")
}

func normalizeAlias(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), " ")
}
