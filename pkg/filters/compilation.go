package filters

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
)

// CompilationResult carries the verdict plus the raw counts that produced it.
type CompilationResult struct {
	IsCompilation bool
	Reason        string

	CodeHits   int
	LabelHits  int
	PostalHits int
	URLHits    int
	Blocks     int
}

var (
	codeMentionRegex = regexp.MustCompile(`(?i)\b(code|assignment|job|id)\s*[:#]\s*\S+`)
	labelLineRegex   = regexp.MustCompile(`(?im)^\s*(subject|rate|address|location)s?\s*:`)
	postalTokenRegex = regexp.MustCompile(`\b\d{6}\b`)
	urlRegex         = regexp.MustCompile(`https?://\S+`)
	blockSplitRegex  = regexp.MustCompile(`\n\s*\n`)
)

// DetectCompilation flags messages that bundle several assignments into one
// post. The label and block rules only fire when the message has enough
// blank-line-separated blocks to plausibly hold multiple postings.
func DetectCompilation(text string, cfg config.CompilationConfig) CompilationResult {
	res := CompilationResult{
		CodeHits:   len(codeMentionRegex.FindAllString(text, -1)),
		LabelHits:  len(labelLineRegex.FindAllString(text, -1)),
		PostalHits: uniquePostals(text),
		URLHits:    len(urlRegex.FindAllString(text, -1)),
		Blocks:     countBlocks(text),
	}

	enoughBlocks := res.Blocks >= cfg.MinBlocks

	switch {
	case cfg.CodeHits > 0 && res.CodeHits >= cfg.CodeHits:
		res.IsCompilation = true
		res.Reason = fmt.Sprintf("code_mentions: %d >= %d", res.CodeHits, cfg.CodeHits)
	case cfg.PostalHits > 0 && res.PostalHits >= cfg.PostalHits:
		res.IsCompilation = true
		res.Reason = fmt.Sprintf("unique_postals: %d >= %d", res.PostalHits, cfg.PostalHits)
	case cfg.URLHits > 0 && res.URLHits >= cfg.URLHits:
		res.IsCompilation = true
		res.Reason = fmt.Sprintf("urls: %d >= %d", res.URLHits, cfg.URLHits)
	case enoughBlocks && cfg.LabelHits > 0 && res.LabelHits >= cfg.LabelHits:
		res.IsCompilation = true
		res.Reason = fmt.Sprintf("label_lines: %d >= %d across %d blocks", res.LabelHits, cfg.LabelHits, res.Blocks)
	case enoughBlocks && cfg.BlockCount > 0 && res.Blocks >= cfg.BlockCount:
		res.IsCompilation = true
		res.Reason = fmt.Sprintf("blocks: %d >= %d", res.Blocks, cfg.BlockCount)
	}

	return res
}

func uniquePostals(text string) int {
	seen := make(map[string]struct{})
	for _, p := range postalTokenRegex.FindAllString(text, -1) {
		seen[p] = struct{}{}
	}
	return len(seen)
}

func countBlocks(text string) int {
	n := 0
	for _, b := range blockSplitRegex.Split(text, -1) {
		if strings.TrimSpace(b) != "" {
			n++
		}
	}
	return n
}

// Segment is one identifier's slice of a compilation message.
type Segment struct {
	Identifier string
	Text       string
}

// SplitCompilation cuts text into per-identifier segments ordered by where
// each identifier first appears. Identifiers not present in the text are
// dropped. The preamble before the first identifier stays attached to the
// first segment.
func SplitCompilation(text string, identifiers []string) []Segment {
	type hit struct {
		id  string
		pos int
	}
	var hits []hit
	seen := make(map[string]struct{})
	for _, id := range identifiers {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if pos := strings.Index(text, id); pos >= 0 {
			hits = append(hits, hit{id: id, pos: pos})
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	segments := make([]Segment, 0, len(hits))
	for i, h := range hits {
		start := h.pos
		if i == 0 {
			start = 0
		}
		end := len(text)
		if i+1 < len(hits) {
			end = hits[i+1].pos
		}
		segments = append(segments, Segment{
			Identifier: h.id,
			Text:       strings.TrimSpace(text[start:end]),
		})
	}
	return segments
}
