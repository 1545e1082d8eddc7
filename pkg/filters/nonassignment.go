// Package filters holds the pure classifiers applied to a message before any
// LLM call: the non-assignment detector, the compilation detector, and the
// forward/reply/deleted/empty guard.
package filters

import (
	"fmt"
	"regexp"
	"strings"
)

// NonAssignmentType names the pattern family that matched.
type NonAssignmentType string

const (
	NonAssignmentNone   NonAssignmentType = "none"
	NonAssignmentStatus NonAssignmentType = "status_only"
	NonAssignmentRedir  NonAssignmentType = "redirect"
	NonAssignmentAdmin  NonAssignmentType = "administrative"
)

// NonAssignmentResult is the detector verdict with a human-readable detail.
type NonAssignmentResult struct {
	IsNon  bool
	Type   NonAssignmentType
	Detail string
}

// assignment markers: labeled header lines and job-id labels. A message
// carrying three or more is structured enough to be a real posting.
var markerRegexps = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^\s*subjects?\s*:`),
	regexp.MustCompile(`(?im)^\s*(hourly\s+)?(rate|budget|fee)s?\s*:`),
	regexp.MustCompile(`(?im)^\s*(address|location|area)\s*:`),
	regexp.MustCompile(`(?im)^\s*(student\s+)?levels?\s*:`),
	regexp.MustCompile(`(?im)^\s*(timing|time|schedule|availability)\s*:`),
	regexp.MustCompile(`(?i)\b(code|assignment\s*(no\.?|id|code)|job\s*(id|code)|ref(erence)?\s*(no\.?)?)\s*[:#]`),
}

var (
	statusOnlyRegex = regexp.MustCompile(`(?i)^\s*(assignment\s+)?(closed|taken|filled|expired)\s*[!.✅]*\s*$`)
	redirectRegex   = regexp.MustCompile(`(?i)\b(reposted\s+below|see\s+above|refer\s+to\s+(the\s+)?previous\s+post|refer\s+to\s+post\s+above|scroll\s+up)\b`)
	adminRegex      = regexp.MustCompile(`(?i)(calling\s+all\s+tutors|new\s+job\s+opportunit|we\s+(have\s+)?moved|new\s+(telegram\s+)?bot|change\s+(of\s+)?(phone\s+)?number|whatsapp\s+us|contact\s+us\s+at)`)
	tickRegex       = regexp.MustCompile(`[✅☑✔]|^\s*[•▪►-]\s`)
)

// minMarkersForAssignment: at or above this marker count a message is never
// classified as non-assignment.
const minMarkersForAssignment = 3

// adminTickThreshold: admin broadcasts tend to be walls of ticks/bullets.
const adminTickThreshold = 5

// DetectNonAssignment classifies status-only, redirect, and administrative
// posts so they can be skipped before the LLM.
func DetectNonAssignment(text string) NonAssignmentResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return NonAssignmentResult{Type: NonAssignmentNone}
	}

	markers := countMarkers(trimmed)
	if markers >= minMarkersForAssignment {
		return NonAssignmentResult{Type: NonAssignmentNone,
			Detail: fmt.Sprintf("%d assignment markers", markers)}
	}

	if m := statusOnlyRegex.FindString(trimmed); m != "" {
		return NonAssignmentResult{IsNon: true, Type: NonAssignmentStatus,
			Detail: fmt.Sprintf("status string alone: %q", strings.TrimSpace(m))}
	}
	if m := redirectRegex.FindString(trimmed); m != "" {
		return NonAssignmentResult{IsNon: true, Type: NonAssignmentRedir,
			Detail: fmt.Sprintf("redirect phrase: %q", m)}
	}
	if m := adminRegex.FindString(trimmed); m != "" {
		return NonAssignmentResult{IsNon: true, Type: NonAssignmentAdmin,
			Detail: fmt.Sprintf("administrative phrase: %q", m)}
	}
	if ticks := len(tickRegex.FindAllString(trimmed, -1)); ticks >= adminTickThreshold {
		return NonAssignmentResult{IsNon: true, Type: NonAssignmentAdmin,
			Detail: fmt.Sprintf("%d tick/bullet marks with %d markers", ticks, markers)}
	}

	return NonAssignmentResult{Type: NonAssignmentNone}
}

func countMarkers(text string) int {
	n := 0
	for _, re := range markerRegexps {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}
