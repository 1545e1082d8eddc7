package validate

import (
	"encoding/json"
	"fmt"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

// Schema is the coarse post-enrichment gate: an assignment must carry some
// schedule information, and a location unless lessons are online. Failures
// are terminal for the job and route the raw text to triage.
func Schema(a *models.Assignment) (bool, []string) {
	var errs []string

	hasSchedule := len(a.LessonSchedule) > 0 ||
		a.LessonsPerWeek != nil ||
		a.HoursPerLesson != nil ||
		a.StartDate != nil ||
		(a.TimeAvailability != nil && !a.TimeAvailability.Empty())
	if !hasSchedule {
		errs = append(errs, "SCHEDULE: no lesson schedule, availability, or frequency present")
	}

	hasLocation := len(a.Addresses) > 0 ||
		len(a.PostalCode) > 0 ||
		len(a.PostalCodeEstimated) > 0
	if !hasLocation && !a.LearningMode.IsOnline() {
		errs = append(errs, "LOCATION: no address or postal code for a non-online assignment")
	}

	return len(errs) == 0, errs
}

// Decode turns a cleaned record into the typed assignment. Unknown keys are
// ignored; type mismatches that survived the hard validator surface as an
// error here.
func Decode(rec map[string]any) (*models.Assignment, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var a models.Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &a, nil
}
