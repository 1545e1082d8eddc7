package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectNonAssignmentStatusOnly(t *testing.T) {
	tests := []struct {
		name string
		text string
		typ  NonAssignmentType
	}{
		{"closed alone", "ASSIGNMENT CLOSED", NonAssignmentStatus},
		{"taken alone", "TAKEN", NonAssignmentStatus},
		{"filled with punctuation", "Filled!", NonAssignmentStatus},
		{"expired with tick", "Assignment Expired ✅", NonAssignmentStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := DetectNonAssignment(tt.text)
			assert.True(t, res.IsNon)
			assert.Equal(t, tt.typ, res.Type)
			assert.NotEmpty(t, res.Detail)
		})
	}
}

func TestDetectNonAssignmentRedirect(t *testing.T) {
	res := DetectNonAssignment("This assignment has been reposted below, please check")
	assert.True(t, res.IsNon)
	assert.Equal(t, NonAssignmentRedir, res.Type)
}

func TestDetectNonAssignmentAdministrative(t *testing.T) {
	res := DetectNonAssignment("Calling all tutors! We are migrating to a new bot next week.")
	assert.True(t, res.IsNon)
	assert.Equal(t, NonAssignmentAdmin, res.Type)
}

func TestDetectNonAssignmentMarkersOverride(t *testing.T) {
	// "CLOSED" appears, but three labeled headers make this a real posting.
	text := "CLOSED soon!\nSubject: English\nRate: $40/h\nAddress: Tampines St 21"
	res := DetectNonAssignment(text)
	assert.False(t, res.IsNon)
	assert.Equal(t, NonAssignmentNone, res.Type)
}

func TestDetectNonAssignmentRealPosting(t *testing.T) {
	text := "Subject: Physics\nLevel: Sec 3\nRate: $45/h\nTiming: weekdays evening"
	res := DetectNonAssignment(text)
	assert.False(t, res.IsNon)
}

func TestDetectNonAssignmentEmpty(t *testing.T) {
	res := DetectNonAssignment("   ")
	assert.False(t, res.IsNon)
	assert.Equal(t, NonAssignmentNone, res.Type)
}
