package filters

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

var testCodeRe = regexp.MustCompile(config.DefaultCodePattern)

func TestGuardProceed(t *testing.T) {
	msg := &models.RawMessage{RawText: "Subject: English\nRate: $40/h"}
	d := Guard(msg, testCodeRe)
	assert.Equal(t, GuardProceed, d.Action)
}

func TestGuardEmptyText(t *testing.T) {
	msg := &models.RawMessage{RawText: "  \n\t "}
	d := Guard(msg, testCodeRe)
	assert.Equal(t, GuardEmptyText, d.Action)
}

func TestGuardForwardWithCode(t *testing.T) {
	msg := &models.RawMessage{
		IsForward: true,
		RawText:   "Reposting assignment A123 still available!",
	}
	d := Guard(msg, testCodeRe)
	assert.Equal(t, GuardForward, d.Action)
	assert.Equal(t, "A123", d.Code)
}

func TestGuardForwardWithoutCode(t *testing.T) {
	msg := &models.RawMessage{
		IsForward: true,
		RawText:   "great tutor opportunities here",
	}
	d := Guard(msg, testCodeRe)
	assert.Equal(t, GuardForward, d.Action)
	assert.Empty(t, d.Code)
}

func TestGuardReply(t *testing.T) {
	msg := &models.RawMessage{
		IsReply:   true,
		ReplyToID: 5512,
		RawText:   "is this still open?",
	}
	d := Guard(msg, testCodeRe)
	assert.Equal(t, GuardReply, d.Action)
	assert.Equal(t, int64(5512), d.ReplyToID)
}

func TestGuardDeletedWinsOverForward(t *testing.T) {
	now := time.Now()
	msg := &models.RawMessage{
		IsForward: true,
		DeletedAt: &now,
		RawText:   "A123",
	}
	d := Guard(msg, testCodeRe)
	assert.Equal(t, GuardDeleted, d.Action)
}

func TestExtractCodeSkipsPostalCodes(t *testing.T) {
	// 520123 is six bare digits: a postal code, not an identifier
	assert.Equal(t, "A123", ExtractCode("at 520123, code A123", testCodeRe))
	assert.Equal(t, "", ExtractCode("postal 520123 only", testCodeRe))
	assert.Equal(t, "", ExtractCode("anything", nil))
}

func TestExtractCodeVariants(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Assignment Code: TJ-4021", "TJ-4021"},
		{"ref A55", "A55"},
		{"Job SGT1234A open", "SGT1234A"},
		{"no identifiers at all", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractCode(tt.text, testCodeRe), "text=%q", tt.text)
	}
}
