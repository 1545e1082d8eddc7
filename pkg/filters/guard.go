package filters

import (
	"regexp"
	"strings"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

// GuardAction tells the worker how to dispose of a message before the
// standard pipeline runs.
type GuardAction string

const (
	// GuardProceed lets the message continue into the pipeline.
	GuardProceed GuardAction = "proceed"
	// GuardEmptyText skips a message with no usable text.
	GuardEmptyText GuardAction = "empty_text"
	// GuardForward bumps an existing assignment by code, never inserts.
	GuardForward GuardAction = "forward"
	// GuardReply bumps the parent assignment of a reply.
	GuardReply GuardAction = "reply"
	// GuardDeleted closes the assignment behind a deleted message.
	GuardDeleted GuardAction = "deleted"
)

// GuardDecision is the guard verdict. Code is populated on GuardForward when
// an assignment code was found in the forwarded text; ReplyToID on
// GuardReply.
type GuardDecision struct {
	Action    GuardAction
	Code      string
	ReplyToID int64
}

// Guard applies the forward/reply/deleted/empty checks in precedence order.
// Deletion wins over everything: a deleted forward still closes.
func Guard(msg *models.RawMessage, codeRe *regexp.Regexp) GuardDecision {
	if msg.Deleted() {
		return GuardDecision{Action: GuardDeleted}
	}
	if msg.IsForward {
		return GuardDecision{Action: GuardForward, Code: ExtractCode(msg.RawText, codeRe)}
	}
	if msg.IsReply {
		return GuardDecision{Action: GuardReply, ReplyToID: msg.ReplyToID}
	}
	if strings.TrimSpace(msg.RawText) == "" {
		return GuardDecision{Action: GuardEmptyText}
	}
	return GuardDecision{Action: GuardProceed}
}

var bareSixDigits = regexp.MustCompile(`^\d{6}$`)

// ExtractCode returns the first assignment identifier in text matching the
// configured grammar. Bare 6-digit tokens are postal codes and never count,
// whatever the pattern allows.
func ExtractCode(text string, codeRe *regexp.Regexp) string {
	if codeRe == nil {
		return ""
	}
	for _, m := range codeRe.FindAllString(text, -1) {
		if bareSixDigits.MatchString(m) {
			continue
		}
		return m
	}
	return ""
}
