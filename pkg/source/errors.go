package source

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnresolvable marks a channel reference the source cannot map to a
// channel: unknown username, numeric-only ref, or a ref that resolved to a
// user instead. Not retriable.
var ErrUnresolvable = errors.New("channel reference unresolvable")

// WaitError reports that the source told us to back off for a specific
// duration before retrying the same call.
type WaitError struct {
	Duration time.Duration
	Kind     string // "flood" or "slowmode"
	cause    error
}

// Wait wraps cause as a server-dictated pause of duration d.
func Wait(kind string, d time.Duration, cause error) error {
	return &WaitError{Duration: d, Kind: kind, cause: cause}
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("source %s wait %s: %v", e.Kind, e.Duration, e.cause)
}

func (e *WaitError) Unwrap() error { return e.cause }

// TransientError marks a failure worth retrying with exponential backoff:
// server-side 5xx, connection drops, timeouts.
type TransientError struct {
	cause error
}

// Transient wraps cause as retriable.
func Transient(cause error) error {
	return &TransientError{cause: cause}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("source transient: %v", e.cause)
}

func (e *TransientError) Unwrap() error { return e.cause }

// AsWait extracts a server-dictated pause from err, if any.
func AsWait(err error) (*WaitError, bool) {
	var w *WaitError
	if errors.As(err, &w) {
		return w, true
	}
	return nil, false
}

// IsTransient reports whether err is worth retrying, either after a
// server-dictated wait or with backoff.
func IsTransient(err error) bool {
	var w *WaitError
	if errors.As(err, &w) {
		return true
	}
	var t *TransientError
	return errors.As(err, &t)
}
