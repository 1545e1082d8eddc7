// Package pipeline defines the failure taxonomy and stage names shared by the
// extraction worker, its stages, and the queue rows they report into.
package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. The string values are stable: they are
// written into extraction error_json and used as metric label values.
type Kind string

const (
	KindConfig            Kind = "config"
	KindSourceRateLimited Kind = "source_rate_limited"
	KindSourceTransient   Kind = "source_transient"
	KindRawMissing        Kind = "raw_missing"
	KindEmptyText         Kind = "empty_text"
	KindForwarded         Kind = "forwarded"
	KindReply             Kind = "reply"
	KindDeleted           Kind = "deleted"
	KindCompilation       Kind = "compilation"
	KindNonAssignment     Kind = "non_assignment"
	KindLLMTimeout        Kind = "llm_timeout"
	KindLLMConnection     Kind = "llm_connection"
	KindLLMInvalidJSON    Kind = "llm_invalid_json"
	KindLLMBadResponse    Kind = "llm_bad_response"
	KindLLMCircuitOpen    Kind = "llm_circuit_open"
	KindLLMError          Kind = "llm_error"
	KindValidationFailed  Kind = "validation_failed"
	KindPersistFailed     Kind = "persist_failed"
	KindUnhandled         Kind = "unhandled_exception"
)

// Skip reports whether the kind resolves the job as skipped rather than
// failed: the message was seen and intentionally not extracted. Compilation
// is absent here: confirmed compilations go through the split path, and
// KindCompilation classifies the aggregate failure when segments fail.
func (k Kind) Skip() bool {
	switch k {
	case KindEmptyText, KindForwarded, KindReply, KindDeleted, KindNonAssignment:
		return true
	}
	return false
}

// Retriable reports whether a failure of this kind may be retried by
// returning the job to pending while attempts remain.
func (k Kind) Retriable() bool {
	switch k {
	case KindSourceRateLimited, KindSourceTransient, KindLLMTimeout, KindLLMConnection, KindPersistFailed:
		return true
	}
	return false
}

// maxDetailLen bounds detail strings recorded from unhandled panics and
// oversized upstream error bodies.
const maxDetailLen = 500

// Error is the failure value passed between pipeline stages and serialized
// into a job's error_json.
type Error struct {
	Kind       Kind
	Stage      string
	Detail     string
	Violations []string
	cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s [%s]", e.Kind, e.Stage)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError builds a pipeline error with a human detail string.
func NewError(kind Kind, stage, detail string) *Error {
	return &Error{Kind: kind, Stage: stage, Detail: Truncate(detail)}
}

// Wrap attaches a pipeline classification to an underlying error.
func Wrap(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, cause: err}
}

// AsError unwraps err to a pipeline *Error if one is in the chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the classification of err, or KindUnhandled for errors that
// carry none.
func KindOf(err error) Kind {
	if pe, ok := AsError(err); ok {
		return pe.Kind
	}
	return KindUnhandled
}

// Truncate caps s at maxDetailLen runes.
func Truncate(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	return s[:maxDetailLen] + "..."
}

// Record is the serializable form written into error_json. Final is set to
// "max_attempts" when retries were exhausted; Cause preserves the original
// failure in that case.
type Record struct {
	Kind       string   `json:"kind"`
	Stage      string   `json:"stage,omitempty"`
	Detail     string   `json:"detail,omitempty"`
	Violations []string `json:"violations,omitempty"`
	Cause      string   `json:"cause,omitempty"`
	Final      string   `json:"final,omitempty"`
	Attempt    int      `json:"attempt,omitempty"`
}

// RecordOf flattens err into its storable form.
func RecordOf(err error) Record {
	pe, ok := AsError(err)
	if !ok {
		return Record{Kind: string(KindUnhandled), Detail: Truncate(fmt.Sprintf("%T: %v", err, err))}
	}
	rec := Record{
		Kind:       string(pe.Kind),
		Stage:      pe.Stage,
		Detail:     pe.Detail,
		Violations: pe.Violations,
	}
	if pe.cause != nil {
		rec.Cause = Truncate(pe.cause.Error())
	}
	return rec
}
