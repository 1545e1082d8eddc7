package config

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingRequired indicates a required setting is absent
	ErrMissingRequired = errors.New("missing required setting")

	// ErrInvalidValue indicates a setting has an invalid value
	ErrInvalidValue = errors.New("invalid setting value")

	// ErrTaxonomyNotFound indicates the taxonomy override file was not found
	ErrTaxonomyNotFound = errors.New("taxonomy file not found")

	// ErrInvalidYAML indicates YAML parsing failed
	ErrInvalidYAML = errors.New("invalid YAML syntax")
)

// ValidationError wraps configuration validation errors with context.
// Callers map it to the configuration exit code.
type ValidationError struct {
	Component string // Component being validated (store, llm, worker, source)
	Setting   string // Environment variable name
	Err       error  // Underlying error
}

// Error returns formatted error message
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Component, e.Setting, e.Err)
}

// Unwrap returns the underlying error
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(component, setting string, err error) *ValidationError {
	return &ValidationError{
		Component: component,
		Setting:   setting,
		Err:       err,
	}
}

// IsConfigError reports whether err is a configuration failure that should
// terminate the process with the configuration exit code.
func IsConfigError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrMissingRequired) ||
		errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrTaxonomyNotFound) ||
		errors.Is(err, ErrInvalidYAML)
}
