package urgency

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation error")

	// ErrConfiguration is matched by every *ConfigurationError.
	ErrConfiguration = errors.New("configuration error")
)

// ValidationError rejects a payload that is missing a required field or
// carries an out-of-range value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid payload: missing required field %q", e.Field)
	}
	return fmt.Sprintf("invalid payload: field %q %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConfigurationError rejects a domain that has no registered adapter.
type ConfigurationError struct {
	Domain Domain
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unknown domain %q", string(e.Domain))
}

// Is lets errors.Is(err, ErrConfiguration) match.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func missing(field string) error {
	return &ValidationError{Field: field}
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
