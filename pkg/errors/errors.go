package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a dependency is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Zone engine errors

var (
	// ErrUnknownTimeframe indicates a timeframe name outside the fixed set
	ErrUnknownTimeframe = errors.New("unknown timeframe")

	// ErrUnknownQuality indicates a quality label outside weak/medium/strong
	ErrUnknownQuality = errors.New("unknown quality label")

	// ErrUnsupportedExchange indicates an exchange without a symbol mapping
	ErrUnsupportedExchange = errors.New("unsupported exchange")
)

// Predictor errors

var (
	// ErrModelNotTrained indicates prediction or save on an untrained model
	ErrModelNotTrained = errors.New("model not trained")

	// ErrInsufficientSamples indicates too few lifecycle records for training
	ErrInsufficientSamples = errors.New("insufficient training samples")

	// ErrMLDisabled indicates ML operations were requested without a predictor
	ErrMLDisabled = errors.New("ml predictions not enabled")
)

// WebSocket errors

var (
	// ErrWSNotConnected indicates WebSocket is not connected
	ErrWSNotConnected = errors.New("websocket not connected")

	// ErrWSSubscriptionFailed indicates WebSocket subscription failed
	ErrWSSubscriptionFailed = errors.New("websocket subscription failed")
)

// ValidationError represents a caller mistake with field-specific details.
// It unwraps to ErrInvalidInput and to the optional Kind sentinel.
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
	Kind    error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// Unwrap exposes ErrInvalidInput and the kind sentinel to errors.Is
func (e *ValidationError) Unwrap() []error {
	if e.Kind != nil {
		return []error{ErrInvalidInput, e.Kind}
	}
	return []error{ErrInvalidInput}
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewKindValidationError creates a validation error tagged with a sentinel kind
func NewKindValidationError(kind error, field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Kind:    kind,
	}
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// MultiError wraps multiple errors
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors (%d): %v", len(m.Errors), m.Errors[0])
}

// Add adds an error to the list
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// ToError returns the MultiError as an error, or nil if no errors
func (m *MultiError) ToError() error {
	if !m.HasErrors() {
		return nil
	}
	return m
}

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
