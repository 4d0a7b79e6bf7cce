package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds surfaced by the pipeline. Use errors.Is to test for them.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrNarrativeGeneration   = errors.New("narrative generation failed")
	ErrNotFound              = errors.New("not found")
	ErrStoreUnavailable      = errors.New("store unavailable")
)

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeClassifierUnavailable = "CLASSIFIER_UNAVAILABLE"
	ErrCodeNarrativeGeneration   = "NARRATIVE_GENERATION_FAILED"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeStoreUnavailable      = "STORE_UNAVAILABLE"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeInternalServer        = "INTERNAL_SERVER_ERROR"
)

// PipelineError represents a standardized error response
type PipelineError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`

	kind  error
	cause error
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes both the error kind and the underlying cause.
func (e *PipelineError) Unwrap() []error {
	var errs []error
	if e.kind != nil {
		errs = append(errs, e.kind)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// NewPipelineError creates a new PipelineError with timestamp
func NewPipelineError(code, message, details, requestID string) *PipelineError {
	return &PipelineError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		kind:      kindForCode(code),
	}
}

// Wrap classifies cause as kind. The result satisfies errors.Is for both.
func Wrap(kind error, message string, cause error) error {
	e := &PipelineError{
		Code:      CodeOf(kind),
		Message:   message,
		Timestamp: time.Now().UTC(),
		kind:      kind,
		cause:     cause,
	}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// CodeOf maps an error onto its taxonomy code.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return ErrCodeInvalidInput
	case errors.Is(err, ErrClassifierUnavailable):
		return ErrCodeClassifierUnavailable
	case errors.Is(err, ErrNarrativeGeneration):
		return ErrCodeNarrativeGeneration
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return ErrCodeStoreUnavailable
	default:
		return ErrCodeInternalServer
	}
}

func kindForCode(code string) error {
	switch code {
	case ErrCodeInvalidInput:
		return ErrInvalidInput
	case ErrCodeClassifierUnavailable:
		return ErrClassifierUnavailable
	case ErrCodeNarrativeGeneration:
		return ErrNarrativeGeneration
	case ErrCodeNotFound:
		return ErrNotFound
	case ErrCodeStoreUnavailable:
		return ErrStoreUnavailable
	default:
		return nil
	}
}

// AsPipelineError converts any error into a PipelineError for the transport layer.
func AsPipelineError(err error, requestID string) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		out := *pe
		out.RequestID = requestID
		return &out
	}
	out := NewPipelineError(CodeOf(err), err.Error(), "", requestID)
	out.cause = err
	return out
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Unwrap makes every validation error an ErrInvalidInput.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
