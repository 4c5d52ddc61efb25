package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Standard error types
var (
	ErrNotFound             = errors.New("resource not found")
	ErrBadRequest           = errors.New("bad request")
	ErrConflict             = errors.New("resource conflict")
	ErrInternal             = errors.New("internal server error")
	ErrValidation           = errors.New("validation error")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrDateConflict         = errors.New("date conflict")
	ErrInvalidTransition    = errors.New("invalid lifecycle transition")
	ErrOutOfRange           = errors.New("quantity out of range")
	ErrDetectionUnavailable = errors.New("conflict detection unavailable")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// InsufficientStock signals that a reservation asked for more than the
// computed free count. Free and requested ride in the details so callers can
// render the structured rejection.
func InsufficientStock(free, requested int) *AppError {
	return &AppError{
		Err:     ErrInsufficientStock,
		Code:    "INSUFFICIENT_STOCK",
		Message: fmt.Sprintf("requested %d units but only %d free", requested, free),
		Details: map[string]string{
			"free":      fmt.Sprintf("%d", free),
			"requested": fmt.Sprintf("%d", requested),
		},
		StatusCode: http.StatusConflict,
	}
}

// ConflictingEvent identifies another event holding the same resource over an
// overlapping date range.
type ConflictingEvent struct {
	EventID      string    `json:"event_id"`
	EventName    string    `json:"event_name"`
	OverlapStart time.Time `json:"overlap_start"`
	OverlapEnd   time.Time `json:"overlap_end"`
}

// DateConflict signals that the candidate range overlaps existing commitments
// of the same resource.
func DateConflict(events []ConflictingEvent) *AppError {
	details := make(map[string]string, len(events))
	for _, ev := range events {
		details[ev.EventID] = fmt.Sprintf("%s (%s .. %s)",
			ev.EventName,
			ev.OverlapStart.Format("2006-01-02"),
			ev.OverlapEnd.Format("2006-01-02"))
	}
	return &AppError{
		Err:        ErrDateConflict,
		Code:       "DATE_CONFLICT",
		Message:    fmt.Sprintf("resource already committed to %d overlapping event(s)", len(events)),
		Details:    details,
		StatusCode: http.StatusConflict,
	}
}

// InvalidTransition signals a lifecycle action attempted from a state that
// does not permit it.
func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Err:        ErrInvalidTransition,
		Code:       "INVALID_TRANSITION",
		Message:    fmt.Sprintf("cannot transition allocation from %s to %s", from, to),
		StatusCode: http.StatusConflict,
	}
}

// OutOfRange signals a counter mutation that would violate
// 0 <= available <= total.
func OutOfRange(message string) *AppError {
	return &AppError{
		Err:        ErrOutOfRange,
		Code:       "OUT_OF_RANGE",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// DetectionUnavailable signals that a conflict or availability check could
// not complete. Callers must treat this as "conflict status unknown" and
// retry with backoff; it is never downgraded to "no conflict".
func DetectionUnavailable(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %v", ErrDetectionUnavailable, err),
		Code:       "DETECTION_UNAVAILABLE",
		Message:    "conflict detection could not complete",
		StatusCode: http.StatusServiceUnavailable,
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
