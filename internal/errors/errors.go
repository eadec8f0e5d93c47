package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeInvalidInput      ErrorType = "invalid_input"
	ErrorTypeClassified        ErrorType = "classified"
	ErrorTypeMalformedResponse ErrorType = "malformed_response"
	ErrorTypeSinkWrite         ErrorType = "sink_write"
)

// Kind is the machine-readable class of a transport failure
type Kind string

const (
	KindUnauthorized     Kind = "Unauthorized"
	KindUnsupportedMedia Kind = "UnsupportedMedia"
	KindNotFound         Kind = "NotFound"
	KindRateLimited      Kind = "RateLimited"
	KindTimeoutExhausted Kind = "TimeoutExhausted"
	KindUnknown          Kind = "Unknown"
)

// labelMalformedResponse is stored in a record's error field for schema violations
const labelMalformedResponse = "MalformedResponse"

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Kind       Kind      `json:"kind,omitempty"`
	Message    string    `json:"message"`
	Sink       string    `json:"sink,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	prefix := string(e.Type)
	if e.Kind != "" {
		prefix = string(e.Kind)
	}
	if e.Sink != "" {
		prefix = fmt.Sprintf("%s[%s]", prefix, e.Sink)
	}
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Label is the short string recorded into a ResultRecord's error field
func (e *AppError) Label() string {
	switch e.Type {
	case ErrorTypeClassified:
		return string(e.Kind)
	case ErrorTypeMalformedResponse:
		return labelMalformedResponse
	default:
		return string(e.Type)
	}
}

// NewInvalidInputError creates an error for unusable CLI input or source resolution failures
func NewInvalidInputError(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeInvalidInput,
		Message: message,
		Cause:   cause,
	}
}

// NewClassifiedError creates a transport error of the given kind
func NewClassifiedError(kind Kind, statusCode int, message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeClassified,
		Kind:       kind,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// NewMalformedResponseError creates an error for a response violating the required schema
func NewMalformedResponseError(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeMalformedResponse,
		Message: message,
		Cause:   cause,
	}
}

// NewSinkWriteError creates an error for a failed write to one export sink
func NewSinkWriteError(sink string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeSinkWrite,
		Message: "write failed",
		Sink:    sink,
		Cause:   cause,
	}
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// KindOf extracts the transport kind from an error, or KindUnknown
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	return KindUnknown
}

// Label returns the record label for any per-item error
func Label(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Label()
	}
	return string(KindUnknown)
}

// GetStatusCode extracts the last HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}

// KindForStatus maps an HTTP status to the kind reported when it ends an attempt lineage
func KindForStatus(statusCode int) Kind {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusNotFound, http.StatusGone:
		return KindNotFound
	case http.StatusUnsupportedMediaType:
		return KindUnsupportedMedia
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindUnknown
	}
}

// IsTransientStatus reports whether a status is expected to clear on retry
func IsTransientStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}
