package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// Configuration errors - missing or invalid configuration
	ErrorTypeConfig ErrorType = iota
	// Source fetch errors - repository API unreachable, malformed page, auth failure
	ErrorTypeSourceFetch
	// Rejected posts - the posting API refused the request (4xx)
	ErrorTypePostRejected
	// Transient post failures - 5xx, 429, network, timeout
	ErrorTypePostTransient
	// Exhausted retries - terminal for a single announcement
	ErrorTypeExhaustedRetries
	// Storage errors - cursor store or dead letter queue failures
	ErrorTypeStorage
	// Internal errors - unexpected internal state
	ErrorTypeInternal
)

// Severity represents how critical an error is
type Severity int

const (
	// SeverityLow - can continue with degraded functionality
	SeverityLow Severity = iota
	// SeverityMedium - should be addressed but not fatal
	SeverityMedium
	// SeverityHigh - significant issue, may impact functionality
	SeverityHigh
	// SeverityCritical - must be addressed, stops execution
	SeverityCritical
)

// Error represents a structured error with context
type Error struct {
	Type       ErrorType
	Severity   Severity
	Message    string
	StatusCode int // HTTP status for post errors, 0 otherwise
	Cause      error
	Context    map[string]interface{}
	StackTrace string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is checks if this error matches the target error type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsFatal returns true if this error should stop execution
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// DetailedString returns a detailed error message with context
func (e *Error) DetailedString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] [%s] %s\n",
		severityString(e.Severity),
		typeString(e.Type),
		e.Message))

	if e.StatusCode != 0 {
		sb.WriteString(fmt.Sprintf("Status: %d\n", e.StatusCode))
	}

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}

	if len(e.Context) > 0 {
		sb.WriteString("Context:\n")
		for k, v := range e.Context {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	}

	if e.StackTrace != "" {
		sb.WriteString(fmt.Sprintf("Stack trace:\n%s\n", e.StackTrace))
	}

	return sb.String()
}

func typeString(t ErrorType) string {
	switch t {
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypeSourceFetch:
		return "SOURCE_FETCH"
	case ErrorTypePostRejected:
		return "POST_REJECTED"
	case ErrorTypePostTransient:
		return "POST_TRANSIENT"
	case ErrorTypeExhaustedRetries:
		return "EXHAUSTED_RETRIES"
	case ErrorTypeStorage:
		return "STORAGE"
	case ErrorTypeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", file, line, fn.Name()))
	}
	return sb.String()
}

// New creates a new error with the given type, severity, and message
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Cause:      err,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Convenience constructors for common error types

// ConfigError creates a configuration error
func ConfigError(message string) *Error {
	return New(ErrorTypeConfig, SeverityCritical, message)
}

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// SourceFetchError wraps a repository API failure
func SourceFetchError(err error, message string) *Error {
	return Wrap(err, ErrorTypeSourceFetch, SeverityHigh, message)
}

// SourceFetchErrorf wraps a repository API failure with formatting
func SourceFetchErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeSourceFetch, SeverityHigh, fmt.Sprintf(format, args...))
}

// SeedError wraps a failure while seeding the contributor ledger.
// The bot cannot run without a correct initial ledger, so it is critical.
func SeedError(err error) *Error {
	return Wrap(err, ErrorTypeSourceFetch, SeverityCritical, "seed contributor ledger")
}

// PostRejected wraps a permanent posting API refusal
func PostRejected(err error, status int) *Error {
	e := Wrap(err, ErrorTypePostRejected, SeverityMedium, "post rejected")
	if e != nil {
		e.StatusCode = status
	}
	return e
}

// PostTransient wraps a retryable posting API failure
func PostTransient(err error, status int) *Error {
	e := Wrap(err, ErrorTypePostTransient, SeverityLow, "post failed")
	if e != nil {
		e.StatusCode = status
	}
	return e
}

// ExhaustedRetries wraps the last failure once all attempts were used
func ExhaustedRetries(err error, attempts int) *Error {
	e := Wrap(err, ErrorTypeExhaustedRetries, SeverityMedium,
		fmt.Sprintf("post failed after %d attempts", attempts))
	if e != nil {
		e.WithContext("attempts", attempts)
	}
	return e
}

// StorageError wraps a persistence failure
func StorageError(err error, message string) *Error {
	return Wrap(err, ErrorTypeStorage, SeverityHigh, message)
}

// InternalErrorf creates an internal error with formatting
func InternalErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeInternal, SeverityCritical, fmt.Sprintf(format, args...))
}

// IsFatal checks if an error is fatal (should stop execution)
func IsFatal(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.IsFatal()
	}
	return false
}

// IsRejected reports whether err carries a permanent post rejection
func IsRejected(err error) bool {
	return GetType(err) == ErrorTypePostRejected && err != nil
}

// IsTransient reports whether err carries a retryable post failure
func IsTransient(err error) bool {
	return GetType(err) == ErrorTypePostTransient && err != nil
}

// GetSeverity returns the severity of an error
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityLow
	}

	var e *Error
	if stderrors.As(err, &e) {
		return e.Severity
	}

	return SeverityMedium
}

// GetType returns the type of an error
func GetType(err error) ErrorType {
	var e *Error
	if err != nil && stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// StatusCode returns the HTTP status attached to err, or 0
func StatusCode(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}
