package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a unique error code for categorizing errors
type ErrorCode string

const (
	// Configuration errors (1xxx) - fatal at startup
	ErrCodeConfigMissing  ErrorCode = "DWHE1001"
	ErrCodeConfigInvalid  ErrorCode = "DWHE1002"
	ErrCodeDSNUnreachable ErrorCode = "DWHE1003"
	ErrCodeSourceContract ErrorCode = "DWHE1004"

	// Source-integrity errors (2xxx) - recovered locally, counted in the report
	ErrCodeOrphanRow       ErrorCode = "DWHE2001"
	ErrCodeDateOutOfRange  ErrorCode = "DWHE2002"
	ErrCodeNegativeDelay   ErrorCode = "DWHE2003"

	// Component failures (3xxx) - abort the component, tier continues
	ErrCodeSQLExecution ErrorCode = "DWHE3001"
	ErrCodeSQLTimeout   ErrorCode = "DWHE3002"
	ErrCodeSwapFailed   ErrorCode = "DWHE3003"
	ErrCodeTierAborted  ErrorCode = "DWHE3004"

	// Serving errors (4xxx) - surfaced to caller, never mutate state
	ErrCodeUnknownMart    ErrorCode = "DWHE4001"
	ErrCodeUnknownMeasure ErrorCode = "DWHE4002"
	ErrCodeBadFilter      ErrorCode = "DWHE4003"

	// System errors (9xxx)
	ErrCodeInternal ErrorCode = "DWHE9001"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "CRITICAL"
	SeverityError    ErrorSeverity = "ERROR"
	SeverityWarning  ErrorSeverity = "WARNING"
)

// AppError represents a structured application error with context
type AppError struct {
	Code        ErrorCode
	Message     string
	Severity    ErrorSeverity
	Context     map[string]interface{}
	Cause       error
	Timestamp   time.Time
	Recoverable bool
	Suggestions []string
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return b.String()
}

// Unwrap returns the cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  SeverityError,
		Context:   make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// Wrap wraps an existing error with AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	appErr := New(code, message)
	appErr.Cause = err

	if ae, ok := err.(*AppError); ok {
		for k, v := range ae.Context {
			appErr.Context[k] = v
		}
	}

	return appErr
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithSuggestions adds recovery suggestions
func (e *AppError) WithSuggestions(suggestions ...string) *AppError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// AsRecoverable marks the error as recoverable
func (e *AppError) AsRecoverable() *AppError {
	e.Recoverable = true
	return e
}

// Common error constructors

// ConfigError creates a configuration error. Configuration errors are fatal
// at startup and abort before any refresh work begins.
func ConfigError(message string, field string) *AppError {
	return New(ErrCodeConfigInvalid, message).
		WithSeverity(SeverityCritical).
		WithContext("field", field).
		WithSuggestions(
			fmt.Sprintf("Check the '%s' configuration value", field),
			"Run 'sigetidwh verify' to validate the environment",
		)
}

// ConnectionError creates a DSN/connection error
func ConnectionError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeDSNUnreachable, message).
		WithSeverity(SeverityCritical).
		WithSuggestions(
			"Check DWH_SOURCE_DSN / DWH_TARGET_DSN",
			"Verify the Postgres instance is reachable",
		)
}

// ContractError creates a source-contract error for a missing table or column
func ContractError(entity, object string, cause error) *AppError {
	err := New(ErrCodeSourceContract,
		fmt.Sprintf("source contract violated for entity %q: missing %s", entity, object))
	err.Cause = cause
	return err.
		WithSeverity(SeverityCritical).
		WithContext("entity", entity).
		WithContext("object", object).
		WithSuggestions(
			"Compare the source schema against the adapter contract",
			"Provide a mapping override file if a table was renamed",
		)
}

// SourceIntegrityError creates a recoverable data-quality error. The offending
// row is excluded and counted in the refresh report.
func SourceIntegrityError(code ErrorCode, message string) *AppError {
	return New(code, message).
		WithSeverity(SeverityWarning).
		AsRecoverable()
}

// SQLError creates an SQL execution error for a component
func SQLError(message string, query string, cause error) *AppError {
	err := Wrap(cause, ErrCodeSQLExecution, message).
		WithContext("query", truncateString(query, 200))

	if cause != nil && strings.Contains(cause.Error(), "statement timeout") {
		err.Code = ErrCodeSQLTimeout
		_ = err.WithSuggestions(
			"Increase DWH_REFRESH_TIMEOUT_SEC",
			"Check for source table bloat or missing indexes",
		)
	}

	return err
}

// ServingError creates an error surfaced to the serving caller
func ServingError(code ErrorCode, message string) *AppError {
	return New(code, message).WithSeverity(SeverityWarning)
}

// IsRecoverable checks if an error is recoverable
func IsRecoverable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Recoverable
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsFatal reports whether the error must abort the whole refresh
func IsFatal(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Severity == SeverityCritical
	}
	return false
}

// truncateString truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
