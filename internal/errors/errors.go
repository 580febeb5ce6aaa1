// Package errors provides a lightweight structured error type (DepotError)
// for category-based classification and retry semantics across the audit,
// repair, and download pipelines.
package errors

import (
	stdErrors "errors"
	"fmt"
)

// ErrorCategory represents the category of a depot error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig ErrorCategory = "config"
	CategoryParse  ErrorCategory = "parse"

	// External system integration errors
	CategoryNetwork ErrorCategory = "network"
	CategoryGit     ErrorCategory = "git"

	// Artifact integrity and handling errors
	CategoryChecksum   ErrorCategory = "checksum"
	CategoryArchive    ErrorCategory = "archive"
	CategoryPlatform   ErrorCategory = "platform"
	CategoryFileSystem ErrorCategory = "filesystem"

	// Runtime and infrastructure errors
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// DepotError is a structured error with category, retryability, and context
type DepotError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for DepotError
type ContextFields map[string]any

// Error implements the error interface
func (e *DepotError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *DepotError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *DepotError) WithContext(key string, value any) *DepotError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new DepotError
func New(category ErrorCategory, severity ErrorSeverity, message string) *DepotError {
	return &DepotError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new DepotError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *DepotError {
	return &DepotError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// Retryable creates a new retryable DepotError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *DepotError {
	return &DepotError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// WrapRetryable creates a new retryable DepotError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *DepotError {
	return &DepotError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category. The check
// walks wrapped error chains so callers may add plain fmt.Errorf context.
func IsCategory(err error, category ErrorCategory) bool {
	var de *DepotError
	if stdErrors.As(err, &de) {
		return de.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var de *DepotError
	if stdErrors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a DepotError
func GetCategory(err error) ErrorCategory {
	var de *DepotError
	if stdErrors.As(err, &de) {
		return de.Category
	}
	return CategoryInternal
}
