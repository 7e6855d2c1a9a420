package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors.
// Validation and not-found are distinct kinds so callers can map them to
// "bad input" versus "missing resource" responses independently.
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryParse         ErrorCategory = "parse"
	CategoryStorage       ErrorCategory = "storage"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryDetection     ErrorCategory = "detection"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Validation errors
	CodePatternNotExtractable ErrorCode = "pattern_not_extractable"
	CodeEmptyDescription      ErrorCode = "empty_description"
	CodeInvalidFrequency      ErrorCode = "invalid_frequency"
	CodeInvalidBatch          ErrorCode = "invalid_batch"
	CodeInvalidAmount         ErrorCode = "invalid_amount"
	CodeMissingField          ErrorCode = "missing_field"

	// Not-found errors
	CodeCategoryNotFound ErrorCode = "category_not_found"
	CodeRuleNotFound     ErrorCode = "rule_not_found"
	CodePatternNotFound  ErrorCode = "pattern_not_found"
	CodeAnomalyNotFound  ErrorCode = "anomaly_not_found"
	CodeRecordNotFound   ErrorCode = "record_not_found"

	// Parse errors
	CodeFileNotFound  ErrorCode = "file_not_found"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeInvalidDate   ErrorCode = "invalid_date"

	// Storage errors
	CodeQueryFailed       ErrorCode = "query_failed"
	CodeTransactionFailed ErrorCode = "transaction_failed"
	CodeMigrationFailed   ErrorCode = "migration_failed"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Detection errors
	CodeDetectionFailed ErrorCode = "detection_failed"
	CodeScoringFailed   ErrorCode = "scoring_failed"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// TrackerError is the base error type for all application errors
type TrackerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *TrackerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *TrackerError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *TrackerError) WithContext(key string, value interface{}) *TrackerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *TrackerError) WithSuggestion(suggestion string) *TrackerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new TrackerError
func New(category ErrorCategory, code ErrorCode, message string) *TrackerError {
	return &TrackerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with TrackerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *TrackerError {
	if err == nil {
		return nil
	}

	return &TrackerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// ValidationError creates a validation-related error. The message is
// surfaced to the caller verbatim and never retried.
func ValidationError(code ErrorCode, message string) *TrackerError {
	return New(CategoryValidation, code, message)
}

// NotFoundError creates an error for a missing resource referenced by id
func NotFoundError(code ErrorCode, resource, id string) *TrackerError {
	return New(CategoryNotFound, code, fmt.Sprintf("%s not found: %s", resource, id)).
		WithContext("resource", resource).
		WithContext("id", id)
}

// ParseError creates a file-parsing error pinned to a line number
func ParseError(code ErrorCode, filePath string, line int, message string, err error) *TrackerError {
	result := Wrap(err, CategoryParse, code,
		fmt.Sprintf("parse error in %s at line %d: %s", filePath, line, message))
	if result == nil {
		result = New(CategoryParse, code,
			fmt.Sprintf("parse error in %s at line %d: %s", filePath, line, message))
	}
	return result.
		WithContext("file", filePath).
		WithContext("line", line)
}

// StorageError wraps a backing-store failure
func StorageError(code ErrorCode, operation string, err error) *TrackerError {
	result := Wrap(err, CategoryStorage, code, fmt.Sprintf("storage error during %s", operation))
	if result == nil {
		result = New(CategoryStorage, code, fmt.Sprintf("storage error during %s", operation))
	}
	return result.WithContext("operation", operation)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}) *TrackerError {
	return New(CategoryConfiguration, code,
		fmt.Sprintf("invalid configuration for '%s': %v", setting, value)).
		WithSuggestion("check the configuration documentation for valid values").
		WithContext("setting", setting).
		WithContext("value", value)
}

// DetectionError creates a detection-related error
func DetectionError(code ErrorCode, operation string, err error) *TrackerError {
	result := Wrap(err, CategoryDetection, code, fmt.Sprintf("detection error during %s", operation))
	if result == nil {
		result = New(CategoryDetection, code, fmt.Sprintf("detection error during %s", operation))
	}
	return result.WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *TrackerError {
	result := Wrap(err, CategoryInternal, CodeUnexpectedError,
		fmt.Sprintf("unexpected error during %s", operation))
	if result == nil {
		result = New(CategoryInternal, CodeUnexpectedError,
			fmt.Sprintf("unexpected error during %s", operation))
	}
	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// Classification helpers

// IsTrackerError checks if an error is a TrackerError
func IsTrackerError(err error) bool {
	_, ok := err.(*TrackerError)
	return ok
}

// AsTrackerError extracts a TrackerError from an error chain
func AsTrackerError(err error) (*TrackerError, bool) {
	var trackerErr *TrackerError
	if errors.As(err, &trackerErr) {
		return trackerErr, true
	}
	return nil, false
}

// IsValidation reports whether the error is a validation failure
func IsValidation(err error) bool {
	if trackerErr, ok := AsTrackerError(err); ok {
		return trackerErr.Category == CategoryValidation
	}
	return false
}

// IsNotFound reports whether the error is a missing-resource condition
func IsNotFound(err error) bool {
	if trackerErr, ok := AsTrackerError(err); ok {
		return trackerErr.Category == CategoryNotFound
	}
	return false
}

// WrapIfNeeded wraps an error if it's not already a TrackerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *TrackerError {
	if err == nil {
		return nil
	}

	if trackerErr, ok := AsTrackerError(err); ok {
		return trackerErr
	}

	return Wrap(err, category, code, message)
}

// ErrorSummary provides a summary of multiple errors collected during a
// best-effort batch run.
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*TrackerError       `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*TrackerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	count, exists := es.ByCategory[category]
	return exists && count > 0
}
