package errors

import (
	"fmt"
)

// QAError is the structured error type for repoqa.
// It provides rich context for error handling, logging, and user presentation.
type QAError struct {
	// Code is the unique error code (e.g., "ERR_407_INDEX_NOT_READY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *QAError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *QAError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with QAError.
func (e *QAError) Is(target error) bool {
	if t, ok := target.(*QAError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *QAError) WithDetail(key, value string) *QAError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *QAError) WithSuggestion(suggestion string) *QAError {
	e.Suggestion = suggestion
	return e
}

// New creates a new QAError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *QAError {
	return &QAError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a QAError from an existing error.
// The error's message becomes the QAError message.
func Wrap(code string, err error) *QAError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is matching across package boundaries. Matching is
// by code, so wrapped instances created with the constructors below compare
// equal to these.
var (
	ErrEmptyCorpus     = New(ErrCodeEmptyCorpus, "cannot build a lexical index from an empty corpus", nil)
	ErrIndexNotReady   = New(ErrCodeIndexNotReady, "repository index is not ready", nil)
	ErrEmbeddingFailed = New(ErrCodeEmbeddingFailed, "embedding provider call failed", nil)
	ErrVectorBackend   = New(ErrCodeVectorBackend, "vector backend call failed", nil)
	ErrRetrievalFailed = New(ErrCodeRetrievalFailed, "both retrieval branches failed", nil)
)

// EmptyCorpus reports an attempted lexical index build over zero chunks.
// It never invalidates a previously built index for the repository.
func EmptyCorpus(repositoryID string) *QAError {
	return New(ErrCodeEmptyCorpus, "cannot build a lexical index from an empty corpus", nil).
		WithDetail("repository_id", repositoryID).
		WithSuggestion("Ingest the repository before querying it")
}

// IndexNotReady reports a retrieval attempt before ingestion completed.
func IndexNotReady(repositoryID string) *QAError {
	return New(ErrCodeIndexNotReady, fmt.Sprintf("repository %q has no ready index", repositoryID), nil).
		WithDetail("repository_id", repositoryID).
		WithSuggestion("Run `repoqa index` for this repository, or wait for the running session to finish")
}

// EmbeddingFailure reports an embedding provider error for one query.
func EmbeddingFailure(cause error) *QAError {
	return Wrap(ErrCodeEmbeddingFailed, cause)
}

// VectorBackendError reports a vector search backend error for one query.
func VectorBackendError(cause error) *QAError {
	return Wrap(ErrCodeVectorBackend, cause)
}

// RetrievalFailure reports that both evidence branches errored. It is never
// used for the empty-but-valid result case.
func RetrievalFailure(vectorErr, lexicalErr error) *QAError {
	e := New(ErrCodeRetrievalFailed, "both retrieval branches failed", nil)
	if vectorErr != nil {
		e.WithDetail("vector", vectorErr.Error())
	}
	if lexicalErr != nil {
		e.WithDetail("lexical", lexicalErr.Error())
	}
	return e
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *QAError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *QAError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *QAError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a QAError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if qe, ok := err.(*QAError); ok {
		return qe.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if qe, ok := err.(*QAError); ok {
		return qe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a QAError.
// Returns empty string if not a QAError.
func GetCode(err error) string {
	if qe, ok := err.(*QAError); ok {
		return qe.Code
	}
	return ""
}

// GetCategory extracts the category from a QAError.
// Returns empty string if not a QAError.
func GetCategory(err error) Category {
	if qe, ok := err.(*QAError); ok {
		return qe.Category
	}
	return ""
}
