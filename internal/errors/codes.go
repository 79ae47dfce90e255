// Package errors provides structured error handling for repoqa.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, index artifacts)
//   - 3XX: Network and provider errors
//   - 4XX: Validation and request-state errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network and provider errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation and state errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFileTooLarge = "ERR_202_FILE_TOO_LARGE"
	ErrCodeDiskFull     = "ERR_203_DISK_FULL"
	ErrCodeCorruptIndex = "ERR_204_CORRUPT_INDEX"

	// Network and provider errors (300-399)
	ErrCodeNetworkTimeout      = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeProviderUnavailable = "ERR_302_PROVIDER_UNAVAILABLE"
	ErrCodeVectorBackend       = "ERR_303_VECTOR_BACKEND"
	ErrCodeCloneFailed         = "ERR_304_CLONE_FAILED"
	ErrCodeLLMFailed           = "ERR_305_LLM_FAILED"

	// Validation and request-state errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"
	ErrCodeInvalidRepoURL    = "ERR_404_INVALID_REPO_URL"
	ErrCodeUnknownRepository = "ERR_405_UNKNOWN_REPOSITORY"
	ErrCodeEmptyCorpus       = "ERR_406_EMPTY_CORPUS"
	ErrCodeIndexNotReady     = "ERR_407_INDEX_NOT_READY"
	ErrCodeSessionConflict   = "ERR_408_SESSION_CONFLICT"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeRetrievalFailed = "ERR_503_RETRIEVAL_FAILED"
	ErrCodeChunkingFailed  = "ERR_504_CHUNKING_FAILED"
	ErrCodeIngestFailed    = "ERR_505_INGEST_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull:
		return SeverityFatal
	}

	// Retryable provider errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	// Default to error severity
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeProviderUnavailable, ErrCodeVectorBackend,
		ErrCodeCloneFailed, ErrCodeLLMFailed:
		return true
	default:
		return false
	}
}
