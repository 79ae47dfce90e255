// Package mcp implements the Model Context Protocol (MCP) server for repoqa.
package mcp

import (
	"context"
	"errors"
	"fmt"

	qaerrors "github.com/repoqa/repoqa/internal/errors"
	"github.com/repoqa/repoqa/internal/store"
)

// Custom MCP error codes for repoqa.
const (
	// ErrCodeIndexNotReady indicates the repository has no query-serving index.
	ErrCodeIndexNotReady = -32001

	// ErrCodeRetrievalFailed indicates both retrieval branches failed.
	ErrCodeRetrievalFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeSessionConflict indicates an ingest is already running for the repository.
	ErrCodeSessionConflict = -32004

	// ErrCodeLLMFailed indicates the answer provider call failed.
	ErrCodeLLMFailed = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// MapError converts internal errors to MCP errors.
// It maps known error types to appropriate MCP error codes and messages.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var qe *qaerrors.QAError
	if errors.As(err, &qe) {
		return mapQAError(qe)
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: "Record not found.",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// mapQAError converts a coded error to an MCPError. The suggestion, when
// present, is appended so MCP clients see the remediation hint.
func mapQAError(qe *qaerrors.QAError) *MCPError {
	message := qe.Message
	if qe.Suggestion != "" {
		message = fmt.Sprintf("%s %s", qe.Message, qe.Suggestion)
	}

	switch qe.Code {
	case qaerrors.ErrCodeIndexNotReady, qaerrors.ErrCodeUnknownRepository, qaerrors.ErrCodeCorruptIndex:
		return &MCPError{Code: ErrCodeIndexNotReady, Message: message}
	case qaerrors.ErrCodeRetrievalFailed:
		return &MCPError{Code: ErrCodeRetrievalFailed, Message: message}
	case qaerrors.ErrCodeNetworkTimeout, qaerrors.ErrCodeProviderUnavailable:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case qaerrors.ErrCodeSessionConflict:
		return &MCPError{Code: ErrCodeSessionConflict, Message: message}
	case qaerrors.ErrCodeLLMFailed:
		return &MCPError{Code: ErrCodeLLMFailed, Message: message}
	}

	switch qe.Category {
	case qaerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case qaerrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
