package errors

import (
	"fmt"
	"strings"
)

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	qe, ok := err.(*QAError)
	if !ok {
		// Wrap standard error
		qe = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Error: %s\n", qe.Message))

	if qe.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", qe.Suggestion))
	}

	sb.WriteString(fmt.Sprintf("  Code: %s\n", qe.Code))

	return sb.String()
}

// FormatForLog formats an error for structured logging.
// Returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	qe, ok := err.(*QAError)
	if !ok {
		return map[string]any{
			"error": err.Error(),
		}
	}

	result := map[string]any{
		"error_code": qe.Code,
		"message":    qe.Message,
		"category":   string(qe.Category),
		"severity":   string(qe.Severity),
		"retryable":  qe.Retryable,
	}

	if qe.Cause != nil {
		result["cause"] = qe.Cause.Error()
	}

	if qe.Suggestion != "" {
		result["suggestion"] = qe.Suggestion
	}

	for k, v := range qe.Details {
		result["detail_"+k] = v
	}

	return result
}
