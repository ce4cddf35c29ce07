package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForUser returns a user-friendly error message.
// If debug is true, includes additional technical details.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}

	se, ok := err.(*SonaError)
	if !ok {
		// Standard error - just return message
		return err.Error()
	}

	var sb strings.Builder

	// Main error message
	sb.WriteString("Error: ")
	sb.WriteString(se.Message)
	sb.WriteString("\n")

	// Suggestion if available
	if se.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(se.Suggestion)
		sb.WriteString("\n")
	}

	// Technical details in debug mode
	if debug {
		if se.Operation != "" {
			sb.WriteString("\nOperation: ")
			sb.WriteString(se.Operation)
			sb.WriteString("\n")
		}
		if se.Cause != nil {
			sb.WriteString("\nCause: ")
			sb.WriteString(se.Cause.Error())
			sb.WriteString("\n")
		}
	}

	// Error code for reference
	sb.WriteString(fmt.Sprintf("\n[%s]", se.Code))

	return sb.String()
}

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	se, ok := err.(*SonaError)
	if !ok {
		// Wrap standard error
		se = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder

	// Error message
	sb.WriteString(fmt.Sprintf("Error: %s\n", se.Message))

	// Suggestion if available
	if se.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", se.Suggestion))
	}

	// Code reference
	sb.WriteString(fmt.Sprintf("  Code: %s\n", se.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Operation  string            `json:"operation,omitempty"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
// Suitable for machine consumption and structured logging.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	se, ok := err.(*SonaError)
	if !ok {
		// Wrap standard error
		se = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       se.Code,
		Message:    se.Message,
		Operation:  se.Operation,
		Category:   string(se.Category),
		Severity:   string(se.Severity),
		Details:    se.Details,
		Suggestion: se.Suggestion,
		Retryable:  se.Retryable,
	}

	if se.Cause != nil {
		je.Cause = se.Cause.Error()
	}

	return json.Marshal(je)
}

// FormatForLog formats an error for structured logging.
// Returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	se, ok := err.(*SonaError)
	if !ok {
		return map[string]any{
			"error": err.Error(),
		}
	}

	result := map[string]any{
		"error_code": se.Code,
		"message":    se.Message,
		"category":   string(se.Category),
		"severity":   string(se.Severity),
		"retryable":  se.Retryable,
	}

	if se.Operation != "" {
		result["operation"] = se.Operation
	}

	if se.Cause != nil {
		result["cause"] = se.Cause.Error()
	}

	if se.Suggestion != "" {
		result["suggestion"] = se.Suggestion
	}

	for k, v := range se.Details {
		result["detail_"+k] = v
	}

	return result
}
