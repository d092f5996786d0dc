package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Plan errors (PLAN-001 to PLAN-099)
	ErrCodePlanNotFound    ErrorCode = "PLAN-001"
	ErrCodePlanInvalid     ErrorCode = "PLAN-002"
	ErrCodePlanDuplicateID ErrorCode = "PLAN-003"
	ErrCodePlanBadParent   ErrorCode = "PLAN-004"
	ErrCodePlanUnresolved  ErrorCode = "PLAN-005"

	// Provider errors (PROVIDER-001 to PROVIDER-099)
	ErrCodeProviderNotFound      ErrorCode = "PROVIDER-001"
	ErrCodeProviderConfig        ErrorCode = "PROVIDER-002"
	ErrCodeProviderAuth          ErrorCode = "PROVIDER-003"
	ErrCodeProviderAPI           ErrorCode = "PROVIDER-004"
	ErrCodeProviderRateLimit     ErrorCode = "PROVIDER-005"
	ErrCodeProviderCapability    ErrorCode = "PROVIDER-006"
	ErrCodeProviderPartialCreate ErrorCode = "PROVIDER-007"

	// Sync errors (SYNC-001 to SYNC-099)
	ErrCodeSyncUnresolvedRef ErrorCode = "SYNC-001"
	ErrCodeSyncPartialCreate ErrorCode = "SYNC-002"
	ErrCodeSyncDiscover      ErrorCode = "SYNC-003"
	ErrCodeSyncDeletion      ErrorCode = "SYNC-004"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
	ErrCodeFileUnmarshal   ErrorCode = "IO-004"
	ErrCodeFileMarshal     ErrorCode = "IO-005"
)

// PlansyncError represents an enhanced error with code, suggestions, and documentation
type PlansyncError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *PlansyncError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *PlansyncError) Unwrap() error {
	return e.Cause
}

// New creates a new PlansyncError
func New(code ErrorCode, message string) *PlansyncError {
	return &PlansyncError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new PlansyncError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *PlansyncError {
	return &PlansyncError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *PlansyncError) WithSuggestion(suggestion string) *PlansyncError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *PlansyncError) WithSuggestions(suggestions ...string) *PlansyncError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *PlansyncError) WithDocs(url string) *PlansyncError {
	e.DocsURL = url
	return e
}

// Common error constructors for frequently used errors

// NewPlanNotFoundError creates a plan file not found error
func NewPlanNotFoundError(path string) *PlansyncError {
	return New(ErrCodePlanNotFound, fmt.Sprintf("plan file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Run 'plansync validate --plan <file>' against an existing plan file")
}

// NewPlanInvalidError creates a plan validation error
func NewPlanInvalidError(details string) *PlansyncError {
	return New(ErrCodePlanInvalid, fmt.Sprintf("invalid plan: %s", details)).
		WithSuggestion("Run 'plansync validate --plan <file>' to see all validation errors")
}

// NewProviderAuthError creates a provider authentication error
func NewProviderAuthError(provider string) *PlansyncError {
	return New(ErrCodeProviderAuth, fmt.Sprintf("authentication failed for provider: %s", provider)).
		WithSuggestion(fmt.Sprintf("Set the %s_API_KEY environment variable", strings.ToUpper(provider))).
		WithSuggestion("Check if your API key is valid and not expired")
}

// NewProviderRateLimitError creates a rate limit error
func NewProviderRateLimitError(provider string, retryAfter string) *PlansyncError {
	msg := fmt.Sprintf("rate limit exceeded for provider: %s", provider)
	if retryAfter != "" {
		msg += fmt.Sprintf(" (retry after: %s)", retryAfter)
	}

	return New(ErrCodeProviderRateLimit, msg).
		WithSuggestion("Wait before retrying the request").
		WithSuggestion("Lower max_concurrent in the sync configuration")
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *PlansyncError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Verify the file exists and you have read permissions")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *PlansyncError {
	return Wrap(ErrCodeFileUnmarshal, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}
