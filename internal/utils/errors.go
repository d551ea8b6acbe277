package utils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrListNotFound returns an error for when a list is not found on a mine.
func ErrListNotFound(listName string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("list not found: %s", listName),
		Suggestion: "Run 'mineat lists' to see the lists you can access",
	}
}

// ErrNoListsAvailable returns an error when the account has no lists.
func ErrNoListsAvailable() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("no lists available"),
		Suggestion: "Log in with an API token to see your private lists",
	}
}

// ErrMineNotConfigured returns an error when a mine is not in the config file.
func ErrMineNotConfigured(name string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("mine not configured: %s", name),
		Suggestion: fmt.Sprintf("Add a '%s' entry with a url under 'mines:' in your config file, or pass --url", name),
	}
}

// ErrMineOffline returns an error when a mine is unreachable with smart suggestions.
func ErrMineOffline(name, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("mine %s is unreachable: %s", name, reason),
		Suggestion: getSmartSuggestion(reason),
	}
}

// getSmartSuggestion returns a context-aware suggestion based on the error reason.
func getSmartSuggestion(reason string) string {
	lowerReason := strings.ToLower(reason)

	if strings.Contains(lowerReason, "no such host") || strings.Contains(lowerReason, "dns") {
		return "Check the mine URL and your DNS settings"
	}

	if strings.Contains(lowerReason, "connection refused") {
		return "Check that the mine is running and the URL port is correct"
	}

	if strings.Contains(lowerReason, "timeout") || strings.Contains(lowerReason, "i/o timeout") {
		return "The mine may be slow or unreachable. Try again later or raise 'timeout' in the config"
	}

	return "Check your internet connection and try again"
}

// ErrTokenNotFound returns an error when an operation needs an API token and none is stored.
func ErrTokenNotFound(mine, user string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no API token found for %s user %s", mine, user),
		Suggestion: fmt.Sprintf("Run 'mineat credentials set %s %s --prompt' or export MINEAT_%s_TOKEN", mine, user, strings.ToUpper(mine)),
	}
}

// ErrAuthenticationFailed returns an error when the mine rejects the token.
func ErrAuthenticationFailed(mine string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("authentication failed for %s", mine),
		Suggestion: "Verify your API token is correct and has not been revoked",
	}
}

// ErrInvalidOutputFormat returns an error for an unknown output format.
func ErrInvalidOutputFormat(format string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid output format: %s", format),
		Suggestion: "Valid options: text, json",
	}
}
