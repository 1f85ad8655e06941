package mcp

import (
	"errors"
	"fmt"

	"github.com/ganot/desksync/internal/domain/membership"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/ganot/desksync/internal/engine"
)

// ErrUnknownAction is returned by the dictate tool for an unknown action.
var ErrUnknownAction = errors.New("unknown dictation action")

// APIError represents an MCP error response.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.RecoveryHint == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.RecoveryHint)
}

// MapError maps engine errors to MCP error codes. Unknown errors map to nil.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, scope.ErrInvalidScope), errors.Is(err, membership.ErrInvalidScope):
		return &APIError{Code: "INVALID_SCOPE", Message: "invalid scope", RecoveryHint: "Use global, ticket:<id> or chat:<id>"}
	case errors.Is(err, engine.ErrNotOpen):
		return &APIError{Code: "SCOPE_NOT_OPEN", Message: "scope is not open", RecoveryHint: "Call open_scope first"}
	case errors.Is(err, engine.ErrEmptyContent):
		return &APIError{Code: "EMPTY_CONTENT", Message: "content is empty"}
	case errors.Is(err, engine.ErrReadOnlyScope):
		return &APIError{Code: "READ_ONLY_SCOPE", Message: "scope does not accept submissions", RecoveryHint: "Submit to a ticket or chat scope"}
	case errors.Is(err, engine.ErrClosed):
		return &APIError{Code: "ENGINE_CLOSED", Message: "sync engine is closed"}
	case errors.Is(err, ErrUnknownAction):
		return &APIError{Code: "UNKNOWN_ACTION", Message: err.Error(), RecoveryHint: "Use start, interim, final, edit, reset, stop or get"}
	default:
		return nil
	}
}

func toolError(err error) error {
	if apiErr := MapError(err); apiErr != nil {
		return apiErr
	}
	return err
}
