package types

import "fmt"

// ErrorCode represents a unified error code across the library.
type ErrorCode string

// Budget enforcement error codes
const (
	ErrBudgetExceeded    ErrorCode = "BUDGET_EXCEEDED"
	ErrTurnLimitExceeded ErrorCode = "TURN_LIMIT_EXCEEDED"
	ErrTokenCountFailed  ErrorCode = "TOKEN_COUNT_FAILED"
	ErrModelNotFound     ErrorCode = "MODEL_NOT_FOUND"
)

// Lifecycle error codes
const (
	ErrInterceptorActive ErrorCode = "INTERCEPTOR_ACTIVE"
	ErrInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
)

// BudgetExceededError is returned when a run's projected or accumulated
// spend reaches its dollar ceiling.
type BudgetExceededError struct {
	RunID     string  `json:"run_id"`
	BudgetUSD float64 `json:"budget_usd"`
	SpentUSD  float64 `json:"spent_usd"`
	LastModel string  `json:"last_model"`
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("[%s] budget exceeded: $%.2f / $%.2f on run %s",
		ErrBudgetExceeded, e.SpentUSD, e.BudgetUSD, e.RunID)
}

// TurnLimitError is returned when a run reaches its maximum call count.
// CurrentTurn is the turn the rejected call would have been.
type TurnLimitError struct {
	RunID       string `json:"run_id"`
	MaxTurns    int    `json:"max_turns"`
	CurrentTurn int    `json:"current_turn"`
}

func (e *TurnLimitError) Error() string {
	return fmt.Sprintf("[%s] turn limit exceeded: %d / %d on run %s",
		ErrTurnLimitExceeded, e.CurrentTurn, e.MaxTurns, e.RunID)
}

// TokenCountError is returned when a token counting backend fails.
// It is advisory: call paths recover from it with a zero estimate.
type TokenCountError struct {
	Model string `json:"model,omitempty"`
	Cause error  `json:"-"`
}

func (e *TokenCountError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] token counting failed for %s: %v", ErrTokenCountFailed, e.Model, e.Cause)
	}
	return fmt.Sprintf("[%s] token counting failed for %s", ErrTokenCountFailed, e.Model)
}

// Unwrap returns the underlying cause.
func (e *TokenCountError) Unwrap() error {
	return e.Cause
}

// UnknownModelError is returned when a model is absent from every
// configured pricing source. Model is the original, unresolved name.
type UnknownModelError struct {
	Model string `json:"model"`
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("[%s] unknown model: %s", ErrModelNotFound, e.Model)
}

// Error represents a structured error with code and message, used for
// conditions that carry no dedicated payload.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	switch err.(type) {
	case *BudgetExceededError:
		return ErrBudgetExceeded
	case *TurnLimitError:
		return ErrTurnLimitExceeded
	case *TokenCountError:
		return ErrTokenCountFailed
	case *UnknownModelError:
		return ErrModelNotFound
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
