// Package apperr defines the typed error taxonomy surfaced to clients as
// `error{code, message}` socket events or callback acknowledgements.
package apperr

import "fmt"

// Code identifies a specific failure reason understood by both server
// and client.
type Code string

const (
	// Validation
	CodeValidationError Code = "VALIDATION_ERROR"
	CodeOutOfRange      Code = "OUT_OF_RANGE"
	CodeInvalidClaim    Code = "INVALID_CLAIM"
	CodeInvalidPlayer   Code = "INVALID_PLAYER"

	// Authorization
	CodeForbidden     Code = "FORBIDDEN"
	CodeUnauthorized  Code = "UNAUTHORIZED"

	// State
	CodeGameNotFound           Code = "GAME_NOT_FOUND"
	CodeGameNotActive          Code = "GAME_NOT_ACTIVE"
	CodeGameAlreadyStarted     Code = "GAME_ALREADY_STARTED"
	CodeInvalidStatus          Code = "INVALID_STATUS"
	CodeNoPlayers              Code = "NO_PLAYERS"
	CodeCategoryAlreadyWon     Code = "CATEGORY_ALREADY_WON"
	CodeCategoryAlreadyClaimed Code = "CATEGORY_ALREADY_CLAIMED"
	CodeNumberAlreadyCalled    Code = "NUMBER_ALREADY_CALLED"
	CodeNumberNotCalled        Code = "NUMBER_NOT_CALLED"
	CodePlayerNotFound         Code = "PLAYER_NOT_FOUND"
	CodeNoNumbersRemaining     Code = "NO_NUMBERS_REMAINING"

	// Infrastructure
	CodeHandlerError Code = "HANDLER_ERROR"
)

// Error is a typed, user-visible failure. It satisfies the standard
// error interface so it can be returned and wrapped like any other Go
// error, and unwrapped again with errors.As at the ingress boundary.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Is allows errors.Is(err, apperr.New(code, "")) to match on code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
