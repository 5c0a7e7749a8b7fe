package models

import (
	"errors"
	"fmt"
)

// Error kinds shared by every layer. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a username that is already taken.
	ErrConflict = errors.New("username already exists")
	// ErrNotFound marks an operation on an account that does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrAuth marks bad credentials or an invalid token.
	ErrAuth = errors.New("unauthorized")
	// ErrDependency marks an unreachable or failing cache or database.
	ErrDependency = errors.New("dependency failure")
)

// Error pairs an error kind with a message that is safe to show to clients.
type Error struct {
	Kind error
	Msg  string
}

// Errorf builds an Error of the given kind.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }
