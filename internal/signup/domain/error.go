package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrInvalid              = errors.New("invalid")
	ErrEmailAlreadyInUse    = errors.New("email_already_in_use")
	ErrPasswordTooShort     = errors.New("password_too_short")
	ErrUsernameTooLong      = errors.New("username_too_long")
	ErrUsernameAlreadyTaken = errors.New("username_already_taken")
)

// IsInputError reports failures caused by the submitted fields themselves.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalid) ||
		errors.Is(err, ErrPasswordTooShort) ||
		errors.Is(err, ErrUsernameTooLong)
}

// IsConflictError reports uniqueness violations the user can resolve.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrEmailAlreadyInUse) ||
		errors.Is(err, ErrUsernameAlreadyTaken)
}

// ValidationError lists the request fields that failed shape checks. It
// matches ErrInvalid.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "invalid: " + strings.Join(names, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}
