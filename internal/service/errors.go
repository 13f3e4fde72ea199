package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejected input; the wrapped message names the field.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized missing, invalid or expired credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoPatient the account has no patient profile yet.
	ErrNoPatient = errors.New("no patient profile for user")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
