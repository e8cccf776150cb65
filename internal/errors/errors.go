// Package errors provides the small set of error helpers used throughout
// raftkv. It exists so that every package constructs and wraps errors the
// same way instead of mixing fmt.Errorf, errors.New, and ad-hoc strings.
package errors

import (
	"errors"
	"fmt"
)

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// WrapError wraps err with additional context. If err is nil, WrapError
// returns nil.
func WrapError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
