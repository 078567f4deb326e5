package shared

import "errors"

var (
	// ErrNotFound indicates a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the operation is not permitted regardless of caller.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates malformed or inconsistent input.
	ErrValidation = errors.New("validation failed")
)
