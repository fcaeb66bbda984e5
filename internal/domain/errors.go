// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a request failed input validation.
// Wrap it with fmt.Errorf("%w: detail", ErrValidation).
var ErrValidation = errors.New("validation failed")

// ErrConflict indicates the entity is in a state that forbids the operation.
var ErrConflict = errors.New("conflict")
