package engine

import (
	"errors"
	"fmt"
)

// Stable error kinds returned by the engine. Handlers map these to HTTP
// statuses; everything else is an internal error.
var (
	ErrValidation = errors.New("validation error")
	// ErrInvalidRange is a ValidationError for out-of-bounds numeric fields.
	ErrInvalidRange = fmt.Errorf("%w: value out of range", ErrValidation)

	ErrNotFound      = errors.New("session not found")
	ErrNotActive     = errors.New("session not active")
	ErrNotMember     = errors.New("not an active participant")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyMember = errors.New("already a participant")
	ErrAlreadyEnded  = errors.New("session already ended")
	ErrSessionFull   = errors.New("session is full")
)
