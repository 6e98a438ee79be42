package delivery

import "errors"

var (
	// ErrNotFound is returned when a delivery or driver does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the actor may not act on the delivery.
	ErrUnauthorized = errors.New("not authorized")
	// ErrValidation wraps malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition is returned for moves the status graph forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict is returned when a record with the same identity exists.
	ErrConflict = errors.New("conflict")
	// ErrDriverUnavailable is returned when claiming a driver that is not available.
	ErrDriverUnavailable = errors.New("driver unavailable")
)
