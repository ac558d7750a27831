package shortener

import "errors"

var (
	// ErrNotFound is returned when no live link exists for a code.
	ErrNotFound = errors.New("link not found")
	// ErrConflict is returned when creating a link whose code is already taken.
	ErrConflict = errors.New("code already exists")
	// ErrInvalidArgument is returned for malformed codes or destinations.
	ErrInvalidArgument = errors.New("invalid argument")
)
