package apperrors

import "errors"

var (
	// ErrNotFound signals that a requested listing does not exist. Handlers
	// translate it to a 404; repositories never leak pgx.ErrNoRows past it.
	ErrNotFound = errors.New("not found")

	// ErrValidation signals malformed input (bad date format, property value
	// not matching its declared type). Raised before any store mutation.
	ErrValidation = errors.New("validation failed")

	// ErrConflict signals a uniqueness conflict that could not be resolved
	// internally. The property resolver's create race is not reported through
	// this: the resolver re-reads and uses the winning row.
	ErrConflict = errors.New("conflict")
)
