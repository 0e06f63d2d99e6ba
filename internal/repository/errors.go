package repository

import "errors"

var (
	// ErrNotFound is returned by Repository.Inspect when a record is absent
	// or invisible under scope. Backend stores do not return it (they return
	// their own errors from GetByID), and Forget reports the same case as a
	// false boolean with a nil error.
	ErrNotFound = errors.New("repository: memory not found")

	// ErrForbidden signals a scope/ownership rule rejected an
	// otherwise-well-formed request.
	ErrForbidden = errors.New("repository: forbidden")

	ErrValidation = errors.New("repository: validation failed")
)
