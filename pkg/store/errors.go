package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no resource exists at the requested id.
	ErrNotFound = errors.New("resource not found")

	// ErrPreconditionRequired is returned when a write targets an existing
	// resource without presenting its etag.
	ErrPreconditionRequired = errors.New("etag is missing")

	// ErrPreconditionFailed is returned when the presented etag does not
	// match the stored one.
	ErrPreconditionFailed = errors.New("etag does not match")

	// ErrNothingToUpdate is returned by Patch when the patch recognized no field.
	ErrNothingToUpdate = errors.New("nothing to update")

	// ErrSerialization is returned when a payload has no canonical encoding.
	ErrSerialization = errors.New("serialization error")

	// ErrInvalidID is returned for ids outside the valid range.
	ErrInvalidID = errors.New("invalid id")

	// ErrIDsExhausted is returned by Create once MaxID has been assigned.
	ErrIDsExhausted = errors.New("no ids left to assign")

	// ErrInvalidPage is returned for page or per_page values below one.
	ErrInvalidPage = errors.New("page and per_page must be at least 1")
)

// PreconditionError describes an etag mismatch.
type PreconditionError struct {
	ID       int
	Expected string
	Current  string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("etag does not match for id %d", e.ID)
}

// Is reports PreconditionError as ErrPreconditionFailed.
func (e *PreconditionError) Is(target error) bool {
	return target == ErrPreconditionFailed
}
