package models

import "errors"

var (
	// ErrNotFound is returned when a lookup by identifier finds nothing.
	ErrNotFound = errors.New("not found")

	// ErrNothingToCommit is returned by Commit when there is no live
	// document for the requested id. No version record is written.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrInvalidID is returned when an operation needs a non-empty id.
	ErrInvalidID = errors.New("invalid id")

	// ErrInvalidField is returned for filter or sort field names that
	// cannot be addressed.
	ErrInvalidField = errors.New("invalid field name")
)
