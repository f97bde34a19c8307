package store

import "errors"

// Store errors.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmptyID is returned when a record carries no id.
	ErrEmptyID = errors.New("empty id")

	// ErrStorage wraps persistence and serialization faults. Always
	// surfaced, never silently swallowed.
	ErrStorage = errors.New("storage error")
)
