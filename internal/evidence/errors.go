package evidence

import "errors"

var (
	// ErrNotFound is returned when a query references an execution id
	// that does not exist in the log.
	ErrNotFound = errors.New("execution not found")

	// ErrQuery wraps database faults during evidence reads.
	ErrQuery = errors.New("evidence query failed")
)
