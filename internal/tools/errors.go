package tools

import "errors"

// Tool registry errors.
var (
	// ErrToolNotFound is returned when a tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolNameEmpty is returned when a tool has no name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrToolExecuteNil is returned when a tool has no execute function.
	ErrToolExecuteNil = errors.New("tool execute function cannot be nil")

	// ErrToolAlreadyRegistered is returned when registering a duplicate.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrMissingRequiredArg is returned when a required argument is missing.
	ErrMissingRequiredArg = errors.New("missing required argument")

	// ErrPreconditionFailed is returned when a step's precondition does
	// not hold.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrBinaryNotAllowed is returned when shell_exec is asked to run a
	// binary outside the allow list.
	ErrBinaryNotAllowed = errors.New("binary not allowed")

	// ErrPathOutsideRoot is returned when a path argument escapes the
	// workspace root.
	ErrPathOutsideRoot = errors.New("path outside workspace root")
)
