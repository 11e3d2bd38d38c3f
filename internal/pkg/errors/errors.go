package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidOutcome marks an outcome value outside success/partial/failed.
	ErrInvalidOutcome = errors.New("outcome must be success, partial, or failed")
	// ErrInvalidPatternType marks a pattern type outside the known four.
	ErrInvalidPatternType = errors.New("invalid pattern type")
	// ErrInvalidRange marks an expected range whose min is not below its max.
	ErrInvalidRange = errors.New("expected range must have min < max")
)
