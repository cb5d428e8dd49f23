package domain

import "errors"

var (
	// ErrInvalidArgument marks malformed local input, e.g. a negative delay.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks a local lookup miss for a session, sequence or step.
	ErrNotFound = errors.New("not found")
)
