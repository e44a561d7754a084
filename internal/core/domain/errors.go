package domain

import "errors"

var (
	// ErrInvalidInput is returned when a required field is missing or
	// malformed. Rejected synchronously, never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidFee is returned when a submission's fee does not parse as a
	// positive decimal amount.
	ErrInvalidFee = errors.New("fee amount must be a positive decimal")

	// ErrNotFound is returned when a job, node or content block does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotOwner is returned when a node reports completion or failure for a
	// job it does not hold. Logged as a potential integrity anomaly.
	ErrNotOwner = errors.New("job is held by a different node")

	// ErrStoreUnavailable marks shared-store connectivity failures. Services
	// degrade mutations to logged no-ops instead of surfacing it to callers.
	ErrStoreUnavailable = errors.New("shared state store unavailable")
)
