package coretypes

import "errors"

// Error kinds recognised across the core. Callers classify failures with
// errors.Is against these sentinels; call sites wrap them with fmt.Errorf
// and %w to add context without losing the kind.
var (
	// ErrTransport covers object-store and external HTTP failures that are
	// expected to be retried on the next tick or next client request.
	ErrTransport = errors.New("transport error")

	// ErrNotFound covers a missing object in the store or a missing record
	// on disk.
	ErrNotFound = errors.New("not found")

	// ErrIOError covers local filesystem failures on write or delete.
	ErrIOError = errors.New("io error")

	// ErrValidation covers malformed but well-formed-enough inbound frames
	// that warrant an error response rather than silence.
	ErrValidation = errors.New("validation error")

	// ErrProtocol covers malformed JSON or frames missing required fields.
	// Callers ignore these silently.
	ErrProtocol = errors.New("protocol error")

	// ErrFatal covers init-time failures that should terminate the process.
	ErrFatal = errors.New("fatal error")
)
