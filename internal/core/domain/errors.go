package domain

import "errors"

// Error kinds used across the service. Lower layers map transport failures
// onto these so callers can branch with errors.Is without knowing the
// underlying library.
var (
	// ErrUnavailable means the transport could not be established.
	ErrUnavailable = errors.New("transport unavailable")

	// ErrAuth means credentials were rejected. Non-retriable.
	ErrAuth = errors.New("authentication rejected")

	// ErrTimeout means a per-operation deadline expired.
	ErrTimeout = errors.New("operation timed out")

	// ErrCircuitOpen means the circuit breaker is open and the call was
	// rejected without touching the transport.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrCancelled means the caller cancelled the operation.
	ErrCancelled = errors.New("operation cancelled")

	// ErrParse means device output could not be parsed.
	ErrParse = errors.New("malformed device output")

	// ErrUnknownSuggestion means the suggestion token does not exist or was
	// already consumed or superseded.
	ErrUnknownSuggestion = errors.New("unknown suggestion token")

	// ErrUnknownDevice means the device address is not in the current snapshot.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrUnknownNode means the node id is not in the current snapshot.
	ErrUnknownNode = errors.New("unknown node")

	// ErrInsufficientData means triangulation or wall detection lacks the
	// minimum number of usable samples.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvariant is fatal for the current scan.
	ErrInvariant = errors.New("invariant violation")
)
