package protocol

import "errors"

// Error kinds surfaced to clients as negative acknowledgements. Handlers wrap
// these with context via fmt.Errorf("...: %w", ...); the gateway unwraps to
// pick the short client-facing message and logs the full cause.
var (
	// ErrNotAuthenticated: operation attempted before USER_JOIN_SERVER.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrPermissionDenied: required permission flag absent.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidInput: empty content, missing channel name, bad payload.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound: referenced channel/transport/consumer/producer absent.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed: wrong handshake order, wrong direction
	// transport, cannot consume producer with given capabilities.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrBackendFailure: durable store, presence store, or SFU operation
	// raised an internal error.
	ErrBackendFailure = errors.New("backend failure")
)

// ClientMessage maps an error to the short message placed in the ack. Unknown
// errors are reported as a backend failure so internals never leak.
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return "not authenticated"
	case errors.Is(err, ErrPermissionDenied):
		return "permission denied"
	case errors.Is(err, ErrInvalidInput):
		return "invalid input"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrPreconditionFailed):
		return "precondition failed"
	default:
		return "internal error"
	}
}
