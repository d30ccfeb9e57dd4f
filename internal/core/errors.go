package core

import "errors"

// Error kinds surfaced by the worker's collaborators. Each stage of a job maps
// its failures onto exactly one of these, so every published outcome names the
// stage that caused it.
var (
	// ErrModelUnavailable indicates that a voice model could not be fetched
	// or verified within the configured retry budget.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInvalidInput indicates that a synthesis request carried unusable
	// input, such as empty text.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEngineFailure indicates that the underlying synthesis engine
	// crashed or timed out.
	ErrEngineFailure = errors.New("engine failure")
	// ErrStorageUnavailable indicates that the object store rejected an
	// upload for the whole retry budget.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrConnectionLost indicates that a broker operation failed because
	// the connection was down.
	ErrConnectionLost = errors.New("broker connection lost")
	// ErrMalformedMessage indicates that an inbound broker message could
	// not be decoded into a job request.
	ErrMalformedMessage = errors.New("malformed message")
)

// Outcome error-kind identifiers carried on the wire.
const (
	KindModelUnavailable   = "model_unavailable"
	KindInvalidInput       = "invalid_input"
	KindEngineFailure      = "engine_failure"
	KindStorageUnavailable = "storage_unavailable"
	KindInternal           = "internal"
)

// KindOf maps an error to the outcome error-kind identifier published to the
// broker. Errors outside the known kinds are reported as internal.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrModelUnavailable):
		return KindModelUnavailable
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrEngineFailure):
		return KindEngineFailure
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	default:
		return KindInternal
	}
}
