package drivers

import (
	"errors"

	"github.com/sashko-guz/spacer/internal/metrics"
)

var (
	// ErrNotFound is returned by Load and Delete when the key has no value.
	ErrNotFound = errors.New("artifact not found")
	// ErrUnsupported is returned when a backend lacks the requested capability.
	ErrUnsupported = errors.New("operation not supported by backend")
	// ErrInput is returned when a caller supplied key or URL is malformed or unreachable.
	ErrInput = errors.New("invalid input")
)

// observe records the outcome of a backend operation.
func observe(kind, op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrUnsupported):
		result = "unsupported"
	case errors.Is(err, ErrInput):
		result = "input_error"
	default:
		result = "error"
	}
	metrics.BackendOperations.WithLabelValues(kind, op, result).Inc()
}
