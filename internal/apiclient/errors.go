package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors classifying upstream failures. Callers use errors.Is to
// decide whether a stage failure was a data-contract violation or a retry
// budget exhaustion.
var (
	// ErrExhausted reports that every retry attempt failed.
	ErrExhausted = errors.New("retry budget exhausted")
	// ErrMalformed reports a structurally invalid payload; never retried.
	ErrMalformed = errors.New("malformed payload")
	// ErrNotFound reports a 404 from the upstream; never retried.
	ErrNotFound = errors.New("not found upstream")
)

// statusError carries a non-2xx HTTP status code.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream status %d %s", e.code, http.StatusText(e.code))
}

func errors429(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusTooManyRequests
}

// Malformed wraps a parse failure so it is classified as non-retryable.
func Malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}
