package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/crmarques/portsync/faults"
)

type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

func IsNotFoundError(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusNotFound
	}
	return false
}

// categorize translates a transport-level failure into the engine's error
// taxonomy. A timeout or connection failure is always a TransportError,
// never mistaken for a missing resource.
func categorize(err error) *faults.TypedError {
	var typedErr *faults.TypedError
	if errors.As(err, &typedErr) {
		return typedErr
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return faults.NewTypedError(faults.TransportError, "request failed", err)
	}

	detail := fmt.Sprintf("%s %s returned status %d", httpErr.Method, httpErr.URL, httpErr.StatusCode)
	if len(httpErr.Body) > 0 {
		detail = detail + ": " + limitBody(httpErr.Body)
	}

	switch {
	case httpErr.StatusCode == http.StatusNotFound:
		return faults.NewTypedError(faults.NotFoundError, detail, err)
	case httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden:
		return faults.NewTypedError(faults.AuthError, detail, err)
	case httpErr.StatusCode == http.StatusConflict:
		return faults.NewTypedError(faults.ConflictError, detail, err)
	case httpErr.StatusCode == http.StatusBadRequest || httpErr.StatusCode == http.StatusUnprocessableEntity:
		return faults.NewTypedError(faults.ValidationError, detail, err)
	default:
		return faults.NewTypedError(faults.TransportError, detail, err)
	}
}

const maxErrorBodyCharacters = 512

func limitBody(body []byte) string {
	trimmed := string(body)
	if len(trimmed) <= maxErrorBodyCharacters {
		return trimmed
	}
	return trimmed[:maxErrorBodyCharacters] + "... (truncated)"
}
