// Package errmap translates domain errors into HTTP responses without
// leaking internal detail.
package errmap

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/appadook/portfolio-website-sub001/internal/domain"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e HTTPError) Error() string {
	return e.Message
}

type httpMapping struct {
	err        error
	statusCode int
	code       string
	message    string
}

// httpMappings maps domain errors to HTTP status codes and public messages.
// Order matters: first match wins (via errors.Is). Every token failure is
// reported the same way so callers cannot probe why a token was refused.
var httpMappings = []httpMapping{
	// Unauthenticated
	{domain.ErrInvalidToken, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required"},
	{domain.ErrUnknownKey, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required"},
	{domain.ErrNoToken, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required"},

	// Validation errors
	{domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request"},

	// Throttling
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "too many attempts"},

	// Upstream identity service
	{domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE", "identity service unavailable"},
	{domain.ErrNetwork, http.StatusBadGateway, "BAD_GATEWAY", "identity service request failed"},
}

// ToHTTPError converts a domain error to an HTTP error.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}
	for _, m := range httpMappings {
		if errors.Is(err, m.err) {
			return HTTPError{StatusCode: m.statusCode, Code: m.code, Message: m.message}
		}
	}
	// Never expose internal error details to clients
	return HTTPError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal error"}
}

// ToHTTPStatusCode extracts just the HTTP status code for a domain error.
func ToHTTPStatusCode(err error) int {
	return ToHTTPError(err).StatusCode
}

// WriteError writes err as a JSON error body with its mapped status.
func WriteError(w http.ResponseWriter, err error) {
	httpErr := ToHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(httpErr.StatusCode)
	_ = json.NewEncoder(w).Encode(httpErr)
}
