package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/appadook/portfolio-website-sub001/internal/domain"
)

// APIError is a non-2xx answer from the identity service.
type APIError struct {
	Status  int
	Message string // from the response payload; may be empty
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("identity service returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("identity service returned %d", e.Status)
}

// Unwrap classifies the failure: every APIError is a domain.ErrNetwork,
// and server-side or throttling statuses are also domain.ErrUnavailable.
func (e *APIError) Unwrap() []error {
	if e.Status >= 500 || e.Status == http.StatusTooManyRequests {
		return []error{domain.ErrNetwork, domain.ErrUnavailable}
	}
	return []error{domain.ErrNetwork}
}

// newAPIError extracts a message from the service's error payload. The
// service is not consistent about the shape, so several are accepted:
// {"message": ".."}, {"error": ".."}, {"error": {"message": ".."}},
// {"error_description": ".."}.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var payload struct {
		Message          string          `json:"message"`
		Error            json.RawMessage `json:"error"`
		ErrorDescription string          `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiErr
	}

	switch {
	case payload.Message != "":
		apiErr.Message = payload.Message
	case payload.ErrorDescription != "":
		apiErr.Message = payload.ErrorDescription
	case len(payload.Error) > 0:
		var s string
		if json.Unmarshal(payload.Error, &s) == nil {
			apiErr.Message = s
			break
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &nested) == nil {
			apiErr.Message = nested.Message
		}
	}
	apiErr.Message = strings.TrimSpace(apiErr.Message)
	return apiErr
}

// NormalizeError turns any login or signup failure into a message fit to
// show the person at the keyboard. It is the only place such text is made.
func NormalizeError(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		switch {
		case apiErr.Status == http.StatusBadRequest:
			return "Please check your email and password and try again."
		case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
			return "Invalid email or password."
		case apiErr.Status == http.StatusConflict:
			return "An account with this email already exists."
		case apiErr.Status == http.StatusTooManyRequests:
			return "Too many attempts. Please wait a moment and try again."
		case apiErr.Status >= 500:
			return "The sign-in service is unavailable. Please try again shortly."
		default:
			return fmt.Sprintf("Request failed with status %d.", apiErr.Status)
		}
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "Email and password are required."
	case errors.Is(err, context.DeadlineExceeded):
		return "The sign-in service took too long to respond. Please try again."
	case errors.Is(err, domain.ErrNetwork):
		return "Unable to reach the sign-in service. Check your connection and try again."
	default:
		return "Something went wrong. Please try again."
	}
}
