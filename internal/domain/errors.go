package domain

import "errors"

// Sentinel errors for the admin authentication gateway.
// Match with errors.Is; never compare error strings.
var (
	// Token errors. All of these collapse to "unauthenticated" at the edge
	// and in page resolution.
	ErrInvalidToken = errors.New("invalid access token")
	ErrUnknownKey   = errors.New("no verification key for token")
	ErrNoToken      = errors.New("no access token present")
	ErrUnauthorized = errors.New("authentication required")

	// Identity service errors
	ErrNetwork      = errors.New("identity service request failed")
	ErrUnavailable  = errors.New("identity service temporarily unavailable")
	ErrInvalidInput = errors.New("invalid input")

	// Throttling
	ErrRateLimited = errors.New("too many attempts")

	// Configuration errors. Fatal at startup, never recovered per request.
	ErrConfigRequired = errors.New("required configuration key missing")
	ErrInvalidConfig  = errors.New("invalid configuration value")
)

// IsUnauthenticated reports whether err means the caller must be treated
// as logged out.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrUnknownKey) ||
		errors.Is(err, ErrNoToken) ||
		errors.Is(err, ErrUnauthorized)
}

// IsRetryable returns true if the error represents a transient condition
// on the identity service side.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsConfigError returns true for startup configuration failures.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfigRequired) || errors.Is(err, ErrInvalidConfig)
}
