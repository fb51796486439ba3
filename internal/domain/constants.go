package domain

import "time"

// Compiled defaults. Each can be overridden through configuration.
const (
	// Cookie mirror
	DefaultCookieName = "way_admin_token"

	// Protected area
	DefaultProtectedPrefix = "/admin"
	DefaultLoginPath       = "/admin/login"
	DefaultSignupPath      = "/admin/signup"
	NextQueryParam         = "next"

	// Identity used when neither the profile nor the claims carry an email.
	FallbackAdminEmail = "admin@way.local"

	// Verification defaults
	DefaultAudience        = "way-admin"
	DefaultJWKSPath        = "/jwks"
	JWKSRefreshInterval    = 10 * time.Minute
	JWKSMinRefetchInterval = 30 * time.Second
	IdentityRequestTimeout = 5 * time.Second
	RedisTimeout           = 2 * time.Second

	// Persisted token TTL. Access tokens are short-lived; the persisted copy
	// never outlives the longest token the identity service issues.
	PersistedTokenTTL = 1 * time.Hour

	// Credential submission throttle, per client address
	LoginAttemptLimit  = 10
	LoginAttemptWindow = 5 * time.Minute

	// Graceful shutdown
	ShutdownDrainDelay      = 2 * time.Second
	ShutdownHTTPTimeout     = 10 * time.Second
	ShutdownOTELTimeout     = 5 * time.Second
	GracefulShutdownTimeout = 30 * time.Second
)

// User is the identity-service view of an admin account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
