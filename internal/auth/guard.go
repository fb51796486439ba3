// Package auth verifies admin access tokens.
//
// Verification is purely cryptographic: signature against a key set,
// issuer, audience, and expiry. It never asks the identity service who the
// caller is, so the edge gate and the page resolver can both run it without
// depending on that service being up.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/appadook/portfolio-website-sub001/internal/config"
	"github.com/appadook/portfolio-website-sub001/internal/domain"
)

var tracer = otel.Tracer("auth")

var (
	verifyFailuresTotal metric.Int64Counter
	jwksRefreshTotal    metric.Int64Counter
)

func init() {
	m := otel.Meter("auth")

	verifyFailuresTotal, _ = m.Int64Counter("auth_verify_failures_total",
		metric.WithDescription("Access tokens rejected by the guard"))
	jwksRefreshTotal, _ = m.Int64Counter("auth_jwks_refresh_total",
		metric.WithDescription("Key set fetches by result"))
}

// ErrTokenExpired is returned (wrapped) when a validly signed token has
// expired. Callers can match it with errors.Is without importing the JWT
// library.
var ErrTokenExpired = jwt.ErrTokenExpired

// validMethods lists the asymmetric algorithms a key set can verify.
// Symmetric algorithms are never accepted: the key set is public.
var validMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// Guard validates access tokens against a key set, issuer, and audience.
// A Guard is immutable after construction and safe for concurrent use.
type Guard struct {
	keys     KeyStore
	issuer   string
	audience string
	clock    domain.Clock
}

// GuardConfig holds configuration for creating a Guard.
type GuardConfig struct {
	Verification config.VerificationConfig
	KeyStore     KeyStore
	Clock        domain.Clock
}

// NewGuard creates a Guard.
func NewGuard(cfg GuardConfig) *Guard {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Guard{
		keys:     cfg.KeyStore,
		issuer:   cfg.Verification.Issuer,
		audience: cfg.Verification.Audience,
		clock:    clock,
	}
}

// Verify parses and fully validates token. Every failure wraps
// domain.ErrInvalidToken.
func (g *Guard) Verify(ctx context.Context, token string) (*Claims, error) {
	ctx, span := tracer.Start(ctx, "auth.verify")
	defer span.End()

	claims, err := g.verify(ctx, token)
	if err != nil {
		reason := failureReason(err)
		verifyFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		span.SetAttributes(attribute.String("auth.failure_reason", reason))
		span.SetStatus(codes.Error, reason)
		return nil, err
	}

	span.SetAttributes(attribute.String("auth.subject", claims.Subject))
	return claims, nil
}

func (g *Guard) verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidToken, domain.ErrNoToken)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, g.keyFunc(ctx),
		jwt.WithIssuer(g.issuer),
		jwt.WithAudience(g.audience),
		jwt.WithValidMethods(validMethods),
		jwt.WithTimeFunc(g.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", domain.ErrInvalidToken)
	}

	return &claims, nil
}

func (g *Guard) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return g.keys.PublicKey(ctx, kid)
	}
}

// failureReason buckets a verification error for metrics and spans.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoToken):
		return "missing"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "audience"
	case errors.Is(err, domain.ErrUnknownKey):
		return "unknown_key"
	case errors.Is(err, domain.ErrNetwork):
		return "jwks_unavailable"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	default:
		return "invalid"
	}
}
