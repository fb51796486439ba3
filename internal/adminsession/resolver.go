// Package adminsession resolves the admin session for a server-rendered
// request from the mirrored token cookie.
package adminsession

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/appadook/portfolio-website-sub001/internal/auth"
	"github.com/appadook/portfolio-website-sub001/internal/cookie"
	"github.com/appadook/portfolio-website-sub001/internal/domain"
)

var tracer = otel.Tracer("adminsession")

var resolutionsTotal metric.Int64Counter

func init() {
	m := otel.Meter("adminsession")

	resolutionsTotal, _ = m.Int64Counter("admin_session_resolutions_total",
		metric.WithDescription("Session resolutions by result"))
}

// Verifier checks a token. *auth.Guard satisfies it.
type Verifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// ProfileFetcher loads the profile behind a token. *identity.Client
// satisfies it.
type ProfileFetcher interface {
	Me(ctx context.Context, accessToken string) (*domain.User, error)
}

// Session is the verified admin identity for one request. It is never
// cached or persisted.
type Session struct {
	User   domain.User  `json:"user"`
	Claims *auth.Claims `json:"claims"`
}

type Config struct {
	Verifier   Verifier
	Profiles   ProfileFetcher
	CookieName string
	Logger     *slog.Logger
}

// Resolver builds Sessions. It holds no per-request state.
type Resolver struct {
	verifier   Verifier
	profiles   ProfileFetcher
	cookieName string
	logger     *slog.Logger
}

func New(cfg Config) *Resolver {
	name := cfg.CookieName
	if name == "" {
		name = domain.DefaultCookieName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		verifier:   cfg.Verifier,
		profiles:   cfg.Profiles,
		cookieName: name,
		logger:     logger,
	}
}

// Resolve returns the session for r, or nil when the caller is not an
// authenticated admin. A failed profile fetch still yields a session built
// from the verified claims; any other failure yields nil.
func (res *Resolver) Resolve(ctx context.Context, r *http.Request) *Session {
	// A missing cookie resolves as an empty token: no_token, no network.
	token, _ := cookie.Read(r, res.cookieName)
	return res.ResolveToken(ctx, token)
}

// ResolveToken is Resolve for a token obtained some other way than the
// request cookie.
func (res *Resolver) ResolveToken(ctx context.Context, token string) *Session {
	ctx, span := tracer.Start(ctx, "adminsession.resolve")
	defer span.End()

	sess, result, err := res.resolve(ctx, token)
	span.SetAttributes(attribute.String("session.result", result))
	resolutionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	if err != nil {
		res.logger.DebugContext(ctx, "admin session not resolved",
			slog.String("result", result), slog.Any("error", err))
		return nil
	}
	return sess
}

func (res *Resolver) resolve(ctx context.Context, token string) (sess *Session, result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			sess, result, err = nil, "panic", fmt.Errorf("resolve session: panic: %v", p)
		}
	}()

	if token == "" {
		return nil, "no_token", domain.ErrNoToken
	}

	claims, err := res.verifier.Verify(ctx, token)
	if err != nil {
		if domain.IsUnauthenticated(err) {
			return nil, "invalid", err
		}
		return nil, "error", err
	}

	result = "ok"
	profile, err := res.profiles.Me(ctx, token)
	if err != nil {
		res.logger.DebugContext(ctx, "profile unavailable, using claims", slog.Any("error", err))
		profile = nil
		result = "claims_only"
	}

	return &Session{User: buildUser(profile, claims), Claims: claims}, result, nil
}

func buildUser(profile *domain.User, claims *auth.Claims) domain.User {
	u := domain.User{ID: claims.Subject, Email: claims.Email}
	if profile != nil && profile.ID != "" {
		u.ID = profile.ID
	}
	if profile != nil && profile.Email != "" {
		u.Email = profile.Email
	}
	if u.Email == "" {
		u.Email = domain.FallbackAdminEmail
	}
	return u
}
